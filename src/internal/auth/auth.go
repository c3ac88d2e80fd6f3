package auth

import "strings"

type Route struct {
	Name         string
	Path         string
	RequiresAuth bool
}

const (
	RouteHome        = "home"
	RouteLogin       = "login"
	RouteProfile     = "profile"
	RouteSendRecords = "sendRecords"
)

var Routes = []Route{
	{Name: RouteHome, Path: "/", RequiresAuth: true},
	{Name: RouteLogin, Path: "/login"},
	{Name: RouteProfile, Path: "/profile", RequiresAuth: true},
	{Name: RouteSendRecords, Path: "/send-records", RequiresAuth: true},
}

// Lookup finds the route serving path. Unknown paths fall through to the
// catch-all, which redirects to login.
func Lookup(path string) (Route, bool) {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}
	for _, r := range Routes {
		if r.Path == path {
			return r, true
		}
	}
	return Route{}, false
}

func ByName(name string) (Route, bool) {
	for _, r := range Routes {
		if r.Name == name {
			return r, true
		}
	}
	return Route{}, false
}

type Decision int

const (
	Proceed Decision = iota
	RedirectLogin
	RedirectHome
)

func (d Decision) String() string {
	switch d {
	case RedirectLogin:
		return "redirect-login"
	case RedirectHome:
		return "redirect-home"
	default:
		return "proceed"
	}
}

// Target is the path a redirect leads to, empty for Proceed.
func (d Decision) Target() string {
	switch d {
	case RedirectLogin:
		return "/login"
	case RedirectHome:
		return "/"
	}
	return ""
}

// Decide is the global navigation guard: protected routes need a token,
// and a logged-in user asking for the login page is sent home.
func Decide(to string, hasToken bool) Decision {
	r, ok := Lookup(to)
	if !ok {
		// the catch-all lands on login, where the guard runs again
		if hasToken {
			return RedirectHome
		}
		return RedirectLogin
	}
	if r.RequiresAuth && !hasToken {
		return RedirectLogin
	}
	if r.Name == RouteLogin && hasToken {
		return RedirectHome
	}
	return Proceed
}

// Resolve follows redirects from to and returns where navigation ends.
func Resolve(to string, hasToken bool) string {
	for i := 0; i < len(Routes); i++ {
		d := Decide(to, hasToken)
		if d == Proceed {
			return to
		}
		to = d.Target()
	}
	return to
}

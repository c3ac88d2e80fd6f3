package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pushguard/src/internal/guard"
	"pushguard/src/internal/intercept"
	"pushguard/src/internal/sanitize"
	"pushguard/src/internal/tasks"
)

type memCreds struct {
	mu      sync.Mutex
	token   string
	user    map[string]any
	cleared int
}

func (m *memCreds) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *memCreds) SaveCredentials(token string, user map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.user = token, user
	return nil
}

func (m *memCreds) ClearCredentials() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.user = "", nil
	m.cleared++
	return nil
}

const listing = `[{"id":-1,"name":"a","time_range":null,"initial_send_time":"undefined","enabled":1,"bound_webhooks":null,"queries":[{"q":"up"}]},{"id":5,"name":"b","time_range":"1h","initial_send_time":"09:00","enabled":true,"bound_webhooks":[],"queries":[]}]`

type backend struct {
	mu    sync.Mutex
	calls []string
	auth  []string
	body  map[string]any
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	track := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			b.mu.Lock()
			b.calls = append(b.calls, r.Method+" "+r.URL.Path)
			b.auth = append(b.auth, r.Header.Get("Authorization"))
			var body map[string]any
			if json.NewDecoder(r.Body).Decode(&body) == nil {
				b.body = body
			}
			b.mu.Unlock()
			next(w, r)
		}
	}
	mux.HandleFunc("GET /api/push_task", track(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(listing))
	}))
	mux.HandleFunc("PUT /api/push_task/{id}/toggle", track(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"updated"}`))
	}))
	mux.HandleFunc("DELETE /api/push_task/{id}", track(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "404" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"任务不存在"}`))
			return
		}
		w.Write([]byte(`{"message":"deleted"}`))
	}))
	mux.HandleFunc("POST /api/push_task/{id}/run", track(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid token"}`))
	}))
	mux.HandleFunc("POST /api/auth/login", track(func(w http.ResponseWriter, r *http.Request) {
		if b.lastBody()["password"] != "right" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Invalid username or password"}`))
			return
		}
		w.Write([]byte(`{"token":"tok-1","username":"admin","display_name":"Admin","role":"admin"}`))
	}))
	mux.HandleFunc("GET /api/version", track(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":"1.4.2"}`))
	}))
	mux.HandleFunc("GET /api/send_records", track(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"task_id":5,"status":"ok"}]}`))
	}))
	return mux
}

func (b *backend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *backend) call(i int) (string, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[i], b.auth[i]
}

func (b *backend) lastBody() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.body
}

func newTestClient(t *testing.T, creds *memCreds) (*Client, *backend) {
	t.Helper()
	b := &backend{}
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL + "/"}, creds), b
}

func TestListTasksSanitizesAndFeedsInterceptor(t *testing.T) {
	creds := &memCreds{token: "abc"}
	c, b := newTestClient(t, creds)

	cache := intercept.NewCache()
	c.Transport().Use(intercept.NewListingObserver(intercept.DefaultListingMarker, sanitize.New(nil), cache, nil))

	records, report, err := c.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if _, auth := b.call(0); auth != "Bearer abc" {
		t.Errorf("Authorization = %q, want Bearer abc", auth)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0][tasks.FieldID] != nil || records[0][tasks.FieldTimeRange] != tasks.DefaultTimeRange {
		t.Errorf("record 0 not sanitized: %v", records[0])
	}
	if report.Touched(1) {
		t.Errorf("clean record 1 should not be repaired: %+v", report.Repairs)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := cache.Await(ctx, 0)
	if err != nil {
		t.Fatalf("interceptor never published: %v", err)
	}
	if len(snap.Records) != 2 || snap.Report.Len() != report.Len() {
		t.Errorf("snapshot = %d records / %d repairs, want 2 / %d", len(snap.Records), snap.Report.Len(), report.Len())
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

func TestListTasksRepairsWarnedOnce(t *testing.T) {
	out := &lockedBuffer{}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))

	b := &backend{}
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)
	c := New(Options{BaseURL: srv.URL, Logger: logger}, &memCreds{token: "abc"})
	c.Transport().Use(intercept.NewListingObserver(intercept.DefaultListingMarker, sanitize.New(logger), intercept.NewCache(), logger))

	_, report, err := c.ListTasks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	c.Transport().Wait()

	if n := strings.Count(out.String(), `msg="repaired task field"`); n != report.Len() {
		t.Errorf("repair warnings = %d, want %d (one per repair)", n, report.Len())
	}
}

func TestDestructiveCallsValidateID(t *testing.T) {
	c, b := newTestClient(t, &memCreds{token: "abc"})
	ctx := context.Background()

	for _, id := range []string{"-1", "", "undefined", "null"} {
		if err := c.DeleteTask(ctx, id); !errors.Is(err, guard.ErrInvalidID) {
			t.Errorf("DeleteTask(%q) = %v, want ErrInvalidID", id, err)
		}
		if err := c.ToggleTask(ctx, id, true); !errors.Is(err, guard.ErrInvalidID) {
			t.Errorf("ToggleTask(%q) = %v, want ErrInvalidID", id, err)
		}
		if err := c.RunTask(ctx, id); !errors.Is(err, guard.ErrInvalidID) {
			t.Errorf("RunTask(%q) = %v, want ErrInvalidID", id, err)
		}
		if err := c.UpdateTask(ctx, id, tasks.Record{}); !errors.Is(err, guard.ErrInvalidID) {
			t.Errorf("UpdateTask(%q) = %v, want ErrInvalidID", id, err)
		}
	}
	if n := b.callCount(); n != 0 {
		t.Errorf("backend saw %d calls for invalid ids, want 0", n)
	}
}

func TestToggleSendsEnabled(t *testing.T) {
	c, b := newTestClient(t, &memCreds{token: "abc"})
	if err := c.ToggleTask(context.Background(), "5", false); err != nil {
		t.Fatalf("ToggleTask() error = %v", err)
	}
	if call, _ := b.call(0); call != "PUT /api/push_task/5/toggle" {
		t.Errorf("call = %q", call)
	}
	if v, ok := b.lastBody()["enabled"]; !ok || v != false {
		t.Errorf("body = %v, want enabled=false", b.lastBody())
	}
}

func TestAPIError(t *testing.T) {
	c, _ := newTestClient(t, &memCreds{token: "abc"})
	err := c.DeleteTask(context.Background(), "404")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("DeleteTask() = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Message != "任务不存在" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestUnauthorizedClearsCredentials(t *testing.T) {
	creds := &memCreds{token: "stale", user: map[string]any{"username": "admin"}}
	c, _ := newTestClient(t, creds)

	err := c.RunTask(context.Background(), "5")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("RunTask() = %v, want ErrUnauthorized", err)
	}
	if creds.Token() != "" || creds.user != nil || creds.cleared != 1 {
		t.Errorf("credentials not cleared: %+v", creds)
	}
}

func TestLogin(t *testing.T) {
	creds := &memCreds{}
	c, b := newTestClient(t, creds)
	ctx := context.Background()

	_, err := c.Login(ctx, "admin", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("Login(wrong) = %v, want 401 APIError", err)
	}
	if creds.cleared != 0 {
		t.Error("a failed login must not count as an expired session")
	}

	resp, err := c.Login(ctx, "admin", "right")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if resp.Token != "tok-1" || creds.Token() != "tok-1" || creds.user["role"] != "admin" {
		t.Errorf("login = %+v, creds = %+v", resp, creds)
	}
	if _, auth := b.call(0); auth != "" {
		t.Errorf("login request carried Authorization %q", auth)
	}
}

func TestVersionAndSendRecords(t *testing.T) {
	c, _ := newTestClient(t, &memCreds{token: "abc"})
	ctx := context.Background()

	v, err := c.Version(ctx)
	if err != nil || v != "1.4.2" {
		t.Errorf("Version() = %q, %v", v, err)
	}
	recs, err := c.ListSendRecords(ctx)
	if err != nil || len(recs) != 1 || recs[0]["status"] != "ok" {
		t.Errorf("ListSendRecords() = %v, %v", recs, err)
	}
}

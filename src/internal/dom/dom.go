// Package dom is the slice of the document object model the interaction
// guard needs. It is implemented over parsed HTML by package htmldom and
// over the live browser document by the wasm build.
package dom

// Listener handles a dispatched event.
type Listener func(ev Event)

type Event interface {
	Type() string
	Target() Element
	PreventDefault()
	StopPropagation()
	StopImmediatePropagation()
	DefaultPrevented() bool
	PropagationStopped() bool
}

// Element is a DOM element. Methods returning Element return a nil
// interface when there is no such element.
type Element interface {
	Tag() string
	Attr(name string) (string, bool)
	Text() string
	ClassName() string
	// Closest returns the element itself or its nearest ancestor with tag.
	Closest(tag string) Element
	// FirstCell returns the first td that is the first child of its row.
	FirstCell() Element
	AddEventListener(typ string, fn Listener, capture bool)
	// Key identifies the underlying node; it is stable across lookups.
	Key() any
}

// Mutation reports a childList change under an observed root.
type Mutation struct {
	Target Element
	// Added holds the element nodes that were inserted.
	Added []Element
	// AddedNodes counts every inserted node, text included.
	AddedNodes   int
	RemovedNodes int
}

type Document interface {
	// Body returns nil until the document has a body.
	Body() Element
	QueryAll(tag string) []Element
	// Observe reports childList mutations anywhere in root's subtree until
	// stop is called.
	Observe(root Element, fn func([]Mutation)) (stop func())
}

// BasicEvent is a plain Event for in-process dispatch.
type BasicEvent struct {
	typ       string
	target    Element
	prevented bool
	stopped   bool
	immediate bool
}

func NewEvent(typ string, target Element) *BasicEvent {
	return &BasicEvent{typ: typ, target: target}
}

func (e *BasicEvent) Type() string             { return e.typ }
func (e *BasicEvent) Target() Element          { return e.target }
func (e *BasicEvent) PreventDefault()          { e.prevented = true }
func (e *BasicEvent) StopPropagation()         { e.stopped = true }
func (e *BasicEvent) DefaultPrevented() bool   { return e.prevented }
func (e *BasicEvent) PropagationStopped() bool { return e.stopped }

func (e *BasicEvent) StopImmediatePropagation() {
	e.stopped = true
	e.immediate = true
}

// ImmediateStopped reports whether remaining listeners on the current node
// must be skipped.
func (e *BasicEvent) ImmediateStopped() bool { return e.immediate }

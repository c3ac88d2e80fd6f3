// Package htmldom implements dom.Document over golang.org/x/net/html trees.
// It backs offline page audits and the guard tests.
package htmldom

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"pushguard/src/internal/dom"
)

var ErrForeignElement = errors.New("element does not belong to this document")

type listener struct {
	typ     string
	fn      dom.Listener
	capture bool
}

type element struct {
	doc       *Document
	n         *html.Node
	listeners []listener
}

type observer struct {
	root *html.Node
	fn   func([]dom.Mutation)
}

type Document struct {
	mu        sync.Mutex
	root      *html.Node
	elems     map[*html.Node]*element
	observers map[int]*observer
	nextObs   int
}

// New returns an empty document without a body, as a page before its
// markup has been parsed.
func New() *Document {
	return &Document{
		root:      &html.Node{Type: html.DocumentNode},
		elems:     make(map[*html.Node]*element),
		observers: make(map[int]*observer),
	}
}

// Parse builds a document from a full HTML page.
func Parse(r io.Reader) (*Document, error) {
	d := New()
	if err := d.Load(r); err != nil {
		return nil, err
	}
	return d, nil
}

// Load replaces the document content with the parsed page. Existing
// listeners and observers are dropped.
func (d *Document) Load(r io.Reader) error {
	root, err := html.Parse(r)
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}
	d.mu.Lock()
	d.root = root
	d.elems = make(map[*html.Node]*element)
	d.observers = make(map[int]*observer)
	d.mu.Unlock()
	return nil
}

// wrap must be called with d.mu held.
func (d *Document) wrap(n *html.Node) *element {
	if e, ok := d.elems[n]; ok {
		return e
	}
	e := &element{doc: d, n: n}
	d.elems[n] = e
	return e
}

// elem converts to the dom.Element interface, keeping nil as a nil interface.
func (d *Document) elem(n *html.Node) dom.Element {
	if n == nil {
		return nil
	}
	return d.wrap(n)
}

func (d *Document) Body() dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.elem(find(d.root, func(n *html.Node) bool { return isTag(n, "body") }))
}

func (d *Document) QueryAll(tag string) []dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dom.Element
	walk(d.root, func(n *html.Node) {
		if isTag(n, tag) {
			out = append(out, d.wrap(n))
		}
	})
	return out
}

// QueryID returns the element with the given id attribute.
func (d *Document) QueryID(id string) dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.elem(find(d.root, func(n *html.Node) bool {
		v, ok := attr(n, "id")
		return n.Type == html.ElementNode && ok && v == id
	}))
}

func (d *Document) Observe(root dom.Element, fn func([]dom.Mutation)) func() {
	e, ok := root.(*element)
	if !ok || e.doc != d {
		return func() {}
	}
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = &observer{root: e.n, fn: fn}
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
		})
	}
}

// Append parses fragment in the context of parent and appends the result to
// parent's children, notifying observers.
func (d *Document) Append(parent dom.Element, fragment string) error {
	p, ok := parent.(*element)
	if !ok || p.doc != d {
		return ErrForeignElement
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), p.n)
	if err != nil {
		return fmt.Errorf("parse fragment: %w", err)
	}

	d.mu.Lock()
	m := dom.Mutation{Target: d.wrap(p.n), AddedNodes: len(nodes)}
	for _, n := range nodes {
		p.n.AppendChild(n)
		if n.Type == html.ElementNode {
			m.Added = append(m.Added, d.wrap(n))
		}
	}
	fns := d.observersFor(p.n)
	d.mu.Unlock()

	notify(fns, m)
	return nil
}

// Remove detaches el from its parent, notifying observers.
func (d *Document) Remove(el dom.Element) error {
	e, ok := el.(*element)
	if !ok || e.doc != d {
		return ErrForeignElement
	}
	d.mu.Lock()
	parent := e.n.Parent
	if parent == nil {
		d.mu.Unlock()
		return nil
	}
	fns := d.observersFor(parent)
	parent.RemoveChild(e.n)
	m := dom.Mutation{Target: d.wrap(parent), RemovedNodes: 1}
	d.mu.Unlock()

	notify(fns, m)
	return nil
}

// observersFor must be called with d.mu held.
func (d *Document) observersFor(n *html.Node) []func([]dom.Mutation) {
	var fns []func([]dom.Mutation)
	for _, o := range d.observers {
		if contains(o.root, n) {
			fns = append(fns, o.fn)
		}
	}
	return fns
}

func notify(fns []func([]dom.Mutation), m dom.Mutation) {
	batch := []dom.Mutation{m}
	for _, fn := range fns {
		fn(batch)
	}
}

// Click dispatches a click on el: capture listeners from the document root
// down to el, the target's own listeners, then bubbling listeners back up.
func (d *Document) Click(el dom.Element) *dom.BasicEvent {
	return d.Dispatch(el, "click")
}

func (d *Document) Dispatch(el dom.Element, typ string) *dom.BasicEvent {
	ev := dom.NewEvent(typ, el)
	target, ok := el.(*element)
	if !ok || target.doc != d {
		return ev
	}

	type step struct {
		ls []listener
	}
	d.mu.Lock()
	var path []*element
	for n := target.n; n != nil; n = n.Parent {
		if n.Type == html.ElementNode {
			path = append(path, d.wrap(n))
		}
	}
	pick := func(e *element, capture bool) []listener {
		var out []listener
		for _, l := range e.listeners {
			if l.typ == typ && l.capture == capture {
				out = append(out, l)
			}
		}
		return out
	}
	var steps []step
	for i := len(path) - 1; i > 0; i-- {
		steps = append(steps, step{pick(path[i], true)})
	}
	steps = append(steps, step{append(pick(target, true), pick(target, false)...)})
	for i := 1; i < len(path); i++ {
		steps = append(steps, step{pick(path[i], false)})
	}
	d.mu.Unlock()

	for _, s := range steps {
		for _, l := range s.ls {
			l.fn(ev)
			if ev.ImmediateStopped() {
				return ev
			}
		}
		if ev.PropagationStopped() {
			return ev
		}
	}
	return ev
}

func (e *element) Tag() string { return e.n.Data }

func (e *element) Attr(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attr(e.n, name)
}

// SetAttr sets or replaces an attribute.
func (e *element) SetAttr(name, value string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for i, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == name {
			e.n.Attr[i].Val = value
			return
		}
	}
	e.n.Attr = append(e.n.Attr, html.Attribute{Key: name, Val: value})
}

func (e *element) Text() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var b strings.Builder
	walk(e.n, func(n *html.Node) {
		if n.Type == html.TextNode && !insideHidden(n, e.n) {
			b.WriteString(n.Data)
		}
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

func (e *element) ClassName() string {
	v, _ := e.Attr("class")
	return v
}

func (e *element) Closest(tag string) dom.Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for n := e.n; n != nil; n = n.Parent {
		if isTag(n, tag) {
			return e.doc.wrap(n)
		}
	}
	return nil
}

func (e *element) FirstCell() dom.Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.elem(find(e.n, func(n *html.Node) bool {
		return n != e.n && isTag(n, "td") && firstElementChild(n.Parent) == n
	}))
}

func (e *element) AddEventListener(typ string, fn dom.Listener, capture bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.listeners = append(e.listeners, listener{typ: typ, fn: fn, capture: capture})
}

// ListenerCount reports how many listeners of typ are attached.
func (e *element) ListenerCount(typ string) int {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	n := 0
	for _, l := range e.listeners {
		if l.typ == typ {
			n++
		}
	}
	return n
}

func (e *element) Key() any { return e.n }

// ListenerCount reports listeners attached to an element of this package.
func ListenerCount(el dom.Element, typ string) int {
	if e, ok := el.(*element); ok {
		return e.ListenerCount(typ)
	}
	return 0
}

// SetAttr sets an attribute on an element of this package.
func SetAttr(el dom.Element, name, value string) {
	if e, ok := el.(*element); ok {
		e.SetAttr(name, value)
	}
}

func isTag(n *html.Node, tag string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if a := atom.Lookup([]byte(tag)); a != 0 && n.DataAtom == a {
		return true
	}
	return n.Data == tag
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func find(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := find(c, pred); f != nil {
			return f
		}
	}
	return nil
}

func contains(root, n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

func firstElementChild(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// insideHidden reports whether a text node sits in script/style content or
// a hidden element below top.
func insideHidden(n, top *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			switch p.DataAtom {
			case atom.Script, atom.Style, atom.Template:
				return true
			}
			if _, hidden := attr(p, "hidden"); hidden {
				return true
			}
		}
		if p == top {
			break
		}
	}
	return false
}

//go:build js && wasm

package main

import (
	"strings"
	"syscall/js"

	"pushguard/src/internal/dom"
)

const keyProp = "__pushguardKey"

type jsDocument struct {
	doc     js.Value
	nextKey int
}

func newDocument(doc js.Value) *jsDocument {
	return &jsDocument{doc: doc}
}

func (d *jsDocument) wrap(v js.Value) dom.Element {
	if v.IsNull() || v.IsUndefined() {
		return nil
	}
	return &jsElement{v: v, doc: d}
}

func (d *jsDocument) Body() dom.Element {
	return d.wrap(d.doc.Get("body"))
}

func (d *jsDocument) QueryAll(tag string) []dom.Element {
	nodes := d.doc.Call("querySelectorAll", tag)
	n := nodes.Get("length").Int()
	out := make([]dom.Element, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, d.wrap(nodes.Index(i)))
	}
	return out
}

func (d *jsDocument) Observe(root dom.Element, fn func([]dom.Mutation)) func() {
	el, ok := root.(*jsElement)
	if !ok {
		return func() {}
	}
	cb := js.FuncOf(func(this js.Value, args []js.Value) any {
		records := args[0]
		ms := make([]dom.Mutation, 0, records.Get("length").Int())
		for i := 0; i < records.Get("length").Int(); i++ {
			r := records.Index(i)
			if r.Get("type").String() != "childList" {
				continue
			}
			added := r.Get("addedNodes")
			m := dom.Mutation{
				Target:       d.wrap(r.Get("target")),
				AddedNodes:   added.Get("length").Int(),
				RemovedNodes: r.Get("removedNodes").Get("length").Int(),
			}
			for j := 0; j < m.AddedNodes; j++ {
				if node := added.Index(j); node.Get("nodeType").Int() == 1 {
					m.Added = append(m.Added, d.wrap(node))
				}
			}
			ms = append(ms, m)
		}
		if len(ms) > 0 {
			fn(ms)
		}
		return nil
	})
	obs := js.Global().Get("MutationObserver").New(cb)
	obs.Call("observe", el.v, map[string]any{"childList": true, "subtree": true})
	return func() {
		obs.Call("disconnect")
		cb.Release()
	}
}

type jsElement struct {
	v   js.Value
	doc *jsDocument
}

func (e *jsElement) Tag() string {
	return strings.ToLower(e.v.Get("tagName").String())
}

func (e *jsElement) Attr(name string) (string, bool) {
	if !e.v.Call("hasAttribute", name).Bool() {
		return "", false
	}
	return e.v.Call("getAttribute", name).String(), true
}

func (e *jsElement) Text() string {
	t := e.v.Get("innerText")
	if t.Type() != js.TypeString {
		t = e.v.Get("textContent")
	}
	if t.Type() != js.TypeString {
		return ""
	}
	return strings.Join(strings.Fields(t.String()), " ")
}

// ClassName reads the attribute since className is an object on SVG nodes.
func (e *jsElement) ClassName() string {
	v, _ := e.Attr("class")
	return v
}

func (e *jsElement) Closest(tag string) dom.Element {
	return e.doc.wrap(e.v.Call("closest", tag))
}

func (e *jsElement) FirstCell() dom.Element {
	return e.doc.wrap(e.v.Call("querySelector", "td:first-child"))
}

// AddEventListener keeps the Go callback for the life of the page.
func (e *jsElement) AddEventListener(typ string, fn dom.Listener, capture bool) {
	cb := js.FuncOf(func(this js.Value, args []js.Value) any {
		fn(&jsEvent{v: args[0], doc: e.doc})
		return nil
	})
	e.v.Call("addEventListener", typ, cb, capture)
}

// Key tags the node with a numeric property on first use; js.Value itself
// is not comparable.
func (e *jsElement) Key() any {
	k := e.v.Get(keyProp)
	if k.Type() == js.TypeNumber {
		return k.Int()
	}
	e.doc.nextKey++
	e.v.Set(keyProp, e.doc.nextKey)
	return e.doc.nextKey
}

type jsEvent struct {
	v   js.Value
	doc *jsDocument
}

func (ev *jsEvent) Type() string              { return ev.v.Get("type").String() }
func (ev *jsEvent) Target() dom.Element       { return ev.doc.wrap(ev.v.Get("target")) }
func (ev *jsEvent) PreventDefault()           { ev.v.Call("preventDefault") }
func (ev *jsEvent) StopPropagation()          { ev.v.Call("stopPropagation") }
func (ev *jsEvent) StopImmediatePropagation() { ev.v.Call("stopImmediatePropagation") }
func (ev *jsEvent) DefaultPrevented() bool    { return ev.v.Get("defaultPrevented").Bool() }
func (ev *jsEvent) PropagationStopped() bool  { return ev.v.Get("cancelBubble").Bool() }

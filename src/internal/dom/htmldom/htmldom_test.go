package htmldom

import (
	"strings"
	"testing"

	"pushguard/src/internal/dom"
)

const page = `<!doctype html><html><body>
<table><tbody id="rows">
  <tr data-id="7"><td> 7 </td><td>cpu</td><td><button id="del" class="el-button delete">删除</button></td></tr>
  <tr><td>8</td><td><span>mem</span></td><td><button id="edit">编辑</button></td></tr>
</tbody></table>
<div id="outer"><button id="plain">刷新<script>ignored()</script></button></div>
</body></html>`

func mustParse(t *testing.T) *Document {
	t.Helper()
	d, err := Parse(strings.NewReader(page))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestNewHasNoBody(t *testing.T) {
	d := New()
	if d.Body() != nil {
		t.Error("Body() of an empty document should be nil")
	}
	if err := d.Load(strings.NewReader(page)); err != nil {
		t.Fatal(err)
	}
	if d.Body() == nil {
		t.Error("Body() after Load should not be nil")
	}
}

func TestElementQueries(t *testing.T) {
	d := mustParse(t)

	del := d.QueryID("del")
	if del == nil {
		t.Fatal("button #del not found")
	}
	if del.Tag() != "button" || del.Text() != "删除" || del.ClassName() != "el-button delete" {
		t.Errorf("del = %s %q %q", del.Tag(), del.Text(), del.ClassName())
	}

	row := del.Closest("tr")
	if row == nil {
		t.Fatal("Closest(tr) = nil")
	}
	if id, ok := row.Attr("data-id"); !ok || id != "7" {
		t.Errorf("row data-id = %q,%v", id, ok)
	}
	if cell := row.FirstCell(); cell == nil || cell.Text() != "7" {
		t.Errorf("FirstCell() = %v", cell)
	}
	if del.Closest("button").Key() != del.Key() {
		t.Error("Closest should include the element itself")
	}
	if d.QueryID("plain").Closest("tr") != nil {
		t.Error("Closest(tr) outside a table should be nil")
	}
	if got := d.QueryID("plain").Text(); got != "刷新" {
		t.Errorf("Text() = %q, want script content skipped", got)
	}

	if n := len(d.QueryAll("button")); n != 3 {
		t.Errorf("QueryAll(button) = %d, want 3", n)
	}
	if d.QueryID("del").Key() != del.Key() {
		t.Error("Key() should be stable across lookups")
	}
}

func TestDispatchOrder(t *testing.T) {
	d := mustParse(t)
	btn := d.QueryID("del")
	outer := btn.Closest("table")

	var order []string
	outer.AddEventListener("click", func(dom.Event) { order = append(order, "table-bubble") }, false)
	outer.AddEventListener("click", func(dom.Event) { order = append(order, "table-capture") }, true)
	btn.AddEventListener("click", func(dom.Event) { order = append(order, "btn-bubble") }, false)
	btn.AddEventListener("click", func(dom.Event) { order = append(order, "btn-capture") }, true)

	ev := d.Click(btn)
	want := "table-capture,btn-capture,btn-bubble,table-bubble"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
	if ev.DefaultPrevented() {
		t.Error("nothing prevented the default action")
	}
}

func TestDispatchStopImmediate(t *testing.T) {
	d := mustParse(t)
	btn := d.QueryID("del")

	called := false
	btn.AddEventListener("click", func(ev dom.Event) {
		ev.PreventDefault()
		ev.StopImmediatePropagation()
	}, true)
	btn.AddEventListener("click", func(dom.Event) { called = true }, false)
	btn.Closest("body").AddEventListener("click", func(dom.Event) { called = true }, false)

	ev := d.Click(btn)
	if called {
		t.Error("listeners after StopImmediatePropagation must not run")
	}
	if !ev.DefaultPrevented() || !ev.PropagationStopped() {
		t.Error("event should be prevented and stopped")
	}
}

func TestObserveAppendRemove(t *testing.T) {
	d := mustParse(t)
	var got []dom.Mutation
	stop := d.Observe(d.Body(), func(ms []dom.Mutation) { got = append(got, ms...) })

	rows := d.QueryID("rows")
	if err := d.Append(rows, `<tr data-id="9"><td>9</td><td><button>删除</button></td></tr>`); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].AddedNodes != 1 || len(got[0].Added) != 1 {
		t.Fatalf("mutations = %+v", got)
	}
	if n := len(d.QueryAll("button")); n != 4 {
		t.Errorf("buttons after Append = %d, want 4", n)
	}

	if err := d.Remove(d.QueryID("plain")); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].AddedNodes != 0 || got[1].RemovedNodes != 1 {
		t.Errorf("remove mutation = %+v", got)
	}

	stop()
	d.Append(rows, `<tr><td>10</td></tr>`)
	if len(got) != 2 {
		t.Error("stopped observer should not be notified")
	}

	other := New()
	if err := other.Append(rows, "<p></p>"); err != ErrForeignElement {
		t.Errorf("Append on a foreign element = %v, want ErrForeignElement", err)
	}
}

func TestSetAttrAndListenerCount(t *testing.T) {
	d := mustParse(t)
	btn := d.QueryID("edit")
	SetAttr(btn, "data-id", "12")
	if v, _ := btn.Attr("data-id"); v != "12" {
		t.Errorf("data-id = %q", v)
	}
	btn.AddEventListener("click", func(dom.Event) {}, true)
	if ListenerCount(btn, "click") != 1 {
		t.Errorf("ListenerCount = %d, want 1", ListenerCount(btn, "click"))
	}
}

package guard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pushguard/src/internal/dom"
	"pushguard/src/internal/dom/htmldom"
)

const listPage = `<html><body><table><tbody id="rows">
<tr data-id="42"><td>42</td><td><button id="row-del">删除</button></td></tr>
<tr><td>17</td><td><button id="cell-edit" class="btn-edit">修改</button></td></tr>
<tr><td></td><td><button id="empty-del" class="icon delete"></button></td></tr>
</tbody></table>
<button id="neg" data-id="-1">删除</button>
<button id="pos" data-id="42">删除</button>
<button id="undef" data-id="undefined">编辑</button>
<button id="explicit" data-intent="delete" data-id="-3">Remove</button>
<button id="suppressed" data-intent="none" data-id="-3">删除</button>
<button id="refresh">刷新</button>
</body></html>`

type alerts struct {
	mu   sync.Mutex
	msgs []string
}

func (a *alerts) Alert(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
}

func (a *alerts) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.msgs...)
}

func setup(t *testing.T, opts Options) (*htmldom.Document, *Installer, *alerts) {
	t.Helper()
	doc, err := htmldom.Parse(strings.NewReader(listPage))
	if err != nil {
		t.Fatal(err)
	}
	a := &alerts{}
	return doc, NewInstaller(doc, a, opts, nil), a
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestResolveID(t *testing.T) {
	doc, _, _ := setup(t, Options{})
	cases := map[string]struct {
		id string
		ok bool
	}{
		"row-del":   {"42", true},
		"cell-edit": {"17", true},
		"empty-del": {"", false},
		"neg":       {"-1", true},
		"refresh":   {"", false},
	}
	for elID, want := range cases {
		id, ok := ResolveID(doc.QueryID(elID))
		if id != want.id || ok != want.ok {
			t.Errorf("ResolveID(#%s) = %q,%v, want %q,%v", elID, id, ok, want.id, want.ok)
		}
	}
	if _, ok := ResolveID(nil); ok {
		t.Error("ResolveID(nil) should find nothing")
	}
}

func TestValidateID(t *testing.T) {
	cases := []struct {
		id    string
		ok    bool
		valid bool
	}{
		{"42", true, true},
		{"0", true, true},
		{"abc", true, true},
		{"", true, false},
		{"", false, false},
		{"undefined", true, false},
		{"null", true, false},
		{"-1", true, false},
		{" -7 ", true, false},
		{"-0.5", true, false},
	}
	for _, c := range cases {
		err := ValidateID(c.id, c.ok)
		if (err == nil) != c.valid {
			t.Errorf("ValidateID(%q,%v) = %v, want valid=%v", c.id, c.ok, err, c.valid)
		}
		if err != nil && !errors.Is(err, ErrInvalidID) {
			t.Errorf("ValidateID(%q) error %v should wrap ErrInvalidID", c.id, err)
		}
	}

	neg := int64(-2)
	if ValidateTaskID(&neg) == nil || ValidateTaskID(nil) == nil {
		t.Error("ValidateTaskID should reject negative and nil ids")
	}
}

func TestClassify(t *testing.T) {
	doc, _, _ := setup(t, Options{})
	v := DefaultVocabulary()
	cases := map[string]Intent{
		"row-del":    IntentDelete,
		"cell-edit":  IntentEdit,
		"empty-del":  IntentDelete,
		"undef":      IntentEdit,
		"explicit":   IntentDelete,
		"suppressed": IntentNone,
		"refresh":    IntentNone,
	}
	for elID, want := range cases {
		if got := v.Classify(doc.QueryID(elID)); got != want {
			t.Errorf("Classify(#%s) = %s, want %s", elID, got, want)
		}
	}
	if v.Classify(nil) != IntentNone {
		t.Error("Classify(nil) should be IntentNone")
	}

	upper := Vocabulary{DeleteClass: []string{"Delete"}}
	if got := upper.Classify(doc.QueryID("empty-del")); got != IntentNone {
		t.Errorf("class matching should be case-sensitive, got %s", got)
	}
}

func TestInstallerBlocksInvalidID(t *testing.T) {
	doc, in, a := setup(t, Options{})
	in.Scan()

	btn := doc.QueryID("neg")
	downstream := 0
	btn.AddEventListener("click", func(dom.Event) { downstream++ }, false)
	doc.Body().AddEventListener("click", func(dom.Event) { downstream++ }, false)

	var blocks []Block
	in.OnBlock(func(b Block) { blocks = append(blocks, b) })

	ev := doc.Click(btn)
	if downstream != 0 {
		t.Errorf("downstream handlers ran %d times, want 0", downstream)
	}
	if !ev.DefaultPrevented() || !ev.PropagationStopped() {
		t.Error("event should be prevented and stopped")
	}
	if got := a.all(); len(got) != 1 || got[0] != DefaultDeleteMessage {
		t.Errorf("alerts = %q, want one delete alert", got)
	}
	if len(blocks) != 1 || blocks[0].Intent != IntentDelete || blocks[0].ID != "-1" {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestInstallerPassesValidID(t *testing.T) {
	doc, in, a := setup(t, Options{})
	in.Scan()

	btn := doc.QueryID("pos")
	downstream := 0
	btn.AddEventListener("click", func(dom.Event) { downstream++ }, false)

	ev := doc.Click(btn)
	if downstream != 1 {
		t.Errorf("downstream handlers ran %d times, want 1", downstream)
	}
	if ev.DefaultPrevented() || ev.PropagationStopped() {
		t.Error("valid id must not be suppressed")
	}
	if len(a.all()) != 0 {
		t.Errorf("unexpected alerts %q", a.all())
	}
}

func TestInstallerEditMessage(t *testing.T) {
	doc, in, a := setup(t, Options{EditMessage: "edit blocked"})
	in.Scan()

	doc.Click(doc.QueryID("undef"))
	if got := a.all(); len(got) != 1 || got[0] != "edit blocked" {
		t.Errorf("alerts = %q", got)
	}
}

func TestInstallerIdempotent(t *testing.T) {
	doc, in, a := setup(t, Options{})
	first := in.Scan()
	if first != 7 {
		t.Errorf("first Scan() = %d, want 7", first)
	}
	if again := in.Scan(); again != 0 {
		t.Errorf("second Scan() = %d, want 0", again)
	}
	if n := htmldom.ListenerCount(doc.QueryID("neg"), "click"); n != 1 {
		t.Errorf("listeners on #neg = %d, want 1", n)
	}

	doc.Click(doc.QueryID("neg"))
	if len(a.all()) != 1 {
		t.Errorf("alerts = %d, want 1", len(a.all()))
	}
	if in.Scans() != 2 {
		t.Errorf("Scans() = %d, want 2", in.Scans())
	}
}

func TestInstallerCheck(t *testing.T) {
	doc, in, _ := setup(t, Options{})
	intent, id, err := in.Check(doc.QueryID("row-del"))
	if intent != IntentDelete || id != "42" || err != nil {
		t.Errorf("Check(#row-del) = %s,%q,%v", intent, id, err)
	}
	intent, _, err = in.Check(doc.QueryID("explicit"))
	if intent != IntentDelete || err == nil {
		t.Errorf("Check(#explicit) = %s,%v", intent, err)
	}
	if intent, _, err := in.Check(doc.QueryID("refresh")); intent != IntentNone || err != nil {
		t.Errorf("Check(#refresh) = %s,%v", intent, err)
	}
}

func TestScheduleCoalesces(t *testing.T) {
	_, in, _ := setup(t, Options{SettleDelay: 20 * time.Millisecond})
	for i := 0; i < 5; i++ {
		in.Schedule()
	}
	eventually(t, func() bool { return in.Scans() == 1 })
	time.Sleep(40 * time.Millisecond)
	if in.Scans() != 1 {
		t.Errorf("Scans() = %d, want 1", in.Scans())
	}

	in.Schedule()
	in.Stop()
	time.Sleep(40 * time.Millisecond)
	if in.Scans() != 1 {
		t.Error("stopped schedule should not scan")
	}
}

func TestWatcherWaitsForBodyAndRearms(t *testing.T) {
	doc := htmldom.New()
	a := &alerts{}
	in := NewInstaller(doc, a, Options{SettleDelay: 10 * time.Millisecond}, nil)
	w := NewWatcher(doc, in, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	if in.Scans() != 0 {
		t.Fatal("no scan should run before the body exists")
	}
	// observers attach to the body found after Load
	if err := doc.Load(strings.NewReader(listPage)); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return in.Scans() >= 1 })

	rows := doc.QueryID("rows")
	before := in.Scans()
	if err := doc.Append(rows, `<tr data-id="-9"><td>-9</td><td><button id="late">删除</button></td></tr>`); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return in.Scans() > before })

	doc.Click(doc.QueryID("late"))
	if len(a.all()) != 1 {
		t.Errorf("late button should be guarded, alerts = %q", a.all())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestIntentString(t *testing.T) {
	if IntentDelete.String() != "delete" || IntentEdit.String() != "edit" || IntentNone.String() != "none" {
		t.Error("unexpected Intent strings")
	}
	if ParseIntent(" edit ") != IntentEdit || ParseIntent("x") != IntentNone {
		t.Error("unexpected ParseIntent results")
	}
}

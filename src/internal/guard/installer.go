package guard

import (
	"log/slog"
	"sync"
	"time"

	"pushguard/src/internal/dom"
)

const (
	DefaultSettleDelay   = 5 * time.Second
	DefaultRetryDelay    = 100 * time.Millisecond
	DefaultDeleteMessage = "无法删除此任务：ID无效"
	DefaultEditMessage   = "无法编辑此任务：ID无效"
)

// Alerter shows a blocking message to the user.
type Alerter interface {
	Alert(msg string)
}

type AlertFunc func(msg string)

func (f AlertFunc) Alert(msg string) { f(msg) }

// Block describes one interaction the guard cancelled.
type Block struct {
	Intent Intent
	ID     string
	Err    error
	At     time.Time
}

func NewBlock(intent Intent, id string, err error) Block {
	return Block{Intent: intent, ID: id, Err: err, At: time.Now()}
}

type Options struct {
	SettleDelay   time.Duration `mapstructure:"settle_delay" json:"settle_delay"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	Vocabulary    Vocabulary    `mapstructure:"vocabulary" json:"vocabulary"`
	DeleteMessage string        `mapstructure:"delete_message" json:"delete_message"`
	EditMessage   string        `mapstructure:"edit_message" json:"edit_message"`
}

func DefaultOptions() Options {
	return Options{
		SettleDelay:   DefaultSettleDelay,
		RetryDelay:    DefaultRetryDelay,
		Vocabulary:    DefaultVocabulary(),
		DeleteMessage: DefaultDeleteMessage,
		EditMessage:   DefaultEditMessage,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SettleDelay <= 0 {
		o.SettleDelay = d.SettleDelay
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	v := o.Vocabulary
	if len(v.DeleteText)+len(v.DeleteClass)+len(v.EditText)+len(v.EditClass) == 0 {
		o.Vocabulary = d.Vocabulary
	}
	if o.DeleteMessage == "" {
		o.DeleteMessage = d.DeleteMessage
	}
	if o.EditMessage == "" {
		o.EditMessage = d.EditMessage
	}
	return o
}

// Message returns the alert text for a blocked intent.
func (o Options) Message(i Intent) string {
	if i == IntentEdit {
		return o.EditMessage
	}
	return o.DeleteMessage
}

type instrumented struct {
	key    any
	intent Intent
}

// Installer attaches id checks to delete and edit controls.
type Installer struct {
	doc     dom.Document
	alerter Alerter
	opts    Options
	logger  *slog.Logger

	mu      sync.Mutex
	seen    map[instrumented]struct{}
	pending *time.Timer
	scans   int
	onBlock []func(Block)
}

func NewInstaller(doc dom.Document, alerter Alerter, opts Options, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	if alerter == nil {
		alerter = AlertFunc(func(string) {})
	}
	return &Installer{
		doc:     doc,
		alerter: alerter,
		opts:    opts.withDefaults(),
		logger:  logger.With("component", "action_guard"),
		seen:    make(map[instrumented]struct{}),
	}
}

// OnBlock registers fn to run after every cancelled interaction.
func (in *Installer) OnBlock(fn func(Block)) {
	in.mu.Lock()
	in.onBlock = append(in.onBlock, fn)
	in.mu.Unlock()
}

// Scan instruments every delete or edit button not instrumented yet and
// returns how many it newly covered.
func (in *Installer) Scan() int {
	added := 0
	for _, el := range in.doc.QueryAll("button") {
		intent := in.opts.Vocabulary.Classify(el)
		if intent == IntentNone {
			continue
		}
		k := instrumented{key: el.Key(), intent: intent}
		in.mu.Lock()
		_, done := in.seen[k]
		if !done {
			in.seen[k] = struct{}{}
		}
		in.mu.Unlock()
		if done {
			continue
		}
		el.AddEventListener("click", in.check(el, intent), true)
		added++
	}

	in.mu.Lock()
	in.scans++
	in.mu.Unlock()
	in.logger.Debug("click guards installed", "added", added)
	return added
}

// Schedule runs Scan once the settle delay has passed. Calls made while a
// scan is already pending are folded into it.
func (in *Installer) Schedule() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.pending != nil {
		return
	}
	in.pending = time.AfterFunc(in.opts.SettleDelay, func() {
		in.mu.Lock()
		in.pending = nil
		in.mu.Unlock()
		in.Scan()
	})
}

// Stop cancels a pending scheduled scan.
func (in *Installer) Stop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.pending != nil {
		in.pending.Stop()
		in.pending = nil
	}
}

// Scans reports how many scans have completed.
func (in *Installer) Scans() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.scans
}

func (in *Installer) check(el dom.Element, intent Intent) dom.Listener {
	return func(ev dom.Event) {
		id, ok := ResolveID(el)
		err := ValidateID(id, ok)
		if err == nil {
			return
		}
		ev.PreventDefault()
		ev.StopPropagation()
		ev.StopImmediatePropagation()
		in.logger.Warn("blocked action on invalid task id", "intent", intent.String(), "id", id, "error", err)
		in.alerter.Alert(in.opts.Message(intent))

		b := NewBlock(intent, id, err)
		in.mu.Lock()
		hooks := append([]func(Block){}, in.onBlock...)
		in.mu.Unlock()
		for _, fn := range hooks {
			fn(b)
		}
	}
}

// Check reports the decision the guard would take for el without
// dispatching anything. It is used by offline audits.
func (in *Installer) Check(el dom.Element) (Intent, string, error) {
	intent := in.opts.Vocabulary.Classify(el)
	id, ok := ResolveID(el)
	if intent == IntentNone {
		return intent, id, nil
	}
	return intent, id, ValidateID(id, ok)
}

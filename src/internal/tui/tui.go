package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pushguard/src/internal/auth"
	"pushguard/src/internal/client"
	"pushguard/src/internal/guard"
	"pushguard/src/internal/intercept"
	"pushguard/src/internal/sanitize"
	"pushguard/src/internal/tasks"
)

// Backend is the part of the API client the TUI drives.
type Backend interface {
	Login(ctx context.Context, username, password string) (client.LoginResponse, error)
	ListTasks(ctx context.Context) ([]tasks.Record, sanitize.Report, error)
	UpdateTask(ctx context.Context, id string, task tasks.Record) error
	ToggleTask(ctx context.Context, id string, enabled bool) error
	RunTask(ctx context.Context, id string) error
	DeleteTask(ctx context.Context, id string) error
}

type Options struct {
	Backend  Backend
	Cache    *intercept.Cache
	HasToken func() bool
	Guard    guard.Options
	OnBlock  func(guard.Block)
	Username string
}

type screen int

const (
	screenLogin screen = iota
	screenTasks
)

type (
	snapshotMsg intercept.Snapshot
	loginMsg    struct{ err error }
	actionMsg   struct {
		what string
		err  error
	}
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("242")).PaddingLeft(1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).PaddingLeft(1)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242")).Padding(0, 1).Border(lipgloss.NormalBorder())
)

type taskItem struct {
	task     tasks.Task
	index    int
	repaired bool
}

func (i taskItem) FilterValue() string { return i.task.Name }

type itemDelegate struct{}

func (d itemDelegate) Height() int { return 1 }

func (d itemDelegate) Spacing() int { return 0 }

func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd {
	return nil
}

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(taskItem)
	if !ok {
		return
	}
	var st lipgloss.Style
	if index == m.Index() {
		st = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).PaddingLeft(2)
	} else {
		st = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).PaddingLeft(2)
	}
	fmt.Fprint(w, st.Render(renderRow(i)))
}

func renderRow(i taskItem) string {
	id := i.task.IDString()
	if id == "" {
		id = "-"
	}
	state := "off"
	if i.task.Enabled {
		state = "on"
	}
	mark := " "
	if i.repaired {
		mark = "*"
	}
	return fmt.Sprintf("%s %-6s %-24s %-4s %-6s %-6s wh:%d q:%d", mark, id, i.task.Name, state, i.task.TimeRange, i.task.InitialSendTime, i.task.Webhooks, i.task.Queries)
}

type Model struct {
	ctx  context.Context
	opts Options

	screen   screen
	username textinput.Model
	password textinput.Model
	focus    int

	list    list.Model
	snap    intercept.Snapshot
	editing bool
	edit    textinput.Model
	editIdx int

	status string
	failed bool
}

func New(ctx context.Context, opts Options) Model {
	opts.Guard = withGuardDefaults(opts.Guard)
	if opts.HasToken == nil {
		opts.HasToken = func() bool { return false }
	}

	m := Model{ctx: ctx, opts: opts}

	m.username = textinput.New()
	m.username.Placeholder = "username"
	m.username.SetValue(opts.Username)
	m.username.Focus()
	m.password = textinput.New()
	m.password.Placeholder = "password"
	m.password.EchoMode = textinput.EchoPassword
	m.edit = textinput.New()
	m.edit.Placeholder = tasks.DefaultTimeRange

	m.list = list.New(nil, itemDelegate{}, 80, 14)
	m.list.Title = "Push tasks"
	m.list.SetShowHelp(false)
	m.list.SetFilteringEnabled(false)

	m.screen = screenFor(opts.HasToken())
	if opts.Cache != nil {
		m = m.applySnapshot(opts.Cache.Last())
	}
	return m
}

func withGuardDefaults(o guard.Options) guard.Options {
	d := guard.DefaultOptions()
	if o.DeleteMessage == "" {
		o.DeleteMessage = d.DeleteMessage
	}
	if o.EditMessage == "" {
		o.EditMessage = d.EditMessage
	}
	return o
}

// screenFor runs the navigation guard for the task list route.
func screenFor(hasToken bool) screen {
	if auth.Resolve("/", hasToken) == "/" {
		return screenTasks
	}
	return screenLogin
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.awaitSnapshot(), textinput.Blink}
	if m.screen == screenTasks {
		cmds = append(cmds, m.refresh())
	}
	return tea.Batch(cmds...)
}

func (m Model) awaitSnapshot() tea.Cmd {
	if m.opts.Cache == nil {
		return nil
	}
	cache, ctx, after := m.opts.Cache, m.ctx, m.snap.Version
	return func() tea.Msg {
		snap, err := cache.Await(ctx, after)
		if err != nil {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func (m Model) refresh() tea.Cmd {
	backend, ctx := m.opts.Backend, m.ctx
	return func() tea.Msg {
		_, _, err := backend.ListTasks(ctx)
		return actionMsg{what: "refresh", err: err}
	}
}

func (m Model) applySnapshot(snap intercept.Snapshot) Model {
	m.snap = snap
	views := snap.Tasks()
	items := make([]list.Item, len(views))
	for i, t := range views {
		items[i] = taskItem{task: t, index: i, repaired: snap.Report.Touched(i)}
	}
	m.list.SetItems(items)
	return m
}

func (m Model) selected() (taskItem, bool) {
	it, ok := m.list.SelectedItem().(taskItem)
	return it, ok
}

// check runs the id guard for an action on the selected task. A refusal
// is reported the same way the page guard reports it.
func (m Model) check(intent guard.Intent) (taskItem, string, bool, Model) {
	it, ok := m.selected()
	if !ok {
		m.status, m.failed = "no task selected", true
		return it, "", false, m
	}
	id := it.task.IDString()
	if err := guard.ValidateID(id, it.task.ID != nil); err != nil {
		m.status, m.failed = m.opts.Guard.Message(intent), true
		if m.opts.OnBlock != nil {
			m.opts.OnBlock(guard.NewBlock(intent, id, err))
		}
		return it, id, false, m
	}
	return it, id, true, m
}

func (m Model) perform(what string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionMsg{what: what, err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if msg.Width > 0 && msg.Height > 8 {
			m.list.SetSize(msg.Width, msg.Height-8)
		}
		return m, nil
	case snapshotMsg:
		m = m.applySnapshot(intercept.Snapshot(msg))
		return m, m.awaitSnapshot()
	case loginMsg:
		if msg.err != nil {
			m.status, m.failed = "login failed: "+msg.err.Error(), true
			return m, nil
		}
		m.password.SetValue("")
		m.screen = screenFor(m.opts.HasToken())
		m.status, m.failed = "logged in", false
		return m, m.refresh()
	case actionMsg:
		return m.handleResult(msg)
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.screen == screenLogin {
			return m.updateLogin(msg)
		}
		if m.editing {
			return m.updateEdit(msg)
		}
		return m.updateTasks(msg)
	}
	return m, nil
}

func (m Model) handleResult(msg actionMsg) (tea.Model, tea.Cmd) {
	if errors.Is(msg.err, client.ErrUnauthorized) {
		m.screen = screenFor(false)
		m.status, m.failed = msg.err.Error(), true
		return m, nil
	}
	if msg.err != nil {
		m.status, m.failed = msg.what+" failed: "+msg.err.Error(), true
		return m, nil
	}
	m.status, m.failed = msg.what+" ok", false
	if msg.what == "refresh" {
		return m, nil
	}
	return m, m.refresh()
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		if m.focus == 0 && m.username.Value() == "" {
			return m, tea.Quit
		}
	case "tab", "shift+tab", "up", "down":
		m.focus = 1 - m.focus
		if m.focus == 0 {
			m.username.Focus()
			m.password.Blur()
		} else {
			m.password.Focus()
			m.username.Blur()
		}
		return m, nil
	case "enter":
		user, pass := strings.TrimSpace(m.username.Value()), m.password.Value()
		if user == "" || pass == "" {
			m.status, m.failed = "username and password are required", true
			return m, nil
		}
		backend, ctx := m.opts.Backend, m.ctx
		m.status, m.failed = "logging in...", false
		return m, func() tea.Msg {
			_, err := backend.Login(ctx, user, pass)
			return loginMsg{err: err}
		}
	}

	var cmd tea.Cmd
	if m.focus == 0 {
		m.username, cmd = m.username.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m Model) updateEdit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.editing = false
		m.edit.Blur()
		m.status, m.failed = "edit cancelled", false
		return m, nil
	case "enter":
		m.editing = false
		m.edit.Blur()
		if m.editIdx >= len(m.snap.Records) {
			return m, nil
		}
		rec := make(tasks.Record, len(m.snap.Records[m.editIdx]))
		for k, v := range m.snap.Records[m.editIdx] {
			rec[k] = v
		}
		if v := strings.TrimSpace(m.edit.Value()); v != "" {
			rec[tasks.FieldTimeRange] = v
		}
		id := tasks.View(rec).IDString()
		backend := m.opts.Backend
		return m, m.perform("edit", func(ctx context.Context) error {
			return backend.UpdateTask(ctx, id, rec)
		})
	}
	var cmd tea.Cmd
	m.edit, cmd = m.edit.Update(msg)
	return m, cmd
}

func (m Model) updateTasks(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	backend := m.opts.Backend
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "g":
		m.status, m.failed = "refreshing...", false
		return m, m.refresh()
	case "d":
		_, id, ok, next := m.check(guard.IntentDelete)
		if !ok {
			return next, nil
		}
		return next, next.perform("delete", func(ctx context.Context) error {
			return backend.DeleteTask(ctx, id)
		})
	case "t":
		it, id, ok, next := m.check(guard.IntentEdit)
		if !ok {
			return next, nil
		}
		enabled := !it.task.Enabled
		return next, next.perform("toggle", func(ctx context.Context) error {
			return backend.ToggleTask(ctx, id, enabled)
		})
	case "r":
		_, id, ok, next := m.check(guard.IntentEdit)
		if !ok {
			return next, nil
		}
		return next, next.perform("run", func(ctx context.Context) error {
			return backend.RunTask(ctx, id)
		})
	case "e":
		it, _, ok, next := m.check(guard.IntentEdit)
		if !ok {
			return next, nil
		}
		next.editing = true
		next.editIdx = it.index
		next.edit.SetValue(it.task.TimeRange)
		next.edit.Focus()
		next.status, next.failed = "new time range, enter to save, esc to cancel", false
		return next, textinput.Blink
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder
	if m.screen == screenLogin {
		b.WriteString(titleStyle.Render("pushguard login"))
		b.WriteString("\n\n ")
		b.WriteString(m.username.View())
		b.WriteString("\n ")
		b.WriteString(m.password.View())
		b.WriteString("\n\n")
		b.WriteString(m.statusView())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab: switch field | enter: log in | ctrl+c: quit"))
		return b.String()
	}

	b.WriteString(m.list.View())
	b.WriteString("\n")
	if m.editing {
		b.WriteString(" time range: ")
		b.WriteString(m.edit.View())
		b.WriteString("\n")
	}
	b.WriteString(m.statusView())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("d delete | t toggle | r run | e edit | g refresh | q quit   * repaired"))
	return b.String()
}

func (m Model) statusView() string {
	if m.status == "" {
		return ""
	}
	if m.failed {
		return errorStyle.Render(m.status)
	}
	return statusStyle.Render(m.status)
}

// Run starts the TUI program and blocks until it exits.
func Run(ctx context.Context, opts Options) error {
	p := tea.NewProgram(New(ctx, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Package tui implements the interactive notification history browser.
// It reads from the daemon socket and stays current through pushes.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/Dicklesworthstone/waynotify/internal/daemon"
	"github.com/Dicklesworthstone/waynotify/internal/notification"
	"github.com/Dicklesworthstone/waynotify/internal/tui/styles"
	"github.com/Dicklesworthstone/waynotify/internal/tui/theme"
	"github.com/Dicklesworthstone/waynotify/internal/utils"
)

const (
	requestTimeout = 3 * time.Second
	statusLifetime = 3 * time.Second
)

// Backend is the part of the daemon client the browser needs.
type Backend interface {
	GetAll(ctx context.Context) ([]daemon.NotificationView, error)
	InvokeAction(ctx context.Context, id uint32, key string) (bool, error)
	Dismiss(ctx context.Context, id uint32) (bool, error)
}

// Options configures the browser.
type Options struct {
	Backend Backend
	// Pushes, when set, keeps the list live.
	Pushes       <-chan daemon.Push
	Theme        string
	DisableMouse bool
}

// Model is the browser state.
type Model struct {
	backend Backend
	pushes  <-chan daemon.Push
	options Options

	list   list.Model
	help   help.Model
	keys   keyMap
	styles *styles.Styles

	width  int
	height int
	ready  bool
	live   bool

	status    string
	statusErr bool
	statusSeq int
}

type notificationItem struct {
	view   daemon.NotificationView
	action int
}

func (i notificationItem) Title() string {
	return fmt.Sprintf("#%d %s", i.view.ID, utils.OneLine(i.view.Summary))
}

func (i notificationItem) Description() string {
	parts := []string{}
	if i.view.AppName != "" {
		parts = append(parts, "["+utils.OneLine(i.view.AppName)+"]")
	}
	parts = append(parts, i.view.Urgency, i.view.State, age(i.view.CreatedAt))
	if body := utils.OneLine(notification.StripMarkup(i.view.Body)); body != "" {
		parts = append(parts, body)
	}
	return strings.Join(parts, " · ")
}

func (i notificationItem) FilterValue() string {
	return i.view.Summary + " " + i.view.Body + " " + i.view.AppName
}

// selectedAction returns the key the next invoke would use.
func (i notificationItem) selectedAction() (notification.Action, bool) {
	actions := i.view.ActionPairs()
	if len(actions) == 0 {
		return notification.Action{}, false
	}
	return actions[i.action%len(actions)], true
}

func newItem(v daemon.NotificationView) notificationItem {
	it := notificationItem{view: v}
	for idx, a := range v.ActionPairs() {
		if a.Key == "default" {
			it.action = idx
			break
		}
	}
	return it
}

type (
	loadedMsg struct {
		views []daemon.NotificationView
		err   error
	}
	pushMsg         daemon.Push
	pushesClosedMsg struct{}
	resultMsg       struct {
		text string
		err  error
	}
	clearStatusMsg struct{ seq int }
)

// New creates the browser model.
func New(opts Options) Model {
	theme.SetTheme(opts.Theme)
	st := styles.New()

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(theme.Current.Accent).
		BorderForeground(theme.Current.Accent)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(theme.Current.Subtext).
		BorderForeground(theme.Current.Accent)

	l := list.New(nil, delegate, 0, 0)
	l.Title = "Notifications"
	l.Styles.Title = st.Title
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.DisableQuitKeybindings()
	l.SetStatusBarItemName("notification", "notifications")

	return Model{
		backend: opts.Backend,
		pushes:  opts.Pushes,
		options: opts,
		list:    l,
		help:    help.New(),
		keys:    defaultKeyMap(),
		styles:  st,
		live:    opts.Pushes != nil,
	}
}

// Init loads the list and starts listening for pushes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), waitForPush(m.pushes))
}

func (m Model) load() tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		if backend == nil {
			return loadedMsg{err: errors.New("no daemon connection")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		views, err := backend.GetAll(ctx)
		return loadedMsg{views: views, err: err}
	}
}

func waitForPush(ch <-chan daemon.Push) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return pushesClosedMsg{}
		}
		return pushMsg(p)
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.help.Width = msg.Width
		m.list.SetSize(msg.Width, m.listHeight())
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case loadedMsg:
		if msg.err != nil {
			return m.setStatus("load failed: "+msg.err.Error(), true)
		}
		items := make([]list.Item, 0, len(msg.views))
		for i := len(msg.views) - 1; i >= 0; i-- {
			items = append(items, newItem(msg.views[i]))
		}
		cmd := m.list.SetItems(items)
		return m, cmd

	case pushMsg:
		cmd := m.applyPush(daemon.Push(msg))
		return m, tea.Batch(cmd, waitForPush(m.pushes))

	case pushesClosedMsg:
		m.live = false
		return m.setStatus("daemon connection closed", true)

	case resultMsg:
		if msg.err != nil {
			return m.setStatus(msg.err.Error(), true)
		}
		return m.setStatus(msg.text, false)

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
			m.statusErr = false
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.list.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.list.SetSize(m.width, m.listHeight())
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		return m, m.load()
	case key.Matches(msg, m.keys.Cycle):
		return m.cycleAction()
	case key.Matches(msg, m.keys.Invoke):
		return m.invokeSelected()
	case key.Matches(msg, m.keys.Dismiss):
		return m.dismissSelected()
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) cycleAction() (tea.Model, tea.Cmd) {
	it, ok := m.list.SelectedItem().(notificationItem)
	if !ok {
		return m, nil
	}
	n := len(it.view.ActionPairs())
	if n == 0 {
		return m.setStatus("no actions", true)
	}
	it.action = (it.action + 1) % n
	cmd := m.list.SetItem(m.list.Index(), it)
	return m, cmd
}

func (m Model) invokeSelected() (tea.Model, tea.Cmd) {
	it, ok := m.list.SelectedItem().(notificationItem)
	if !ok {
		return m, nil
	}
	action, ok := it.selectedAction()
	if !ok {
		return m.setStatus("no actions", true)
	}
	if m.backend == nil {
		return m, nil
	}
	backend, id := m.backend, it.view.ID
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		ok, err := backend.InvokeAction(ctx, id, action.Key)
		if err != nil {
			return resultMsg{err: fmt.Errorf("invoke %q: %w", action.Key, err)}
		}
		if !ok {
			return resultMsg{err: fmt.Errorf("invoke %q on #%d rejected", action.Key, id)}
		}
		return resultMsg{text: fmt.Sprintf("invoked %q on #%d", action.Label, id)}
	}
}

func (m Model) dismissSelected() (tea.Model, tea.Cmd) {
	it, ok := m.list.SelectedItem().(notificationItem)
	if !ok || m.backend == nil {
		return m, nil
	}
	backend, id := m.backend, it.view.ID
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		ok, err := backend.Dismiss(ctx, id)
		if err != nil {
			return resultMsg{err: fmt.Errorf("dismiss: %w", err)}
		}
		if !ok {
			return resultMsg{err: fmt.Errorf("#%d is already gone", id)}
		}
		return resultMsg{text: fmt.Sprintf("dismissed #%d", id)}
	}
}

// applyPush keeps the list in step with the daemon. New notifications go
// on top; replacements keep their position.
func (m *Model) applyPush(p daemon.Push) tea.Cmd {
	switch p.Type {
	case daemon.TypeNewNotification:
		if p.Notification == nil {
			return nil
		}
		v := *p.Notification
		if idx := m.indexOf(v.ID); idx >= 0 {
			old := m.list.Items()[idx].(notificationItem)
			it := newItem(v)
			if n := len(v.ActionPairs()); n > 0 && old.action < n {
				it.action = old.action
			}
			return m.list.SetItem(idx, it)
		}
		return m.list.InsertItem(0, newItem(v))
	case daemon.TypeNotificationClosed:
		if idx := m.indexOf(p.ID); idx >= 0 {
			m.list.RemoveItem(idx)
		}
	}
	return nil
}

func (m Model) indexOf(id uint32) int {
	for i, item := range m.list.Items() {
		if it, ok := item.(notificationItem); ok && it.view.ID == id {
			return i
		}
	}
	return -1
}

func (m Model) setStatus(text string, isErr bool) (tea.Model, tea.Cmd) {
	m.status = text
	m.statusErr = isErr
	m.statusSeq++
	seq := m.statusSeq
	return m, tea.Tick(statusLifetime, func(time.Time) tea.Msg {
		return clearStatusMsg{seq: seq}
	})
}

func (m Model) listHeight() int {
	h := m.height - 2 - lipgloss.Height(m.help.View(m.keys))
	if h < 1 {
		h = 1
	}
	return h
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	var b strings.Builder
	b.WriteString(m.list.View())
	b.WriteString("\n")
	b.WriteString(m.actionBar())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) actionBar() string {
	if m.status != "" {
		if m.statusErr {
			return m.styles.Error.Render(m.status)
		}
		return m.styles.Status.Render(m.status)
	}
	it, ok := m.list.SelectedItem().(notificationItem)
	if !ok {
		if m.live {
			return m.styles.Dimmed.Render("waiting for notifications")
		}
		return m.styles.Dimmed.Render("no notifications")
	}
	actions := it.view.ActionPairs()
	parts := []string{m.styles.UrgencyBadge(it.view.Urgency), m.styles.StateLabel(it.view.State)}
	for idx, a := range actions {
		label := a.Label
		if label == "" {
			label = a.Key
		}
		if idx == it.action%len(actions) {
			parts = append(parts, m.styles.Action.Render(label))
		} else {
			parts = append(parts, m.styles.Dimmed.Render(label))
		}
	}
	return strings.Join(parts, " ")
}

// Run starts the browser and blocks until it quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	progOpts := []tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}
	if !opts.DisableMouse {
		progOpts = append(progOpts, tea.WithMouseCellMotion())
	}
	p := tea.NewProgram(New(opts), progOpts...)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func age(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}

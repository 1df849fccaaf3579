// Package tui is the terminal front end of pushdeck.
package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tOgg1/pushdeck/internal/apps"
	"github.com/tOgg1/pushdeck/internal/events"
	"github.com/tOgg1/pushdeck/internal/messages"
	"github.com/tOgg1/pushdeck/internal/models"
	"github.com/tOgg1/pushdeck/internal/notify"
	"github.com/tOgg1/pushdeck/internal/stream"
)

const requestTimeout = 15 * time.Second

// Backend performs user actions. live.Session implements it.
type Backend interface {
	LoadMore(ctx context.Context, partition int64) error
	Delete(m models.Message, view int64) bool
	Undo(id int64) bool
	Dismiss(id int64) bool
	DeletePartition(ctx context.Context, partition int64) error
	Retry()
	Status() stream.Status
}

// Source is the read side of the message store.
type Source interface {
	Snapshot(partition int64) messages.PartitionState
	Enriched(partition int64) []messages.Enriched
	Subscribe(filter events.Filter, handler events.Handler) func()
}

// Directory lists applications for the partition tabs.
type Directory interface {
	List() []apps.Info
}

// Config wires a Model.
type Config struct {
	Backend        Backend
	Store          Source
	Apps           Directory
	Feed           *notify.Feed
	Theme          string
	ShowTimestamps bool
}

type storeChangedMsg struct{}

type feedChangedMsg struct{}

type loadDoneMsg struct {
	partition int64
	err       error
}

type deletePartitionDoneMsg struct {
	partition int64
	err       error
}

type tickMsg time.Time

// Model is the bubbletea model of the message console.
type Model struct {
	backend  Backend
	store    Source
	apps     Directory
	feed     *notify.Feed
	styles   styles
	showTime bool

	changes     chan struct{}
	unsubscribe func()

	width  int
	height int

	tabs     []apps.Info
	active   int
	cursor   map[int64]int
	offset   map[int64]int
	confirm  bool
	showHelp bool
	lastErr  error
	now      time.Time
}

// NewModel creates the model and subscribes to store changes.
func NewModel(cfg Config) (*Model, error) {
	if cfg.Backend == nil || cfg.Store == nil {
		return nil, errors.New("tui: backend and store are required")
	}
	theme := cfg.Theme
	if theme == "" {
		theme = "default"
	}
	st, err := newStyles(theme)
	if err != nil {
		return nil, err
	}
	if cfg.Feed == nil {
		cfg.Feed = notify.NewFeed(5)
	}

	m := &Model{
		backend:  cfg.Backend,
		store:    cfg.Store,
		apps:     cfg.Apps,
		feed:     cfg.Feed,
		styles:   st,
		showTime: cfg.ShowTimestamps,
		changes:  make(chan struct{}, 1),
		cursor:   make(map[int64]int),
		offset:   make(map[int64]int),
		now:      time.Now(),
	}
	m.unsubscribe = cfg.Store.Subscribe(events.Filter{}, func(events.Event) {
		select {
		case m.changes <- struct{}{}:
		default:
		}
	})
	m.refreshTabs()
	return m, nil
}

// Close releases the store subscription.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadCmd(models.PartitionAll),
		waitForChange(m.changes),
		waitForFeed(m.feed),
		tickCmd(),
	)
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return storeChangedMsg{}
	}
}

func waitForFeed(feed *notify.Feed) tea.Cmd {
	return func() tea.Msg {
		<-feed.Changed()
		return feedChangedMsg{}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) loadCmd(partition int64) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return loadDoneMsg{partition: partition, err: backend.LoadMore(ctx, partition)}
	}
}

func (m *Model) deletePartitionCmd(partition int64) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return deletePartitionDoneMsg{partition: partition, err: backend.DeletePartition(ctx, partition)}
	}
}

// refreshTabs rebuilds the tab list: the aggregate partition first, then
// applications by name. The active partition is kept when it still exists.
func (m *Model) refreshTabs() {
	current := models.PartitionAll
	if m.active < len(m.tabs) {
		current = m.tabs[m.active].ID
	}

	tabs := []apps.Info{{ID: models.PartitionAll, Name: "All"}}
	if m.apps != nil {
		tabs = append(tabs, m.apps.List()...)
	}
	m.tabs = tabs
	m.active = 0
	for i, tab := range tabs {
		if tab.ID == current {
			m.active = i
			break
		}
	}
}

func (m *Model) partition() int64 {
	if m.active < len(m.tabs) {
		return m.tabs[m.active].ID
	}
	return models.PartitionAll
}

func (m *Model) items() []messages.Enriched {
	return m.store.Enriched(m.partition())
}

func (m *Model) clampCursor() {
	p := m.partition()
	n := len(m.items())
	if m.cursor[p] >= n {
		m.cursor[p] = n - 1
	}
	if m.cursor[p] < 0 {
		m.cursor[p] = 0
	}
}

func (m *Model) selected() (messages.Enriched, bool) {
	list := m.items()
	idx := m.cursor[m.partition()]
	if idx < 0 || idx >= len(list) {
		return messages.Enriched{}, false
	}
	return list[idx], true
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case storeChangedMsg:
		m.refreshTabs()
		m.clampCursor()
		return m, waitForChange(m.changes)

	case feedChangedMsg:
		return m, waitForFeed(m.feed)

	case tickMsg:
		m.now = time.Time(msg)
		m.feed.DropNoticesBefore(m.now.Add(-10 * time.Second))
		return m, tickCmd()

	case loadDoneMsg:
		m.lastErr = msg.err
		m.refreshTabs()
		return m, nil

	case deletePartitionDoneMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.cursor[msg.partition] = 0
			m.offset[msg.partition] = 0
			return m, m.loadCmd(msg.partition)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if m.confirm {
		m.confirm = false
		if key == "y" || key == "Y" {
			return m, m.deletePartitionCmd(m.partition())
		}
		return m, nil
	}

	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
	case "tab", "right", "l":
		return m, m.switchTab(1)
	case "shift+tab", "left", "h":
		return m, m.switchTab(-1)
	case "down", "j":
		return m, m.moveCursor(1)
	case "up", "k":
		return m, m.moveCursor(-1)
	case "g", "home":
		m.cursor[m.partition()] = 0
	case "G", "end":
		m.cursor[m.partition()] = len(m.items()) - 1
		m.clampCursor()
		return m, m.maybeLoadMore()
	case "m":
		return m, m.loadCmd(m.partition())
	case "d", "delete":
		if item, ok := m.selected(); ok {
			m.backend.Delete(item.Item, m.partition())
			m.clampCursor()
		}
	case "u":
		if p, ok := m.latestPrompt(); ok {
			m.backend.Undo(p.MessageID)
		}
	case "x":
		if p, ok := m.latestPrompt(); ok {
			m.backend.Dismiss(p.MessageID)
		}
	case "D":
		m.confirm = true
	case "r":
		if m.feed.State().Banner.Visible {
			m.backend.Retry()
		}
	}
	return m, nil
}

func (m *Model) switchTab(delta int) tea.Cmd {
	if len(m.tabs) == 0 {
		return nil
	}
	m.active = (m.active + delta + len(m.tabs)) % len(m.tabs)
	if !m.store.Snapshot(m.partition()).Loaded {
		return m.loadCmd(m.partition())
	}
	return nil
}

func (m *Model) moveCursor(delta int) tea.Cmd {
	p := m.partition()
	m.cursor[p] += delta
	m.clampCursor()
	return m.maybeLoadMore()
}

// maybeLoadMore fetches the next page once the cursor reaches the tail.
func (m *Model) maybeLoadMore() tea.Cmd {
	p := m.partition()
	state := m.store.Snapshot(p)
	if !state.HasMore || state.Loading {
		return nil
	}
	if m.cursor[p] < len(state.Messages)-1 {
		return nil
	}
	return m.loadCmd(p)
}

// latestPrompt is the most recently opened undo prompt.
func (m *Model) latestPrompt() (notify.Prompt, bool) {
	prompts := m.feed.State().Prompts
	if len(prompts) == 0 {
		return notify.Prompt{}, false
	}
	return prompts[len(prompts)-1], true
}

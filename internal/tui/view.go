package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tOgg1/pushdeck/internal/messages"
	"github.com/tOgg1/pushdeck/internal/notify"
	"github.com/tOgg1/pushdeck/internal/stream"
)

const helpText = `tab/shift+tab  switch application
j/k            move
d              delete message
u              undo last delete
x              delete now (skip undo)
m              load older messages
D              delete every message in this tab
r              retry connection
q              quit`

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	st := m.feed.State()
	if st.Banner.Visible {
		line := st.Banner.Text
		if st.Banner.Retryable {
			line += " Press r to retry."
		}
		b.WriteString(m.styles.banner.Render(line))
		b.WriteString("\n")
	}

	if m.showHelp {
		b.WriteString(helpText)
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.renderList(m.listHeight(st)))
	b.WriteString(m.renderFooter(st))
	return b.String()
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs)+1)
	for i, tab := range m.tabs {
		name := tab.Name
		if name == "" {
			name = fmt.Sprintf("app %d", tab.ID)
		}
		if i == m.active {
			parts = append(parts, m.styles.activeTab.Render(name))
		} else {
			parts = append(parts, m.styles.tab.Render(name))
		}
	}
	parts = append(parts, m.styles.muted.Render(m.statusLabel()))
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) statusLabel() string {
	switch m.backend.Status() {
	case stream.Connected:
		return "● live"
	case stream.Connecting:
		return "○ connecting"
	default:
		return "○ offline"
	}
}

func (m *Model) listHeight(st notify.State) int {
	if m.height <= 0 {
		return 20
	}
	reserved := 3 + len(st.Prompts) + len(st.Notices)
	if st.Banner.Visible {
		reserved++
	}
	if h := m.height - reserved; h > 1 {
		return h
	}
	return 1
}

func (m *Model) renderList(height int) string {
	p := m.partition()
	state := m.store.Snapshot(p)
	items := m.items()

	if len(items) == 0 {
		switch {
		case state.Loading || !state.Loaded:
			return m.styles.muted.Render("Loading...") + "\n"
		default:
			return m.styles.muted.Render("No messages") + "\n"
		}
	}

	cursor := m.cursor[p]
	offset := m.offset[p]
	if cursor < offset {
		offset = cursor
	}
	if cursor >= offset+height {
		offset = cursor - height + 1
	}
	m.offset[p] = offset

	var b strings.Builder
	end := offset + height
	if end > len(items) {
		end = len(items)
	}
	for i := offset; i < end; i++ {
		line := m.renderItem(items[i])
		if i == cursor {
			line = m.styles.selected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if end == len(items) && state.HasMore {
		b.WriteString(m.styles.muted.Render("  m to load older messages"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderItem(item messages.Enriched) string {
	var parts []string
	if m.showTime {
		parts = append(parts, m.styles.muted.Render(item.Item.Date.Local().Format("01-02 15:04")))
	}
	prio := m.styles.priorityStyle(item.Item.Priority).Render(fmt.Sprintf("P%-2d", item.Item.Priority))
	parts = append(parts, prio)
	if item.AppName != "" {
		parts = append(parts, m.styles.accent.Render(item.AppName))
	}
	if item.Item.Title != "" {
		parts = append(parts, lipgloss.NewStyle().Bold(true).Render(item.Item.Title))
	}
	parts = append(parts, firstLine(item.Item.Message))

	line := strings.Join(parts, " ")
	if m.width > 0 && lipgloss.Width(line) > m.width {
		line = truncate(line, m.width)
	}
	return line
}

func (m *Model) renderFooter(st notify.State) string {
	var lines []string
	for _, p := range st.Prompts {
		left := p.Deadline.Sub(m.now).Round(time.Second)
		if left < 0 {
			left = 0
		}
		lines = append(lines, fmt.Sprintf("%s. u to undo, x to confirm (%s)", p.Text, left))
	}
	for _, n := range st.Notices {
		text := n.Text
		if n.Level == notify.LevelError {
			text = m.styles.errorText.Render(text)
		}
		lines = append(lines, text)
	}
	if m.confirm {
		lines = append(lines, m.styles.errorText.Render("Delete every message in this tab? y/N"))
	}
	if m.lastErr != nil && len(st.Notices) == 0 && !st.Banner.Visible {
		lines = append(lines, m.styles.errorText.Render(m.lastErr.Error()))
	}
	if len(lines) == 0 {
		lines = append(lines, "? help")
	}
	return m.styles.footer.Render(strings.Join(lines, "\n"))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, width int) string {
	if width <= 1 {
		return ""
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes)) > width-1 {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

package tui

import (
	"fmt"
	"strings"
	"time"

	"autoflow-cli/internal/app"
)

// Recency buckets for the history drawer.
const (
	bucketToday     = "Today"
	bucketYesterday = "Yesterday"
	bucketWeek      = "Last 7 days"
	bucketOlder     = "Older"
)

// bucketFor places an activity time into its recency bucket relative to
// now.
func bucketFor(t, now time.Time) string {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case !t.Before(startOfDay):
		return bucketToday
	case !t.Before(startOfDay.AddDate(0, 0, -1)):
		return bucketYesterday
	case !t.Before(startOfDay.AddDate(0, 0, -6)):
		return bucketWeek
	default:
		return bucketOlder
	}
}

type historyRow struct {
	header  bool
	bucket  string
	summary app.ConversationSummary
}

// buildHistoryRows flattens summaries (already sorted by last activity,
// newest first) into bucket headers plus items.
func buildHistoryRows(summaries []app.ConversationSummary, now time.Time) []historyRow {
	var rows []historyRow
	last := ""
	for _, s := range summaries {
		b := bucketFor(s.LastActivity, now)
		if b != last {
			rows = append(rows, historyRow{header: true, bucket: b})
			last = b
		}
		rows = append(rows, historyRow{summary: s})
	}
	return rows
}

// historyModel is the conversation drawer: summaries grouped by recency,
// with selection and delete.
type historyModel struct {
	theme  Theme
	rows   []historyRow
	sel    int
	width  int
	height int
}

func newHistoryModel(theme Theme) historyModel {
	return historyModel{theme: theme, width: 40, height: 20}
}

func (m *historyModel) SetTheme(theme Theme) { m.theme = theme }

func (m *historyModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

func (m *historyModel) SetSummaries(summaries []app.ConversationSummary) {
	selected := m.SelectedID()
	m.rows = buildHistoryRows(summaries, time.Now())
	m.sel = m.firstItem()
	if selected != "" {
		for i, r := range m.rows {
			if !r.header && r.summary.ID == selected {
				m.sel = i
				break
			}
		}
	}
}

func (m *historyModel) firstItem() int {
	for i, r := range m.rows {
		if !r.header {
			return i
		}
	}
	return -1
}

// Move shifts the selection over items, skipping bucket headers.
func (m *historyModel) Move(delta int) {
	if len(m.rows) == 0 {
		return
	}
	i := m.sel
	for {
		i += delta
		if i < 0 || i >= len(m.rows) {
			return
		}
		if !m.rows[i].header {
			m.sel = i
			return
		}
	}
}

func (m *historyModel) SelectedID() string {
	if m.sel < 0 || m.sel >= len(m.rows) || m.rows[m.sel].header {
		return ""
	}
	return m.rows[m.sel].summary.ID
}

func (m *historyModel) View() string {
	title := m.theme.PaneTitle.Render("Conversations")
	if len(m.rows) == 0 {
		body := m.theme.Hint.Render("No conversations yet.")
		return m.theme.PaneBox.Width(m.width).Height(m.height).Render(title + "\n\n" + body)
	}

	var b strings.Builder
	visible := m.height - 3
	if visible < 1 {
		visible = 1
	}
	start := 0
	if m.sel >= visible {
		start = m.sel - visible + 1
	}
	end := start + visible
	if end > len(m.rows) {
		end = len(m.rows)
	}

	for i := start; i < end; i++ {
		r := m.rows[i]
		if r.header {
			b.WriteString(m.theme.Bucket.Render(r.bucket))
			b.WriteString("\n")
			continue
		}
		line := m.renderItem(r.summary, i == m.sel)
		b.WriteString(line)
		if i != end-1 {
			b.WriteString("\n")
		}
	}
	hint := m.theme.Hint.Render("enter open  d delete  esc close")
	return m.theme.PaneBox.Width(m.width).Height(m.height).Render(title + "\n" + b.String() + "\n" + hint)
}

func (m *historyModel) renderItem(s app.ConversationSummary, selected bool) string {
	name := s.RepoName
	if name == "" {
		name = s.RepoURL
	}
	badge := statusBadge(m.theme, s.Status)
	label := fmt.Sprintf("%s %s (%d)", badge, name, s.MessageCount)
	label = truncateRunes(label, max(12, m.width-6))
	if selected {
		return m.theme.ListItemSel.Render("> " + label)
	}
	return m.theme.ListItem.Render("  " + label)
}

func statusBadge(t Theme, s app.Status) string {
	switch {
	case s == app.StatusCompleted:
		return t.StatusOK.Render("✓")
	case s == app.StatusFailed:
		return t.StatusErr.Render("✗")
	default:
		return t.StatusRun.Render("●")
	}
}

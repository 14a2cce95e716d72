package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"autoflow-cli/internal/app"
)

type overlayKind int

const (
	overlayNone overlayKind = iota
	overlayHistory
	overlayMetrics
)

type coordEventMsg struct{ ev app.Event }

type spinMsg struct{}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// scrollSlack is how close to the bottom (in lines) still counts as
// following the stream.
const scrollSlack = 2

// Model is the root TUI: transcript viewport, composer, history drawer and
// metrics overlay. All conversation state lives in the coordinator; the
// model re-reads it whenever a coordinator event arrives.
type Model struct {
	coord   *app.Coordinator
	metrics metricsModel
	history historyModel

	theme    Theme
	markdown *MarkdownRenderer

	input  textarea.Model
	chatVP viewport.Model

	overlay overlayKind

	width  int
	height int
	ready  bool

	followBottom bool
	newMessages  bool

	repoURL     string
	attachments []app.LogFile
	pastedLogs  []string
	inputErr    string
	alert       string

	loading    bool
	spinnerPos int
}

func New(coord *app.Coordinator, provider MetricsProvider) *Model {
	theme := ThemeFor(coord.Theme())

	ta := textarea.New()
	ta.Placeholder = "Describe what the agent should do… (/repo sets the repository, /attach adds a log file)"
	ta.Focus()
	ta.CharLimit = 8000
	ta.SetHeight(3)
	ta.Prompt = "▍ "
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()

	return &Model{
		coord:        coord,
		metrics:      newMetricsModel(theme, provider),
		history:      newHistoryModel(theme),
		theme:        theme,
		markdown:     NewMarkdownRenderer(theme),
		input:        ta,
		width:        100,
		height:       30,
		followBottom: true,
		repoURL:      coord.LastRepoURL(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.waitEvent(),
		func() tea.Msg {
			m.coord.RefreshConversations()
			return nil
		},
	)
}

// waitEvent bridges the coordinator's notification channel into the
// Bubble Tea loop, one event per command.
func (m *Model) waitEvent() tea.Cmd {
	events := m.coord.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return coordEventMsg{ev: ev}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chatH := m.chatHeight()
		if !m.ready {
			m.chatVP = viewport.New(m.width-2, chatH)
			m.ready = true
		} else {
			m.chatVP.Width = m.width - 2
			m.chatVP.Height = chatH
		}
		m.input.SetWidth(max(10, m.width-6))
		m.history.SetSize(m.width-4, chatH)
		m.metrics.SetSize(m.width-4, chatH)
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case coordEventMsg:
		return m.handleCoordEvent(msg.ev)

	case metricsLoadedMsg:
		m.metrics.Apply(msg)
		return m, nil

	case spinMsg:
		m.spinnerPos = (m.spinnerPos + 1) % len(spinnerFrames)
		if m.loading {
			return m, m.spinTick()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleCoordEvent(ev app.Event) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{m.waitEvent()}
	switch ev.Kind {
	case app.EventMessages:
		m.refreshTranscript()
	case app.EventLoading:
		wasLoading := m.loading
		m.loading = m.coord.Loading()
		if m.loading && !wasLoading {
			cmds = append(cmds, m.spinTick())
		}
	case app.EventConversations:
		m.history.SetSummaries(m.coord.Conversations())
	case app.EventTheme:
		m.applyTheme(ThemeFor(m.coord.Theme()))
	case app.EventAlert:
		m.alert = ev.Alert
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.overlay == overlayHistory {
		return m.handleHistoryKey(msg)
	}
	if m.overlay == overlayMetrics {
		return m.handleMetricsKey(msg)
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		m.coord.Close()
		return m, tea.Quit
	case tea.KeyCtrlN:
		m.coord.NewChat()
		m.alert = ""
		m.inputErr = ""
		m.attachments = nil
		m.pastedLogs = nil
		return m, nil
	case tea.KeyCtrlH:
		m.overlay = overlayHistory
		m.history.SetSummaries(m.coord.Conversations())
		return m, func() tea.Msg {
			m.coord.RefreshConversations()
			return nil
		}
	case tea.KeyCtrlG:
		m.overlay = overlayMetrics
		return m, m.metrics.Activate(tabDashboard)
	case tea.KeyCtrlT:
		m.coord.SetTheme(string(m.theme.Toggle()))
		return m, nil
	case tea.KeyPgUp:
		m.chatVP.ViewUp()
		m.followBottom = m.atBottom()
		return m, nil
	case tea.KeyPgDown:
		m.chatVP.ViewDown()
		m.syncFollowAfterScroll()
		return m, nil
	case tea.KeyEnd:
		m.chatVP.GotoBottom()
		m.followBottom = true
		m.newMessages = false
		return m, nil
	case tea.KeyEnter:
		return m, m.onEnter()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyEsc:
		m.overlay = overlayNone
	case msg.Type == tea.KeyUp:
		m.history.Move(-1)
	case msg.Type == tea.KeyDown:
		m.history.Move(1)
	case msg.Type == tea.KeyEnter:
		if id := m.history.SelectedID(); id != "" {
			m.overlay = overlayNone
			m.followBottom = true
			m.alert = ""
			m.coord.Select(id)
		}
	case msg.String() == "d":
		if id := m.history.SelectedID(); id != "" {
			m.coord.Delete(id)
		}
	case msg.Type == tea.KeyCtrlC:
		m.coord.Close()
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) handleMetricsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.overlay = overlayNone
	case tea.KeyTab:
		return m, m.metrics.NextTab()
	case tea.KeyCtrlC:
		m.coord.Close()
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) onEnter() tea.Cmd {
	val := strings.TrimSpace(m.input.Value())
	if val == "" && len(m.attachments) == 0 && len(m.pastedLogs) == 0 {
		return nil
	}

	if strings.HasPrefix(val, "/") {
		m.runSlashCommand(val)
		m.input.Reset()
		return nil
	}

	// Pasted stack traces and log dumps become a chip, not inline text.
	// The stripped composer keeps the prose; Enter again sends both.
	if req, logs := app.SplitRequirementAndLogs(val); logs != "" {
		m.pastedLogs = append(m.pastedLogs, logs)
		m.input.SetValue(req)
		m.inputErr = ""
		return nil
	}

	text := val
	if len(m.pastedLogs) > 0 {
		text = val + "\n\n" + strings.Join(m.pastedLogs, "\n\n")
	}
	if err := m.coord.Send(text, m.repoURL, m.attachments); err != nil {
		m.inputErr = err.Error()
		return nil
	}
	m.input.Reset()
	m.attachments = nil
	m.pastedLogs = nil
	m.inputErr = ""
	m.alert = ""
	m.followBottom = true
	m.newMessages = false
	return nil
}

func (m *Model) runSlashCommand(val string) {
	cmd, arg, _ := strings.Cut(val, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/repo":
		if !app.IsValidRepoURL(arg) {
			m.inputErr = "not a valid repository URL"
			return
		}
		m.repoURL = arg
		m.inputErr = ""
	case "/attach":
		m.attachLogFile(arg)
	case "/new":
		m.coord.NewChat()
	case "/theme":
		m.coord.SetTheme(string(m.theme.Toggle()))
	default:
		m.inputErr = fmt.Sprintf("unknown command %s", cmd)
	}
}

func (m *Model) attachLogFile(path string) {
	if path == "" {
		m.inputErr = "usage: /attach <path>"
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		m.inputErr = fmt.Sprintf("cannot read %s: %v", path, err)
		return
	}
	m.attachments = append(m.attachments, app.LogFile{
		Name:    filepath.Base(path),
		Content: data,
	})
	m.inputErr = ""
}

func (m *Model) applyTheme(theme Theme) {
	m.theme = theme
	m.markdown = NewMarkdownRenderer(theme)
	m.history.SetTheme(theme)
	m.metrics.SetTheme(theme)
	m.refreshTranscript()
}

// refreshTranscript re-renders the transcript. While the user follows the
// bottom the view sticks to it; once they scroll away, an incoming agent
// message raises the new-messages hint instead of yanking the view down.
func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}
	msgs := m.coord.Messages()
	width := max(20, m.chatVP.Width-2)

	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(m.renderMessage(msg, width))
		b.WriteString("\n\n")
	}
	m.chatVP.SetContent(strings.TrimRight(b.String(), "\n"))

	if m.followBottom {
		m.chatVP.GotoBottom()
		m.newMessages = false
		return
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role != app.RoleUser {
		m.newMessages = true
	}
}

func (m *Model) renderMessage(msg app.Message, width int) string {
	var head string
	switch msg.Role {
	case app.RoleUser:
		head = m.theme.RoleUser.Render("YOU")
	default:
		name := msg.AgentName
		if name == "" {
			name = "AGENT"
		}
		head = m.theme.RoleAgent.Render(strings.ToUpper(name))
	}
	meta := m.theme.TopBarMeta.Render(msg.Timestamp.Format("15:04"))
	header := head + " " + meta + " " + m.messageStatus(msg)

	var body string
	if msg.Role == app.RoleAgent {
		body = m.markdown.Render(msg.Content, width)
	} else {
		body = lipgloss.NewStyle().Foreground(m.theme.TextPrimary).Width(width).Render(msg.Content)
	}
	return header + "\n" + body
}

func (m *Model) messageStatus(msg app.Message) string {
	switch msg.Status {
	case app.StatusRunning:
		label := "running"
		if msg.Progress > 0 && msg.Progress < 1 {
			label = fmt.Sprintf("running %d%%", int(msg.Progress*100))
		}
		return m.theme.StatusRun.Render(label)
	case app.StatusCompleted:
		return m.theme.StatusOK.Render("done")
	case app.StatusFailed:
		return m.theme.StatusErr.Render("failed")
	}
	return ""
}

func (m *Model) atBottom() bool {
	return m.chatVP.ScrollPercent() >= 1 || m.chatVP.TotalLineCount() <= m.chatVP.Height+scrollSlack
}

func (m *Model) syncFollowAfterScroll() {
	m.followBottom = m.atBottom()
	if m.followBottom {
		m.newMessages = false
	}
}

func (m *Model) chatHeight() int {
	// Top bar, composer (3 + border), status line, footer.
	h := m.height - 1 - 5 - 1 - 1
	if h < 3 {
		h = 3
	}
	return h
}

func (m *Model) spinTick() tea.Cmd {
	return tea.Tick(90*time.Millisecond, func(time.Time) tea.Msg { return spinMsg{} })
}

func (m *Model) View() string {
	if !m.ready {
		return "…"
	}

	top := m.renderTopBar()

	var main string
	switch m.overlay {
	case overlayHistory:
		main = m.history.View()
	case overlayMetrics:
		main = m.metrics.View()
	default:
		main = m.chatVP.View()
	}

	status := m.renderStatusLine()
	input := m.theme.InputBox.Width(max(10, m.width-2)).Render(m.input.View())
	footer := m.theme.Footer.Width(m.width).Render(m.footerHints())

	return lipgloss.JoinVertical(lipgloss.Left, top, main, status, input, footer)
}

func (m *Model) renderTopBar() string {
	left := m.theme.TopBarTitle.Render("autoflow")
	if m.repoURL != "" {
		left += " " + m.theme.TopBarBadge.Render(displayRepo(m.repoURL))
	}

	var mid string
	if m.loading {
		mid = m.theme.Spinner.Render(spinnerFrames[m.spinnerPos] + " working…")
	} else if m.coord.FocusedID() == "" {
		mid = m.theme.TopBarMeta.Render("new conversation")
	}

	right := m.theme.TopBarMeta.Render(time.Now().Format("15:04"))
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(mid) - lipgloss.Width(right)
	if gap < 2 {
		gap = 2
	}
	a := gap / 2
	return m.theme.TopBar.Render(left + strings.Repeat(" ", a) + mid + strings.Repeat(" ", gap-a) + right)
}

func (m *Model) renderStatusLine() string {
	switch {
	case m.inputErr != "":
		return m.theme.InputError.Render("✗ " + m.inputErr)
	case m.alert != "":
		return m.theme.Alert.Render("! " + m.alert)
	case m.newMessages:
		return m.theme.Hint.Render("↓ new messages (End to jump)")
	case len(m.attachments) > 0 || len(m.pastedLogs) > 0:
		var chips []string
		for i := range m.pastedLogs {
			chips = append(chips, fmt.Sprintf("[Log %d: pasted]", i+1))
		}
		for i, a := range m.attachments {
			chips = append(chips, fmt.Sprintf("[Log %d: %s]", len(m.pastedLogs)+i+1, a.Name))
		}
		return m.theme.Attachment.Render(strings.Join(chips, " "))
	}
	return ""
}

func (m *Model) footerHints() string {
	hints := "Enter send  Ctrl+N new  Ctrl+H history  Ctrl+G metrics  Ctrl+T theme  Ctrl+C quit"
	if m.width < 90 {
		hints = "Enter send  ^N new  ^H history  ^G metrics  ^C quit"
	}
	return hints
}

func displayRepo(repoURL string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(repoURL, "https://"), "http://")
	return truncateRunes(s, 40)
}

func truncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	if maxRunes <= 1 {
		return string(r[:maxRunes])
	}
	return string(r[:maxRunes-1]) + "…"
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

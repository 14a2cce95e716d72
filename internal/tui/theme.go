package tui

import "github.com/charmbracelet/lipgloss"

type ThemeName string

const (
	ThemeLight ThemeName = "light"
	ThemeDark  ThemeName = "dark"
)

type Theme struct {
	Name ThemeName

	TextPrimary lipgloss.Color
	TextMuted   lipgloss.Color
	TextFaint   lipgloss.Color

	Accent  lipgloss.Color
	Success lipgloss.Color
	Warn    lipgloss.Color
	Error   lipgloss.Color
	Border  lipgloss.Color

	TopBar      lipgloss.Style
	TopBarTitle lipgloss.Style
	TopBarBadge lipgloss.Style
	TopBarMeta  lipgloss.Style
	Footer      lipgloss.Style
	Spinner     lipgloss.Style
	Alert       lipgloss.Style
	Hint        lipgloss.Style

	InputBox    lipgloss.Style
	InputError  lipgloss.Style
	Attachment  lipgloss.Style
	PaneBox     lipgloss.Style
	PaneTitle   lipgloss.Style
	ListItem    lipgloss.Style
	ListItemSel lipgloss.Style
	Bucket      lipgloss.Style

	RoleUser   lipgloss.Style
	RoleAgent  lipgloss.Style
	StatusOK   lipgloss.Style
	StatusErr  lipgloss.Style
	StatusRun  lipgloss.Style
	MetricsTab lipgloss.Style
	MetricsSel lipgloss.Style
}

// ThemeFor maps the persisted theme name onto a palette. Anything
// unrecognized falls back to dark.
func ThemeFor(name string) Theme {
	if ThemeName(name) == ThemeLight {
		return newLightTheme()
	}
	return newDarkTheme()
}

// Toggle returns the other theme's name.
func (t Theme) Toggle() ThemeName {
	if t.Name == ThemeLight {
		return ThemeDark
	}
	return ThemeLight
}

func newDarkTheme() Theme {
	t := Theme{
		Name:        ThemeDark,
		TextPrimary: lipgloss.Color("#eaeaea"),
		TextMuted:   lipgloss.Color("#b7b7b7"),
		TextFaint:   lipgloss.Color("#8d8d8d"),
		Accent:      lipgloss.Color("#7aa2ff"),
		Success:     lipgloss.Color("#46d1b7"),
		Warn:        lipgloss.Color("#f4b27d"),
		Error:       lipgloss.Color("#ff7a7a"),
		Border:      lipgloss.Color("#3a3a3a"),
	}
	return t.buildStyles()
}

func newLightTheme() Theme {
	t := Theme{
		Name:        ThemeLight,
		TextPrimary: lipgloss.Color("#1d2433"),
		TextMuted:   lipgloss.Color("#4a5568"),
		TextFaint:   lipgloss.Color("#718096"),
		Accent:      lipgloss.Color("#1f6feb"),
		Success:     lipgloss.Color("#0f766e"),
		Warn:        lipgloss.Color("#b45309"),
		Error:       lipgloss.Color("#b42318"),
		Border:      lipgloss.Color("#cbd5e0"),
	}
	return t.buildStyles()
}

func (t Theme) buildStyles() Theme {
	t.TopBar = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.TopBarTitle = lipgloss.NewStyle().Bold(true).Foreground(t.TextPrimary)
	t.TopBarBadge = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
	t.TopBarMeta = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.Footer = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.Spinner = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
	t.Alert = lipgloss.NewStyle().Bold(true).Foreground(t.Error)
	t.Hint = lipgloss.NewStyle().Foreground(t.TextFaint)

	t.InputBox = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(t.Border).Padding(0, 1)
	t.InputError = lipgloss.NewStyle().Foreground(t.Error)
	t.Attachment = lipgloss.NewStyle().Foreground(t.Warn)
	t.PaneBox = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(t.Border).Padding(0, 1)
	t.PaneTitle = lipgloss.NewStyle().Bold(true).Foreground(t.TextPrimary)
	t.ListItem = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.ListItemSel = lipgloss.NewStyle().Bold(true).Foreground(t.TextPrimary)
	t.Bucket = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)

	t.RoleUser = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
	t.RoleAgent = lipgloss.NewStyle().Bold(true).Foreground(t.TextPrimary)
	t.StatusOK = lipgloss.NewStyle().Foreground(t.Success)
	t.StatusErr = lipgloss.NewStyle().Foreground(t.Error)
	t.StatusRun = lipgloss.NewStyle().Foreground(t.Warn)
	t.MetricsTab = lipgloss.NewStyle().Foreground(t.TextMuted).Padding(0, 1)
	t.MetricsSel = lipgloss.NewStyle().Bold(true).Foreground(t.Accent).Padding(0, 1)
	return t
}

package tui

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

var (
	codeBlockRe  = regexp.MustCompile(`(?s)<pre><code(?: class="language-([a-zA-Z0-9]+)")?>(.*?)</code></pre>`)
	headingRe    = regexp.MustCompile(`<h[1-6][^>]*>(.*?)</h[1-6]>`)
	strongRe     = regexp.MustCompile(`<strong>(.*?)</strong>`)
	emRe         = regexp.MustCompile(`<em>(.*?)</em>`)
	inlineCodeRe = regexp.MustCompile(`<code>([^<]+)</code>`)
	listItemRe   = regexp.MustCompile(`<li>(.*?)</li>`)
	anyTagRe     = regexp.MustCompile(`<[^>]+>`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
)

// MarkdownRenderer turns agent markdown into styled terminal text, with
// chroma highlighting for fenced code blocks.
type MarkdownRenderer struct {
	md      goldmark.Markdown
	heading lipgloss.Style
	bold    lipgloss.Style
	code    lipgloss.Style
}

func NewMarkdownRenderer(theme Theme) *MarkdownRenderer {
	return &MarkdownRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(goldmarkhtml.WithXHTML()),
		),
		heading: lipgloss.NewStyle().Bold(true).Foreground(theme.Accent),
		bold:    lipgloss.NewStyle().Bold(true).Foreground(theme.TextPrimary),
		code:    lipgloss.NewStyle().Foreground(theme.Warn),
	}
}

// Render converts markdown to terminal text wrapped to width. Rendering is
// best effort: on any conversion failure the raw content comes back
// unstyled rather than dropped.
func (r *MarkdownRenderer) Render(content string, width int) string {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		return content
	}
	out := buf.String()

	out = codeBlockRe.ReplaceAllStringFunc(out, func(block string) string {
		m := codeBlockRe.FindStringSubmatch(block)
		lang, code := m[1], html.UnescapeString(m[2])
		return "\n" + highlightCode(code, lang) + "\n"
	})
	out = headingRe.ReplaceAllStringFunc(out, func(h string) string {
		inner := headingRe.FindStringSubmatch(h)[1]
		return "\n" + r.heading.Render(anyTagRe.ReplaceAllString(inner, "")) + "\n"
	})
	out = strongRe.ReplaceAllStringFunc(out, func(s string) string {
		return r.bold.Render(strongRe.FindStringSubmatch(s)[1])
	})
	out = emRe.ReplaceAllStringFunc(out, func(s string) string {
		return r.bold.Render(emRe.FindStringSubmatch(s)[1])
	})
	out = inlineCodeRe.ReplaceAllStringFunc(out, func(s string) string {
		return r.code.Render(html.UnescapeString(inlineCodeRe.FindStringSubmatch(s)[1]))
	})
	out = listItemRe.ReplaceAllString(out, "  • $1\n")
	out = strings.ReplaceAll(out, "</p>", "\n")
	out = strings.ReplaceAll(out, "<br />", "\n")
	out = anyTagRe.ReplaceAllString(out, "")
	out = html.UnescapeString(out)
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	out = strings.TrimSpace(out)

	if width > 0 {
		out = lipgloss.NewStyle().Width(width).Render(out)
	}
	return out
}

func highlightCode(code, lang string) string {
	if lang == "" {
		lang = "text"
	}
	var buf bytes.Buffer
	if err := quick.Highlight(&buf, strings.TrimRight(code, "\n"), lang, "terminal256", "monokai"); err != nil {
		return indentCode(code)
	}
	return indentCode(buf.String())
}

func indentCode(code string) string {
	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	for i := range lines {
		lines[i] = fmt.Sprintf("  %s", lines[i])
	}
	return strings.Join(lines, "\n")
}

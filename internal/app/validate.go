package app

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	// Log shapes we classify: Go panics, Python tracebacks, JVM frames,
	// leveled log lines and timestamped log lines.
	goPanicRe     = regexp.MustCompile(`(?m)^(panic:|goroutine \d+ \[)`)
	pyTracebackRe = regexp.MustCompile(`(?m)^Traceback \(most recent call last\):`)
	jvmFrameRe    = regexp.MustCompile(`(?m)^\s+at [\w.$]+\([\w.]*:?\d*\)`)
	logLevelRe    = regexp.MustCompile(`(?mi)^\s*(\[?(ERROR|FATAL|WARN|PANIC)\]?[: ])`)
	timestampedRe = regexp.MustCompile(`(?m)^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`)
	exceptionRe   = regexp.MustCompile(`\b\w+(Exception|Error): `)
)

// IsValidRepoURL accepts any http(s) URL with a host and a path. The check
// is a shape gate for the composer, not a reachability probe; non-GitHub
// hosts pass.
func IsValidRepoURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" {
		return false
	}
	return strings.Trim(u.Path, "/") != ""
}

// LooksLikeLog reports whether text reads like a stack trace or log dump
// rather than prose.
func LooksLikeLog(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if goPanicRe.MatchString(text) || pyTracebackRe.MatchString(text) || jvmFrameRe.MatchString(text) {
		return true
	}
	if exceptionRe.MatchString(text) {
		return true
	}
	// Leveled or timestamped lines count as logs only when they dominate.
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return false
	}
	hits := 0
	for _, line := range lines {
		if logLevelRe.MatchString(line) || timestampedRe.MatchString(line) {
			hits++
		}
	}
	return hits*2 >= len(lines)
}

// SplitRequirementAndLogs separates a free-text submission into the prose
// requirement and a trailing log block, if one is detected. Text with no
// log content comes back unchanged with empty logs.
func SplitRequirementAndLogs(text string) (requirement, logs string) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	// Find the first line that starts log-like content; everything from
	// there on is the log block.
	start := -1
	for i, line := range lines {
		if lineLooksLikeLogStart(line) {
			start = i
			break
		}
	}
	if start < 0 {
		return strings.TrimSpace(text), ""
	}
	requirement = strings.TrimSpace(strings.Join(lines[:start], "\n"))
	logs = strings.TrimSpace(strings.Join(lines[start:], "\n"))
	if !LooksLikeLog(logs) {
		return strings.TrimSpace(text), ""
	}
	return requirement, logs
}

func lineLooksLikeLogStart(line string) bool {
	return goPanicRe.MatchString(line) ||
		pyTracebackRe.MatchString(line) ||
		jvmFrameRe.MatchString(line) ||
		exceptionRe.MatchString(line) ||
		logLevelRe.MatchString(line) ||
		timestampedRe.MatchString(line)
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// File: internal/vmap/diff.go
package vmap

import (
	"fmt"
	"strconv"
	"strings"
)

// Unchanged is returned when two maps carry identical element lines.
const Unchanged = "[Page unchanged]"

// section is one header-delimited slice of a merged map.
type section struct {
	header string // "" for the outer page
	lines  []string
}

func (s section) elementLines() []string {
	var out []string
	for _, line := range s.lines {
		if strings.HasPrefix(line, "[") {
			out = append(out, line)
		}
	}
	return out
}

func (s section) body() string {
	return strings.TrimSpace(strings.Join(s.lines, "\n"))
}

// splitSections cuts a merged map at its "===" headers. The outer page keeps
// an empty header key; iframe sections key on their full header line.
func splitSections(merged string) []section {
	var sections []section
	current := section{}
	started := false

	for _, line := range strings.Split(merged, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "=== ") && strings.HasSuffix(trimmed, " ===") {
			if trimmed == HeaderMap {
				started = true
				continue
			}
			if started {
				sections = append(sections, current)
			}
			started = true
			current = section{header: trimmed}
			continue
		}
		if !started {
			started = true
		}
		current.lines = append(current.lines, line)
	}
	sections = append(sections, current)
	return sections
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ComputeDiff produces a token-lean update from oldMap to newMap. Unchanged
// sections collapse to a one-line summary; changed sections replay in full so
// the overlay of the diff onto oldMap reproduces newMap's element set.
func ComputeDiff(oldMap, newMap string) string {
	oldSections := splitSections(oldMap)
	newSections := splitSections(newMap)

	oldByHeader := make(map[string]section, len(oldSections))
	for _, s := range oldSections {
		oldByHeader[s.header] = s
	}

	allUnchanged := len(oldSections) == len(newSections)
	changed := make([]bool, len(newSections))
	for i, s := range newSections {
		prev, ok := oldByHeader[s.header]
		if !ok || !equalLines(prev.elementLines(), s.elementLines()) {
			changed[i] = true
			allUnchanged = false
		}
	}
	if allUnchanged {
		return Unchanged
	}

	var b strings.Builder
	b.WriteString(HeaderDiff)
	b.WriteString("\nPrevious selectors remain valid.\n")
	for i, s := range newSections {
		b.WriteByte('\n')
		if changed[i] {
			if s.header == "" {
				b.WriteString(HeaderMap)
			} else {
				b.WriteString(s.header)
			}
			b.WriteByte('\n')
			b.WriteString(s.body())
			b.WriteByte('\n')
			continue
		}
		count := len(s.elementLines())
		if s.header == "" {
			fmt.Fprintf(&b, "[Outer page: %d elements unchanged]\n", count)
			if controls := KeyControls(s.lines); controls != "" {
				fmt.Fprintf(&b, "Key controls: %s\n", controls)
			}
		} else {
			b.WriteString(s.header)
			b.WriteByte('\n')
			fmt.Fprintf(&b, "[Iframe: %d unchanged]\n", count)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// KeyControls extracts a pipe-joined index of interactive elements from a
// section's lines so the planner can still reference main-page buttons when
// the section itself is summarized away.
func KeyControls(lines []string) string {
	var parts []string
	for _, line := range lines {
		if !strings.HasPrefix(line, "[*") {
			continue
		}
		sel, ok := extractQuoted(line, " sel=")
		if !ok {
			continue
		}
		label := elementLabel(line)
		parts = append(parts, fmt.Sprintf("%q sel=%q", label, sel))
	}
	return strings.Join(parts, " | ")
}

// elementLabel picks a human label for one element line: its quoted text,
// else its aria-label, else the bare tag.
func elementLabel(line string) string {
	if idx := strings.Index(line, " sel="); idx >= 0 {
		rest := line[idx:]
		if end := strings.Index(rest[1:], " "); end >= 0 {
			tail := rest[1+end:]
			if text, ok := leadingQuoted(tail); ok {
				return text
			}
		}
	}
	if label, ok := extractQuoted(line, " aria-label="); ok {
		return label
	}
	tag := strings.TrimPrefix(line, "[*")
	if end := strings.IndexAny(tag, "[]"); end >= 0 {
		tag = tag[:end]
	}
	return tag
}

// extractQuoted returns the unquoted value following the given attribute
// marker, e.g. ` sel=` or ` aria-label=`.
func extractQuoted(line, marker string) (string, bool) {
	idx := strings.Index(line, marker)
	if idx < 0 {
		return "", false
	}
	quoted, err := strconv.QuotedPrefix(line[idx+len(marker):])
	if err != nil {
		return "", false
	}
	value, err := strconv.Unquote(quoted)
	if err != nil {
		return "", false
	}
	return value, true
}

// leadingQuoted unquotes a string that begins (after spaces) with a quoted
// token, rejecting attribute forms like value="…".
func leadingQuoted(s string) (string, bool) {
	s = strings.TrimLeft(s, " ")
	if !strings.HasPrefix(s, `"`) {
		return "", false
	}
	quoted, err := strconv.QuotedPrefix(s)
	if err != nil {
		return "", false
	}
	value, err := strconv.Unquote(quoted)
	if err != nil {
		return "", false
	}
	return value, true
}

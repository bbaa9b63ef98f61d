// File: internal/quiz/oracle.go

// Package quiz decides when the loop should switch into assessment handling
// and extracts stable identifiers from assessment pages.
package quiz

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/nv4re/tabpilot/api/schemas"
)

// detectThreshold is the minimum score at which a page counts as a quiz.
const detectThreshold = 4

// mapTokens scores substrings of the merged map.
var mapTokens = []struct {
	token  string
	weight int
}{
	{"lrn_assess", 3},
	{"mcq-input", 3},
	{"Quick Check", 2},
	{"[radio]", 1},
	{"[checkbox]", 1},
	{"Item ", 1},
	{"question", 1},
	{"[unchecked]", 1},
}

// urlTokens score the URL and title, two points each.
var urlTokens = []string{"quiz", "assessment", "test", "exam", "survey"}

var (
	itemsPattern = regexp.MustCompile(`\d+ of \d+ Items`)
	geomPattern  = regexp.MustCompile(`@\(-?\d+,-?\d+ (\d+)x(\d+)\)`)
)

// Detect scores the page and reports whether the loop should enter quiz mode.
func Detect(page schemas.PageContext) bool {
	return Score(page) >= detectThreshold
}

// Score computes the weighted quiz evidence for a page.
func Score(page schemas.PageContext) int {
	score := 0
	for _, t := range mapTokens {
		if strings.Contains(page.VisualMap, t.token) {
			score += t.weight
		}
	}
	haystack := strings.ToLower(page.URL + " " + page.Title)
	for _, t := range urlTokens {
		if strings.Contains(haystack, t) {
			score += 2
		}
	}
	return score
}

// iframeSection returns everything from the first iframe header onward, or
// empty when the map has none.
func iframeSection(visualMap string) string {
	idx := strings.Index(visualMap, "=== IFRAME CONTENT")
	if idx < 0 {
		return ""
	}
	return visualMap[idx:]
}

// StableQuestionKey identifies the current assessment item. The key must
// survive tile permutation within the item, so the progress counter wins and
// the section prefix is only a fallback.
func StableQuestionKey(visualMap string) string {
	section := iframeSection(visualMap)
	if section == "" {
		return ""
	}
	if match := itemsPattern.FindString(section); match != "" {
		return match
	}
	if len(section) > 80 {
		return section[:80]
	}
	return section
}

// chrome lists texts that never belong to the question itself.
var chrome = []string{
	"Next", "Submit", "Previous", "Back",
	"Currently contains", "Select to move",
}

func isChrome(text string) bool {
	for _, c := range chrome {
		if strings.HasPrefix(text, c) {
			return true
		}
	}
	return itemsPattern.MatchString(text)
}

// ExtractQuestionText pulls the first fifteen meaningful labels out of the
// iframe section, pipe-joined, for the search analyst.
func ExtractQuestionText(visualMap string) string {
	section := iframeSection(visualMap)
	if section == "" {
		return ""
	}
	var texts []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(section, "\n") {
		if !strings.HasPrefix(line, "[") {
			continue
		}
		text, ok := lineText(line)
		if !ok || len(text) < 2 || isChrome(text) || seen[text] {
			continue
		}
		seen[text] = true
		texts = append(texts, text)
		if len(texts) >= 15 {
			break
		}
	}
	return strings.Join(texts, " | ")
}

// NeedsVision reports whether the iframe carries a meaningful image with
// nearly no accompanying text, in which case a text-only planner needs a
// vision handoff.
func NeedsVision(page schemas.PageContext) bool {
	section := iframeSection(page.VisualMap)
	if section == "" {
		return false
	}
	for _, line := range strings.Split(section, "\n") {
		if !strings.HasPrefix(line, "[IMG]") && !strings.HasPrefix(line, "[*IMG]") {
			continue
		}
		w, h, ok := lineGeometry(line)
		if !ok || w < 50 || h < 50 {
			continue
		}
		text, _ := lineText(line)
		if len(text) < 10 {
			return true
		}
	}
	return false
}

// lineGeometry parses the WxH of one element line.
func lineGeometry(line string) (int, int, bool) {
	match := geomPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, 0, false
	}
	w, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, 0, false
	}
	h, err := strconv.Atoi(match[2])
	if err != nil {
		return 0, 0, false
	}
	return w, h, true
}

// lineText extracts the free-standing quoted text of one element line, the
// token right after sel="…".
func lineText(line string) (string, bool) {
	idx := strings.Index(line, ` sel=`)
	if idx < 0 {
		return "", false
	}
	rest := line[idx+len(` sel=`):]
	quoted, err := strconv.QuotedPrefix(rest)
	if err != nil {
		return "", false
	}
	rest = strings.TrimLeft(rest[len(quoted):], " ")
	if !strings.HasPrefix(rest, `"`) {
		return "", false
	}
	token, err := strconv.QuotedPrefix(rest)
	if err != nil {
		return "", false
	}
	text, err := strconv.Unquote(token)
	if err != nil {
		return "", false
	}
	return text, true
}

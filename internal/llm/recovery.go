// File: internal/llm/recovery.go
package llm

import (
	"regexp"
	"strings"

	"github.com/nv4re/tabpilot/api/schemas"
)

var fenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ParseDecision recovers a ModelDecision from whatever the model returned.
// The ladder: direct parse, fenced block, the smallest object containing an
// "actions" array, any outermost object. When every rung fails the caller
// gets a neutral decision with empty actions, so the loop can retry instead
// of crashing on a chatty model.
func ParseDecision(response string) (schemas.ModelDecision, bool) {
	candidates := []string{strings.TrimSpace(response)}

	if matches := fenceRegex.FindStringSubmatch(response); len(matches) > 1 {
		candidates = append(candidates, strings.TrimSpace(matches[1]))
	}
	if sub := objectAround(response, `"actions"`); sub != "" {
		candidates = append(candidates, sub)
	}
	if sub := outermostObject(response); sub != "" {
		candidates = append(candidates, sub)
	}

	for _, candidate := range candidates {
		if candidate == "" || !strings.HasPrefix(candidate, "{") {
			continue
		}
		var decision schemas.ModelDecision
		if err := json.Unmarshal([]byte(candidate), &decision); err != nil {
			continue
		}
		if decision.Actions == nil {
			continue
		}
		return decision, true
	}
	return schemas.ModelDecision{Actions: []schemas.Action{}}, false
}

// objectAround finds the innermost balanced object that contains the marker.
func objectAround(s, marker string) string {
	at := strings.Index(s, marker)
	if at < 0 {
		return ""
	}
	var starts []int
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			starts = append(starts, i)
		case '}':
			if len(starts) == 0 {
				continue
			}
			start := starts[len(starts)-1]
			starts = starts[:len(starts)-1]
			if start <= at && at < i {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// outermostObject slices from the first '{' to the last '}'.
func outermostObject(s string) string {
	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first < 0 || last <= first {
		return ""
	}
	return s[first : last+1]
}

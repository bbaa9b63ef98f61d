// File: internal/llm/history.go
package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/nv4re/tabpilot/api/schemas"
)

// maxHistoryEntries caps the rolling window at three user/assistant pairs.
const maxHistoryEntries = 6

// History is the dispatcher's rolling conversation window. Two limits apply:
// the six-entry cap and a token budget, both enforced by dropping the oldest
// pair first.
type History struct {
	mu          sync.Mutex
	entries     []schemas.ConversationEntry
	tokenBudget int
	encoder     *tiktoken.Tiktoken
}

// NewHistory builds a history with the given token budget. A budget of zero
// disables token accounting and leaves only the entry cap.
func NewHistory(tokenBudget int) *History {
	h := &History{tokenBudget: tokenBudget}
	if tokenBudget > 0 {
		// Encoder load can fail offline; token accounting then degrades to
		// the bytes/4 estimate.
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			h.encoder = enc
		}
	}
	return h
}

// Entries returns a copy of the current window in insertion order.
func (h *History) Entries() []schemas.ConversationEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]schemas.ConversationEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len reports the current window size.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Append records one user/assistant exchange and trims the window.
func (h *History) Append(userText, assistantText string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries,
		schemas.ConversationEntry{Role: "user", Content: userText},
		schemas.ConversationEntry{Role: "assistant", Content: assistantText},
	)
	h.trimLocked()
}

// DropLastPair removes the most recent exchange. The loop calls this before a
// corrective retry so the replacement answer does not sit next to the one it
// replaces.
func (h *History) DropLastPair() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) >= 2 {
		h.entries = h.entries[:len(h.entries)-2]
	} else {
		h.entries = nil
	}
}

// Clear empties the window. Used for the json_validate_failed recovery, where
// the accumulated context itself is the suspect.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}

func (h *History) trimLocked() {
	for len(h.entries) > maxHistoryEntries {
		h.entries = h.entries[2:]
	}
	if h.tokenBudget <= 0 {
		return
	}
	// Keep at least the latest pair even when it alone exceeds the budget.
	for len(h.entries) > 2 && h.tokensLocked() > h.tokenBudget {
		h.entries = h.entries[2:]
	}
}

func (h *History) tokensLocked() int {
	total := 0
	for _, e := range h.entries {
		total += h.countTokens(e.Content)
	}
	return total
}

func (h *History) countTokens(text string) int {
	if h.encoder != nil {
		return len(h.encoder.Encode(text, nil, nil))
	}
	return len(text) / 4
}

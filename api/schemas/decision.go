// File: api/schemas/decision.go
package schemas

// AgentMode selects loop pacing, break-points, and prompt variants.
type AgentMode string

const (
	ModeNormal AgentMode = "normal"
	ModeQuiz   AgentMode = "quiz"
)

// ModelDecision is one parsed planner reply. Actions must be non-empty to
// count as progress; a batch of only describe actions does not.
type ModelDecision struct {
	Thinking string    `json:"thinking,omitempty"`
	Actions  []Action  `json:"actions"`
	Done     bool      `json:"done,omitempty"`
	Summary  string    `json:"summary,omitempty"`
	Mode     AgentMode `json:"mode,omitempty"`
}

// HasProgress reports whether the decision contains at least one action that
// actually does something. Narrating models love to emit describe-only
// batches, which would loop forever if accepted.
func (d ModelDecision) HasProgress() bool {
	for _, a := range d.Actions {
		if a.Type != ActionDescribe {
			return true
		}
	}
	return false
}

// ConversationEntry is one message of the dispatcher's rolling window.
type ConversationEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

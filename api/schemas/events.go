// File: api/schemas/events.go
package schemas

// Status values published on the STATUS_UPDATE channel.
type Status string

const (
	StatusReady Status = "ready"
	StatusBusy  Status = "busy"
	StatusError Status = "error"
)

// LogType classifies one ACTION_LOG line.
type LogType string

const (
	LogInfo    LogType = "info"
	LogPending LogType = "pending"
	LogSuccess LogType = "success"
	LogError   LogType = "error"
)

// StatusUpdate is one STATUS_UPDATE event.
type StatusUpdate struct {
	Status Status `json:"status"`
	Text   string `json:"text"`
}

// ActionLog is one ACTION_LOG event, one human-readable line per action.
type ActionLog struct {
	LogType LogType `json:"logType"`
	Text    string  `json:"text"`
}

// ExecutionStateEvent mirrors the loop's running flag for UI consumers.
type ExecutionStateEvent struct {
	Running bool `json:"running"`
}

// File: api/schemas/interfaces.go
package schemas

import (
	"context"
	"time"
)

// TabHandle is the host-provided capability surface for one browser tab.
// The driver core never talks to the browser through anything else, which
// keeps the core testable against hand-built fakes.
type TabHandle interface {
	ID() int
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)

	// Frame plumbing. EnumerateFrames must come from a navigation-stable
	// source; iframes can navigate mid-step and an injection-based census
	// would race with them.
	EnumerateFrames(ctx context.Context) ([]FrameInfo, error)
	InjectProbe(ctx context.Context, frameID int64, script string) error
	SendToFrame(ctx context.Context, frameID int64, payload []byte) ([]byte, error)

	// Navigation and lifecycle.
	UpdateURL(ctx context.Context, url string) error
	WaitLoaded(ctx context.Context, timeout time.Duration) error
	Activate(ctx context.Context) error
	Close(ctx context.Context) error

	// Tab and tab-group management. Group ops operate on the browser's
	// grouping primitives or, failing those, driver-side bookkeeping.
	NewTab(ctx context.Context, url string) (TabHandle, error)
	ListTabs(ctx context.Context) ([]TabInfo, error)
	ActivateTab(ctx context.Context, tabID int) error
	ListTabGroups(ctx context.Context) ([]TabGroupInfo, error)
	GroupTabs(ctx context.Context, tabIDs []int, color, title string) (int64, error)
	AddToGroup(ctx context.Context, groupID int64, tabIDs []int) error
	Ungroup(ctx context.Context, groupID int64) error

	// Debug channel. Attach is idempotent; Send issues one low-level
	// command and returns the raw result.
	DebugAttach(ctx context.Context) error
	DebugDetach(ctx context.Context) error
	DebugSend(ctx context.Context, method string, params any) ([]byte, error)
	CaptureScreenshot(ctx context.Context) (string, error)
}

// TabInfo is one row of ListTabs.
type TabInfo struct {
	ID      int    `json:"id"`
	Index   int    `json:"index"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Active  bool   `json:"active"`
	GroupID int64  `json:"groupId,omitempty"`
}

// TabGroupInfo is one row of ListTabGroups.
type TabGroupInfo struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Color string `json:"color"`
	Tabs  []int  `json:"tabs"`
}

// Storage persists the user's provider settings. Keys are the flat strings
// the popup wrote historically; both backends honor them verbatim.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Storage keys.
const (
	KeyAIProvider      = "aiProvider"
	KeyAIModel         = "aiModel"
	KeyAIAPIKey        = "aiApiKey"
	KeyGroqVisionModel = "groqVisionModel"
	KeySearchEnabled   = "searchEnabled"
	KeySearchModel     = "searchModel"
)

// EventBus is fire-and-forget publication of the three driver channels.
type EventBus interface {
	PublishStatus(update StatusUpdate)
	PublishLog(entry ActionLog)
	PublishExecutionState(state ExecutionStateEvent)
}

// ChatRequest is one provider-neutral chat call.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	History      []ConversationEntry
	UserText     string
	// ImagePNG is a base64-encoded PNG attached as a multipart image part
	// when non-empty and the provider supports images.
	ImagePNG    string
	Temperature float64
	MaxTokens   int
	ForceJSON   bool
}

// ChatClient is the minimal provider contract.
type ChatClient interface {
	Name() string
	SupportsImages() bool
	Send(ctx context.Context, req ChatRequest) (string, error)
}

// ModelInfo is one catalog row from a provider's model listing.
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// CatalogClient is the optional model-listing capability.
type CatalogClient interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// VisionAnalyst produces free-text observations about a screenshot for a
// text-only planner to consume.
type VisionAnalyst interface {
	Analyze(ctx context.Context, prompt, imagePNG string) (string, error)
}

// SearchAnalyst answers a question with external knowledge, returning plain
// text to be injected into the next planner call.
type SearchAnalyst interface {
	Search(ctx context.Context, question, pageContext string) (string, error)
}

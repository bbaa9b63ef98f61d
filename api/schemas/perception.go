// File: api/schemas/perception.go
package schemas

// SelectOption is one entry of a selection control, capped at 20 per element
// at capture time.
type SelectOption struct {
	Value    string `json:"value"`
	Text     string `json:"text"`
	Selected bool   `json:"selected,omitempty"`
}

// VisualElement describes one on-page element as captured by the probe.
// Selector resolves to exactly one node within its frame at the moment of
// capture; nothing stronger is guaranteed across snapshots.
type VisualElement struct {
	Tag         string         `json:"tag"`
	Selector    string         `json:"selector"`
	X           int            `json:"x"`
	Y           int            `json:"y"`
	W           int            `json:"w"`
	H           int            `json:"h"`
	Visible     bool           `json:"visible"`
	Text        string         `json:"text,omitempty"`
	Interactive bool           `json:"interactive,omitempty"`
	InputType   string         `json:"inputType,omitempty"`
	Value       string         `json:"value,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	AriaLabel   string         `json:"ariaLabel,omitempty"`
	Checked     *bool          `json:"checked,omitempty"`
	Draggable   bool           `json:"draggable,omitempty"`
	DropTarget  bool           `json:"droptarget,omitempty"`
	Disabled    bool           `json:"disabled,omitempty"`
	Href        string         `json:"href,omitempty"`
	Options     []SelectOption `json:"options,omitempty"`
}

// FrameCapture is the structured reply of one frame's collect operation. The
// textual Visual Page Map is rendered Go-side from this.
type FrameCapture struct {
	URL            string          `json:"url"`
	ViewportWidth  int             `json:"viewportWidth"`
	ViewportHeight int             `json:"viewportHeight"`
	ScrollX        int             `json:"scrollX"`
	ScrollY        int             `json:"scrollY"`
	Elements       []VisualElement `json:"elements"`
}

// FrameInfo identifies one document scope of a tab. The top document has
// FrameID 0 and no parent.
type FrameInfo struct {
	FrameID       int64  `json:"frameId"`
	ParentFrameID int64  `json:"parentFrameId"`
	URL           string `json:"url"`
}

// PageContext is the per-step perception bundle handed to the LLM. Exactly
// one of VisualMap holding a full map or a diff is set per step; Screenshot
// is attached only when vision is needed and capture succeeded.
type PageContext struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	VisualMap  string `json:"visualMap"`
	Screenshot string `json:"screenshot,omitempty"`
	NeedsVision bool  `json:"needsVision,omitempty"`
	// DOM is a secondary simplified tree, attached only on request.
	DOM any `json:"dom,omitempty"`
}

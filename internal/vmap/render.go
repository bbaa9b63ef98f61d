// File: internal/vmap/render.go

// Package vmap renders frame captures into the textual Visual Page Map the
// planner consumes, and computes token-lean diffs between successive maps.
package vmap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nv4re/tabpilot/api/schemas"
)

const (
	// HeaderMap opens every single-frame map.
	HeaderMap = "=== VISUAL PAGE MAP ==="
	// HeaderDiff opens every diff document.
	HeaderDiff = "=== PAGE UPDATE (diff) ==="

	// iframeHeaderPrefix opens each merged child-frame section.
	iframeHeaderPrefix = "=== IFRAME CONTENT (frameId="

	maxElements   = 500
	maxOptionRows = 20
)

// IframeHeader formats the section header for one merged child frame.
func IframeHeader(frameID int64) string {
	return fmt.Sprintf("%s%d) ===", iframeHeaderPrefix, frameID)
}

// Render produces the full map for one frame capture: header, summary line,
// then one line per element sorted by ascending y, then ascending x.
func Render(capture schemas.FrameCapture) string {
	elements := make([]schemas.VisualElement, len(capture.Elements))
	copy(elements, capture.Elements)
	sort.SliceStable(elements, func(i, j int) bool {
		if elements[i].Y != elements[j].Y {
			return elements[i].Y < elements[j].Y
		}
		return elements[i].X < elements[j].X
	})
	if len(elements) > maxElements {
		elements = elements[:maxElements]
	}

	var b strings.Builder
	b.WriteString(HeaderMap)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "Viewport %dx%d, scroll (%d,%d), %d elements\n",
		capture.ViewportWidth, capture.ViewportHeight,
		capture.ScrollX, capture.ScrollY, len(elements))
	for _, el := range elements {
		b.WriteString(RenderElement(el))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderElement formats one element line. The grammar is load-bearing: the
// system prompts teach it to the planner and the differ keys on the leading
// bracket, so changes here ripple into both.
func RenderElement(el schemas.VisualElement) string {
	var b strings.Builder

	b.WriteByte('[')
	if el.Interactive {
		b.WriteByte('*')
	}
	b.WriteString(strings.ToUpper(el.Tag))
	if el.InputType != "" {
		fmt.Fprintf(&b, "[%s]", el.InputType)
	}
	b.WriteByte(']')

	fmt.Fprintf(&b, " @(%d,%d %dx%d)", el.X, el.Y, el.W, el.H)
	if !el.Visible {
		b.WriteString(" [offscreen]")
	}
	fmt.Fprintf(&b, " sel=%q", el.Selector)

	if el.Text != "" {
		fmt.Fprintf(&b, " %q", el.Text)
	}
	if el.Value != "" {
		fmt.Fprintf(&b, " value=%q", el.Value)
	}
	if el.Placeholder != "" {
		fmt.Fprintf(&b, " placeholder=%q", el.Placeholder)
	}
	if el.AriaLabel != "" {
		fmt.Fprintf(&b, " aria-label=%q", el.AriaLabel)
	}
	if el.Checked != nil {
		if *el.Checked {
			b.WriteString(" [checked]")
		} else {
			b.WriteString(" [unchecked]")
		}
	}
	if el.Draggable {
		b.WriteString(" [draggable]")
	}
	if el.DropTarget {
		b.WriteString(" [droptarget]")
	}
	if el.Disabled {
		b.WriteString(" [disabled]")
	}
	if el.Href != "" {
		fmt.Fprintf(&b, " href=%q", el.Href)
	}
	if len(el.Options) > 0 {
		b.WriteString(" options=[")
		options := el.Options
		if len(options) > maxOptionRows {
			options = options[:maxOptionRows]
		}
		for i, opt := range options {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s:%q", opt.Value, opt.Text)
			if opt.Selected {
				b.WriteByte('*')
			}
		}
		b.WriteByte(']')
	}
	return b.String()
}

// MergedFrame pairs a child frame's identity with its rendered map.
type MergedFrame struct {
	FrameID int64
	Map     string
}

// Merge combines the top frame's map with each content-bearing child frame.
// Child maps lose their own header line and gain an iframe section header.
func Merge(topMap string, children []MergedFrame) string {
	var b strings.Builder
	b.WriteString(topMap)
	for _, child := range children {
		body := strings.TrimSpace(strings.TrimPrefix(
			strings.TrimSpace(child.Map), HeaderMap))
		if body == "" {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(IframeHeader(child.FrameID))
		b.WriteByte('\n')
		b.WriteString(body)
	}
	return b.String()
}

// HasIframeContent reports whether a merged map carries at least one child
// frame section.
func HasIframeContent(merged string) bool {
	return strings.Contains(merged, iframeHeaderPrefix)
}

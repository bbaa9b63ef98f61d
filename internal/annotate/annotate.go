// File: internal/annotate/annotate.go

// Package annotate draws element bounding boxes onto a screenshot before it
// is handed to the vision analyst, so the analyst's positional answers line
// up with the planner's selectors.
package annotate

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"

	"github.com/fogleman/gg"

	"github.com/nv4re/tabpilot/api/schemas"
)

// maxBoxes bounds how many elements get a box; past that the overlay is
// noise, not signal.
const maxBoxes = 60

// Options tunes the overlay.
type Options struct {
	LineWidth  float64
	ShowLabels bool
}

// DefaultOptions returns the overlay tuning used in production.
func DefaultOptions() Options {
	return Options{LineWidth: 2, ShowLabels: true}
}

// Screenshot decodes a base64 PNG, draws one box per visible interactive
// element with its ordinal label, and re-encodes. Elements carry document
// coordinates; scroll offsets translate them into image space.
func Screenshot(pngBase64 string, elements []schemas.VisualElement, scrollX, scrollY int, opts Options) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(pngBase64)
	if err != nil {
		return "", fmt.Errorf("screenshot is not valid base64: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to decode screenshot: %w", err)
	}

	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(opts.LineWidth)

	drawn := 0
	for i, el := range elements {
		if !el.Visible || !el.Interactive || el.W <= 0 || el.H <= 0 {
			continue
		}
		x := float64(el.X - scrollX)
		y := float64(el.Y - scrollY)
		w := float64(el.W)
		h := float64(el.H)
		if x+w < 0 || y+h < 0 || x > float64(dc.Width()) || y > float64(dc.Height()) {
			continue
		}

		r, g, b := colorFor(el)
		dc.SetRGB(r, g, b)
		dc.DrawRectangle(x, y, w, h)
		dc.Stroke()

		if opts.ShowLabels {
			label := fmt.Sprintf("%d", i)
			lw, lh := dc.MeasureString(label)
			dc.SetRGBA(0, 0, 0, 0.75)
			dc.DrawRectangle(x, y-lh-4, lw+6, lh+4)
			dc.Fill()
			dc.SetRGB(1, 1, 1)
			dc.DrawString(label, x+3, y-4)
		}

		drawn++
		if drawn >= maxBoxes {
			break
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return "", fmt.Errorf("failed to encode annotated screenshot: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func colorFor(el schemas.VisualElement) (float64, float64, float64) {
	switch el.Tag {
	case "A":
		return 0.3, 0.69, 0.31
	case "BUTTON":
		return 0.13, 0.59, 0.95
	case "INPUT", "TEXTAREA", "SELECT":
		return 1, 0.6, 0
	default:
		return 0.61, 0.15, 0.69
	}
}

// File: internal/probe/probe.go

// Package probe owns the in-page script and the typed request/reply protocol
// the driver speaks with it.
package probe

import (
	"context"
	_ "embed"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
)

//go:embed probe.js
var script string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Script returns the in-page probe source for injection into a frame.
func Script() string { return script }

// request is the wire envelope sent to the in-page dispatcher.
type request struct {
	Op     string          `json:"op"`
	Action *schemas.Action `json:"action,omitempty"`
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
}

// reply is the wire envelope returned by the in-page dispatcher.
type reply struct {
	Success bool                  `json:"success"`
	Code    string                `json:"code,omitempty"`
	Message string                `json:"message,omitempty"`
	Data    jsoniter.RawMessage   `json:"data,omitempty"`
	Capture *schemas.FrameCapture `json:"capture,omitempty"`
}

// DragCoords is the coordinate pair resolved for the trusted drag path.
// Coordinates are client-space within the probed frame.
type DragCoords struct {
	FromX     float64 `json:"fromX"`
	FromY     float64 `json:"fromY"`
	ToX       float64 `json:"toX"`
	ToY       float64 `json:"toY"`
	FromLabel string  `json:"fromLabel"`
	ToLabel   string  `json:"toLabel"`
}

// Client marshals requests to one tab's frames and unmarshals replies.
type Client struct {
	logger *zap.Logger
}

// NewClient builds a probe client.
func NewClient(logger *zap.Logger) *Client {
	return &Client{logger: logger.Named("probe")}
}

func (c *Client) send(ctx context.Context, tab schemas.TabHandle, frameID int64, req request) (*reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal probe request: %w", err)
	}
	raw, err := tab.SendToFrame(ctx, frameID, payload)
	if err != nil {
		return nil, fmt.Errorf("frame %d did not answer: %w", frameID, err)
	}
	var rep reply
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, fmt.Errorf("failed to decode probe reply from frame %d: %w", frameID, err)
	}
	return &rep, nil
}

// BuildMap asks one frame for its element capture.
func (c *Client) BuildMap(ctx context.Context, tab schemas.TabHandle, frameID int64) (schemas.FrameCapture, error) {
	rep, err := c.send(ctx, tab, frameID, request{Op: "build_map"})
	if err != nil {
		return schemas.FrameCapture{}, err
	}
	if !rep.Success || rep.Capture == nil {
		return schemas.FrameCapture{}, fmt.Errorf("frame %d map build failed: %s", frameID, rep.Message)
	}
	return *rep.Capture, nil
}

// Execute routes one action into a frame and converts the reply into an
// ActionResult. In-page failures come back as results, not errors; only
// transport problems surface as errors.
func (c *Client) Execute(ctx context.Context, tab schemas.TabHandle, frameID int64, action schemas.Action) (schemas.ActionResult, error) {
	rep, err := c.send(ctx, tab, frameID, request{Op: "execute", Action: &action})
	if err != nil {
		return schemas.ActionResult{}, err
	}
	result := schemas.ActionResult{
		Success: rep.Success,
		Message: rep.Message,
	}
	if !rep.Success && rep.Code != "" {
		result.Message = fmt.Sprintf("%s: %s", rep.Code, rep.Message)
	}
	if len(rep.Data) > 0 {
		var data any
		if err := json.Unmarshal(rep.Data, &data); err == nil {
			result.Data = data
		}
	}
	if !rep.Success {
		c.logger.Debug("In-page action failed",
			zap.String("type", string(action.Type)),
			zap.Int64("frame_id", frameID),
			zap.String("code", rep.Code),
			zap.String("message", rep.Message),
		)
	}
	return result, nil
}

// ResolveDragCoords scrolls the source into view and returns element-center
// client coordinates for both endpoints.
func (c *Client) ResolveDragCoords(ctx context.Context, tab schemas.TabHandle, frameID int64, from, to string) (DragCoords, error) {
	rep, err := c.send(ctx, tab, frameID, request{Op: "drag_coords", From: from, To: to})
	if err != nil {
		return DragCoords{}, err
	}
	if !rep.Success {
		return DragCoords{}, schemas.NewActionError(schemas.CodeElementNotFound, "%s", rep.Message)
	}
	var coords DragCoords
	if err := json.Unmarshal(rep.Data, &coords); err != nil {
		return DragCoords{}, fmt.Errorf("failed to decode drag coordinates: %w", err)
	}
	return coords, nil
}

// NotFound reports whether an in-page result message carries the typed
// not-found code.
func NotFound(result schemas.ActionResult) bool {
	return !result.Success &&
		len(result.Message) >= len(schemas.CodeElementNotFound) &&
		result.Message[:len(schemas.CodeElementNotFound)] == schemas.CodeElementNotFound
}

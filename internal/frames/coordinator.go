// File: internal/frames/coordinator.go

// Package frames enumerates a tab's frames and routes probe traffic to them
// under a hard per-frame timeout.
package frames

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
	"github.com/nv4re/tabpilot/internal/probe"
)

// Coordinator keeps frame plumbing out of the snapshot and executor paths.
type Coordinator struct {
	logger       *zap.Logger
	frameTimeout time.Duration
}

// NewCoordinator builds a coordinator. frameTimeout bounds every message to
// a single frame so a wedged frame never blocks the pipeline.
func NewCoordinator(logger *zap.Logger, frameTimeout time.Duration) *Coordinator {
	if frameTimeout <= 0 {
		frameTimeout = 3 * time.Second
	}
	return &Coordinator{
		logger:       logger.Named("frames"),
		frameTimeout: frameTimeout,
	}
}

// FrameTimeout exposes the per-frame bound for callers sizing retries.
func (c *Coordinator) FrameTimeout() time.Duration { return c.frameTimeout }

// Enumerate lists the tab's frames from a navigation-stable source.
func (c *Coordinator) Enumerate(ctx context.Context, tab schemas.TabHandle) ([]schemas.FrameInfo, error) {
	frames, err := tab.EnumerateFrames(ctx)
	if err != nil {
		return nil, err
	}
	return frames, nil
}

// restricted reports whether a frame URL can never host the probe. Failures
// on these are expected and must not surface.
func restricted(url string) bool {
	if url == "" || url == "about:blank" {
		return true
	}
	return !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://")
}

// InjectAll installs the probe into every injectable frame. Iframes may have
// replaced their document since the last step, so this runs before every
// snapshot and on every quiz step. Restricted frames are skipped; injection
// failures on content frames are logged and reported.
func (c *Coordinator) InjectAll(ctx context.Context, tab schemas.TabHandle) error {
	frames, err := c.Enumerate(ctx, tab)
	if err != nil {
		return err
	}
	var firstErr error
	for _, frame := range frames {
		if restricted(frame.URL) {
			continue
		}
		frameCtx, cancel := context.WithTimeout(ctx, c.frameTimeout)
		err := tab.InjectProbe(frameCtx, frame.FrameID, probe.Script())
		cancel()
		if err != nil {
			c.logger.Warn("Probe injection failed",
				zap.Int64("frame_id", frame.FrameID),
				zap.String("url", frame.URL),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Send delivers one payload to one frame under the per-frame timeout.
func (c *Coordinator) Send(ctx context.Context, tab schemas.TabHandle, frameID int64, payload []byte) ([]byte, error) {
	frameCtx, cancel := context.WithTimeout(ctx, c.frameTimeout)
	defer cancel()

	raw, err := tab.SendToFrame(frameCtx, frameID, payload)
	if err != nil {
		if frameCtx.Err() == context.DeadlineExceeded {
			return nil, schemas.NewActionError(schemas.CodeFrameTimeout,
				"frame did not answer within the timeout")
		}
		return nil, err
	}
	return raw, nil
}

// ContentFrames filters an enumeration down to probe-capable child frames,
// excluding the top frame.
func (c *Coordinator) ContentFrames(frames []schemas.FrameInfo) []schemas.FrameInfo {
	var out []schemas.FrameInfo
	for _, frame := range frames {
		if frame.FrameID == 0 || restricted(frame.URL) {
			continue
		}
		out = append(out, frame)
	}
	return out
}

// TimedTab wraps a TabHandle so every SendToFrame call inherits the
// coordinator's per-frame timeout. Probe clients take the wrapper and stay
// oblivious to timeout policy.
type TimedTab struct {
	schemas.TabHandle
	coordinator *Coordinator
}

// WithTimeout returns a TabHandle whose frame sends are bounded.
func (c *Coordinator) WithTimeout(tab schemas.TabHandle) *TimedTab {
	return &TimedTab{TabHandle: tab, coordinator: c}
}

// SendToFrame applies the per-frame timeout before delegating.
func (t *TimedTab) SendToFrame(ctx context.Context, frameID int64, payload []byte) ([]byte, error) {
	return t.coordinator.Send(ctx, t.TabHandle, frameID, payload)
}

// File: internal/frames/coordinator_test.go
package frames

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
)

// fakeTab implements the frame-plumbing slice of TabHandle; everything else
// panics if reached.
type fakeTab struct {
	schemas.TabHandle

	frames      []schemas.FrameInfo
	enumerr     error
	injected    []int64
	injectErrs  map[int64]error
	sendReply   []byte
	sendErr     error
	sendDelay   time.Duration
	sentPayload []byte
}

func (f *fakeTab) EnumerateFrames(ctx context.Context) ([]schemas.FrameInfo, error) {
	return f.frames, f.enumerr
}

func (f *fakeTab) InjectProbe(ctx context.Context, frameID int64, script string) error {
	f.injected = append(f.injected, frameID)
	return f.injectErrs[frameID]
}

func (f *fakeTab) SendToFrame(ctx context.Context, frameID int64, payload []byte) ([]byte, error) {
	f.sentPayload = payload
	if f.sendDelay > 0 {
		select {
		case <-time.After(f.sendDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.sendReply, f.sendErr
}

func TestInjectAll(t *testing.T) {
	t.Run("skips restricted frames", func(t *testing.T) {
		tab := &fakeTab{frames: []schemas.FrameInfo{
			{FrameID: 0, URL: "https://example.com"},
			{FrameID: 1, URL: "about:blank"},
			{FrameID: 2, URL: "chrome-extension://abc/panel.html"},
			{FrameID: 3, URL: "https://cdn.example.com/widget"},
		}}
		c := NewCoordinator(zap.NewNop(), time.Second)

		require.NoError(t, c.InjectAll(context.Background(), tab))
		assert.Equal(t, []int64{0, 3}, tab.injected)
	})

	t.Run("reports the first injection failure but visits every frame", func(t *testing.T) {
		failure := errors.New("frame detached")
		tab := &fakeTab{
			frames: []schemas.FrameInfo{
				{FrameID: 0, URL: "https://example.com"},
				{FrameID: 2, URL: "https://inner.example.com"},
			},
			injectErrs: map[int64]error{0: failure},
		}
		c := NewCoordinator(zap.NewNop(), time.Second)

		err := c.InjectAll(context.Background(), tab)
		assert.ErrorIs(t, err, failure)
		assert.Equal(t, []int64{0, 2}, tab.injected)
	})

	t.Run("propagates enumeration failure", func(t *testing.T) {
		tab := &fakeTab{enumerr: errors.New("tab gone")}
		c := NewCoordinator(zap.NewNop(), time.Second)
		assert.Error(t, c.InjectAll(context.Background(), tab))
	})
}

func TestSend(t *testing.T) {
	t.Run("returns the frame reply", func(t *testing.T) {
		tab := &fakeTab{sendReply: []byte(`{"ok":true}`)}
		c := NewCoordinator(zap.NewNop(), time.Second)

		raw, err := c.Send(context.Background(), tab, 2, []byte(`{"op":"collect"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(raw))
		assert.Equal(t, `{"op":"collect"}`, string(tab.sentPayload))
	})

	t.Run("maps a deadline to FRAME_TIMEOUT", func(t *testing.T) {
		tab := &fakeTab{sendDelay: 200 * time.Millisecond}
		c := NewCoordinator(zap.NewNop(), 20*time.Millisecond)

		_, err := c.Send(context.Background(), tab, 2, []byte(`{}`))
		require.Error(t, err)
		var actionErr *schemas.ActionError
		require.ErrorAs(t, err, &actionErr)
		assert.Equal(t, schemas.CodeFrameTimeout, actionErr.Code)
	})

	t.Run("passes through non-timeout errors", func(t *testing.T) {
		sendErr := errors.New("no execution context for frame 2")
		tab := &fakeTab{sendErr: sendErr}
		c := NewCoordinator(zap.NewNop(), time.Second)

		_, err := c.Send(context.Background(), tab, 2, []byte(`{}`))
		assert.ErrorIs(t, err, sendErr)
	})
}

func TestContentFrames(t *testing.T) {
	c := NewCoordinator(zap.NewNop(), time.Second)
	frames := []schemas.FrameInfo{
		{FrameID: 0, URL: "https://example.com"},
		{FrameID: 1, URL: "https://player.example.com/item"},
		{FrameID: 2, URL: "about:blank"},
		{FrameID: 3, URL: ""},
	}
	content := c.ContentFrames(frames)
	require.Len(t, content, 1)
	assert.Equal(t, int64(1), content[0].FrameID)
}

func TestWithTimeout(t *testing.T) {
	tab := &fakeTab{sendDelay: 200 * time.Millisecond}
	c := NewCoordinator(zap.NewNop(), 20*time.Millisecond)
	timed := c.WithTimeout(tab)

	_, err := timed.SendToFrame(context.Background(), 0, []byte(`{}`))
	var actionErr *schemas.ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, schemas.CodeFrameTimeout, actionErr.Code)
}

// File: internal/snapshot/service_test.go
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
	"github.com/nv4re/tabpilot/internal/frames"
	"github.com/nv4re/tabpilot/internal/probe"
	"github.com/nv4re/tabpilot/internal/vmap"
)

// fakeTab answers the probe wire protocol from a scripted per-frame capture
// table. Everything outside the snapshot slice of TabHandle panics.
type fakeTab struct {
	schemas.TabHandle

	url      string
	title    string
	frames   []schemas.FrameInfo
	enumerr  error
	captures map[int64]schemas.FrameCapture
	sendErrs map[int64]error

	buildCalls map[int64]int
	collects   int
	onCollect  func(attempt int, tab *fakeTab)
}

func (f *fakeTab) URL(ctx context.Context) (string, error)   { return f.url, nil }
func (f *fakeTab) Title(ctx context.Context) (string, error) { return f.title, nil }

func (f *fakeTab) EnumerateFrames(ctx context.Context) ([]schemas.FrameInfo, error) {
	return f.frames, f.enumerr
}

func (f *fakeTab) InjectProbe(ctx context.Context, frameID int64, script string) error {
	return nil
}

func (f *fakeTab) SendToFrame(ctx context.Context, frameID int64, payload []byte) ([]byte, error) {
	var req struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if req.Op != "build_map" {
		return nil, errors.New("unexpected op " + req.Op)
	}
	if f.buildCalls == nil {
		f.buildCalls = map[int64]int{}
	}
	f.buildCalls[frameID]++
	if frameID == 0 {
		f.collects++
		if f.onCollect != nil {
			f.onCollect(f.collects, f)
		}
	}
	if err := f.sendErrs[frameID]; err != nil {
		return nil, err
	}
	capture, ok := f.captures[frameID]
	if !ok {
		return json.Marshal(map[string]any{"success": false, "message": "no such frame"})
	}
	return json.Marshal(map[string]any{"success": true, "capture": capture})
}

func element(selector, text string) schemas.VisualElement {
	return schemas.VisualElement{
		Tag:      "P",
		Selector: selector,
		X:        10, Y: 10, W: 100, H: 20,
		Visible: true,
		Text:    text,
	}
}

func capture(elements ...schemas.VisualElement) schemas.FrameCapture {
	return schemas.FrameCapture{
		ViewportWidth:  1280,
		ViewportHeight: 720,
		Elements:       elements,
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := zap.NewNop()
	return NewService(logger, frames.NewCoordinator(logger, time.Second), probe.NewClient(logger), nil)
}

func TestCollectAllFrames(t *testing.T) {
	t.Run("merges the top frame with content children", func(t *testing.T) {
		tab := &fakeTab{
			frames: []schemas.FrameInfo{
				{FrameID: 0, URL: "https://example.com"},
				{FrameID: 2, URL: "https://player.example.com/item"},
				{FrameID: 3, URL: "about:blank"},
				{FrameID: 4, URL: "https://empty.example.com"},
				{FrameID: 5, URL: "https://wedged.example.com"},
			},
			captures: map[int64]schemas.FrameCapture{
				0: capture(element("h1", "Course Player")),
				2: capture(element("p.stem", "Which planet is closest to the sun?")),
				4: capture(),
			},
			sendErrs: map[int64]error{5: errors.New("frame detached")},
		}
		s := newTestService(t)

		merged, err := s.CollectAllFrames(context.Background(), tab)
		require.NoError(t, err)

		assert.Contains(t, merged, vmap.HeaderMap)
		assert.Contains(t, merged, "Course Player")
		assert.Contains(t, merged, vmap.IframeHeader(2))
		assert.Contains(t, merged, "Which planet is closest to the sun?")

		// Restricted, empty, and failed frames leave no section behind.
		assert.NotContains(t, merged, vmap.IframeHeader(3))
		assert.NotContains(t, merged, vmap.IframeHeader(4))
		assert.NotContains(t, merged, vmap.IframeHeader(5))
		assert.Zero(t, tab.buildCalls[3])
	})

	t.Run("falls back to the top frame when enumeration fails", func(t *testing.T) {
		tab := &fakeTab{
			enumerr: errors.New("tab gone"),
			captures: map[int64]schemas.FrameCapture{
				0: capture(element("h1", "Course Player")),
			},
		}
		s := newTestService(t)

		merged, err := s.CollectAllFrames(context.Background(), tab)
		require.NoError(t, err)
		assert.Contains(t, merged, "Course Player")
		assert.False(t, vmap.HasIframeContent(merged))
	})

	t.Run("propagates a top-frame capture failure", func(t *testing.T) {
		tab := &fakeTab{sendErrs: map[int64]error{0: errors.New("no execution context")}}
		s := newTestService(t)

		_, err := s.CollectAllFrames(context.Background(), tab)
		assert.Error(t, err)
	})
}

func TestLastTop(t *testing.T) {
	top := capture(element("#submit", "Submit"))
	top.URL = "https://example.com"
	tab := &fakeTab{captures: map[int64]schemas.FrameCapture{0: top}}
	s := newTestService(t)

	assert.Empty(t, s.LastTop().Elements)

	_, err := s.CollectAllFrames(context.Background(), tab)
	require.NoError(t, err)

	stored := s.LastTop()
	assert.Equal(t, "https://example.com", stored.URL)
	require.Len(t, stored.Elements, 1)
	assert.Equal(t, "#submit", stored.Elements[0].Selector)
}

func TestCollectWithIframeRetry(t *testing.T) {
	t.Run("returns on the first attempt when iframe content is present", func(t *testing.T) {
		tab := &fakeTab{
			frames: []schemas.FrameInfo{
				{FrameID: 0, URL: "https://example.com"},
				{FrameID: 2, URL: "https://player.example.com"},
			},
			captures: map[int64]schemas.FrameCapture{
				0: capture(element("h1", "Course Player")),
				2: capture(element("p.stem", "Question text")),
			},
		}
		s := newTestService(t)

		merged, err := s.CollectWithIframeRetry(context.Background(), tab)
		require.NoError(t, err)
		assert.True(t, vmap.HasIframeContent(merged))
		assert.Equal(t, 1, tab.collects)
	})

	t.Run("stops at context cancellation between attempts", func(t *testing.T) {
		tab := &fakeTab{
			captures: map[int64]schemas.FrameCapture{
				0: capture(element("h1", "Loading")),
			},
		}
		s := newTestService(t)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := s.CollectWithIframeRetry(ctx, tab)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, tab.collects)
	})
}

func TestBuildContext(t *testing.T) {
	makeTab := func() *fakeTab {
		return &fakeTab{
			url:   " https://lms.example.com/assessment/42 ",
			title: "Unit Quiz\n",
			frames: []schemas.FrameInfo{
				{FrameID: 0, URL: "https://lms.example.com"},
				{FrameID: 2, URL: "https://player.example.com"},
			},
			captures: map[int64]schemas.FrameCapture{
				0: capture(element("h1", "Course Player")),
				2: capture(element("p.stem", "Which planet?")),
			},
		}
	}

	t.Run("plain collection returns the full map", func(t *testing.T) {
		tab := makeTab()
		s := newTestService(t)

		page, merged, err := s.BuildContext(context.Background(), tab, "", false)
		require.NoError(t, err)
		assert.Equal(t, "https://lms.example.com/assessment/42", page.URL)
		assert.Equal(t, "Unit Quiz", page.Title)
		assert.Equal(t, merged, page.VisualMap)
		assert.Contains(t, merged, vmap.IframeHeader(2))
	})

	t.Run("quiz diff collapses an unchanged page", func(t *testing.T) {
		tab := makeTab()
		s := newTestService(t)

		_, previous, err := s.BuildContext(context.Background(), tab, "", true)
		require.NoError(t, err)

		page, merged, err := s.BuildContext(context.Background(), tab, previous, true)
		require.NoError(t, err)
		assert.Equal(t, previous, merged, "full map is preserved for the next diff")
		assert.Equal(t, vmap.Unchanged, page.VisualMap)
	})

	t.Run("quiz diff replays only the changed sections", func(t *testing.T) {
		tab := makeTab()
		s := newTestService(t)

		_, previous, err := s.BuildContext(context.Background(), tab, "", true)
		require.NoError(t, err)

		tab.captures[2] = capture(element("p.stem", "Which moon?"))
		page, merged, err := s.BuildContext(context.Background(), tab, previous, true)
		require.NoError(t, err)

		assert.NotEqual(t, previous, merged)
		assert.Contains(t, page.VisualMap, "Which moon?")
		assert.NotContains(t, page.VisualMap, "Which planet?")
	})

	t.Run("first quiz step without history sends the full map", func(t *testing.T) {
		tab := makeTab()
		s := newTestService(t)

		page, merged, err := s.BuildContext(context.Background(), tab, "", true)
		require.NoError(t, err)
		assert.Equal(t, merged, page.VisualMap)
		assert.True(t, strings.HasPrefix(page.VisualMap, vmap.HeaderMap))
	})
}

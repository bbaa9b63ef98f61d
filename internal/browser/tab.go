// File: internal/browser/tab.go
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// readyStatePoll is the interval for load completion checks.
const readyStatePoll = 100 * time.Millisecond

// Tab implements schemas.TabHandle for one CDP page target. Frame identity is
// translated between the protocol's string frame ids and the stable small
// ordinals the rest of the driver speaks; the top frame is always ordinal 0.
type Tab struct {
	id       int
	targetID target.ID
	browser  *Browser
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	mu            sync.Mutex
	topFrame      cdp.FrameID
	frameOrdinals map[cdp.FrameID]int64
	ordinalFrames map[int64]cdp.FrameID
	nextOrdinal   int64
	execContexts  map[cdp.FrameID]runtime.ExecutionContextID
	debugAttached bool
}

var _ schemas.TabHandle = (*Tab)(nil)

func newTab(b *Browser, id int, targetID target.ID, ctx context.Context, cancel context.CancelFunc) *Tab {
	t := &Tab{
		id:            id,
		targetID:      targetID,
		browser:       b,
		logger:        b.logger.Named("tab").With(zap.Int("tab_id", id)),
		ctx:           ctx,
		cancel:        cancel,
		frameOrdinals: make(map[cdp.FrameID]int64),
		ordinalFrames: make(map[int64]cdp.FrameID),
		nextOrdinal:   1,
		execContexts:  make(map[cdp.FrameID]runtime.ExecutionContextID),
	}
	t.listenExecutionContexts()
	return t
}

// listenExecutionContexts tracks the default execution context of every frame
// in this target. Child-frame evaluation needs the context id; the events
// replay existing contexts on attach, so the map is warm from the start.
func (t *Tab) listenExecutionContexts() {
	chromedp.ListenTarget(t.ctx, func(ev any) {
		switch ev := ev.(type) {
		case *runtime.EventExecutionContextCreated:
			var aux struct {
				FrameID   string `json:"frameId"`
				IsDefault bool   `json:"isDefault"`
			}
			if err := json.Unmarshal(ev.Context.AuxData, &aux); err != nil || !aux.IsDefault {
				return
			}
			t.mu.Lock()
			t.execContexts[cdp.FrameID(aux.FrameID)] = ev.Context.ID
			t.mu.Unlock()
		case *runtime.EventExecutionContextDestroyed:
			t.mu.Lock()
			for frame, id := range t.execContexts {
				if id == ev.ExecutionContextID {
					delete(t.execContexts, frame)
				}
			}
			t.mu.Unlock()
		case *runtime.EventExecutionContextsCleared:
			t.mu.Lock()
			t.execContexts = make(map[cdp.FrameID]runtime.ExecutionContextID)
			t.mu.Unlock()
		}
	})
}

// run executes chromedp actions on this tab, bounded by the caller's context.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(t.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// ID returns the driver-assigned tab id.
func (t *Tab) ID() int { return t.id }

// URL reports the tab's current location.
func (t *Tab) URL(ctx context.Context) (string, error) {
	var url string
	if err := t.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read tab URL: %w", err)
	}
	return url, nil
}

// Title reports the tab's current document title.
func (t *Tab) Title(ctx context.Context) (string, error) {
	var title string
	if err := t.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read tab title: %w", err)
	}
	return title, nil
}

// EnumerateFrames walks the page's frame tree. The tree comes from the
// navigation layer, not from injected code, so it stays consistent while
// iframes are mid-navigation. Ordinals are sticky across calls for frames
// that survive.
func (t *Tab) EnumerateFrames(ctx context.Context) ([]schemas.FrameInfo, error) {
	var tree *page.FrameTree
	err := t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read frame tree: %w", err)
	}
	if tree == nil || tree.Frame == nil {
		return nil, fmt.Errorf("frame tree is empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.topFrame = tree.Frame.ID
	t.frameOrdinals[tree.Frame.ID] = 0
	t.ordinalFrames[0] = tree.Frame.ID

	var frames []schemas.FrameInfo
	frames = append(frames, schemas.FrameInfo{FrameID: 0, URL: tree.Frame.URL})
	t.walkFrames(tree.ChildFrames, 0, &frames)
	return frames, nil
}

func (t *Tab) walkFrames(children []*page.FrameTree, parent int64, out *[]schemas.FrameInfo) {
	for _, child := range children {
		if child == nil || child.Frame == nil {
			continue
		}
		ordinal, ok := t.frameOrdinals[child.Frame.ID]
		if !ok {
			ordinal = t.nextOrdinal
			t.nextOrdinal++
			t.frameOrdinals[child.Frame.ID] = ordinal
			t.ordinalFrames[ordinal] = child.Frame.ID
		}
		*out = append(*out, schemas.FrameInfo{
			FrameID:       ordinal,
			ParentFrameID: parent,
			URL:           child.Frame.URL,
		})
		t.walkFrames(child.ChildFrames, ordinal, out)
	}
}

// contextFor resolves the execution context of a frame ordinal. Ordinal 0
// evaluates in the target's default context and needs no id.
func (t *Tab) contextFor(frameID int64) (runtime.ExecutionContextID, error) {
	if frameID == 0 {
		return 0, nil
	}
	t.mu.Lock()
	frame, ok := t.ordinalFrames[frameID]
	var ctxID runtime.ExecutionContextID
	if ok {
		ctxID, ok = t.execContexts[frame]
	}
	t.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("no execution context for frame %d", frameID)
	}
	return ctxID, nil
}

// evaluate runs an expression in a frame and returns the raw JSON value.
func (t *Tab) evaluate(ctx context.Context, frameID int64, expr string, await bool) ([]byte, error) {
	ctxID, err := t.contextFor(frameID)
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		p := runtime.Evaluate(expr).WithReturnByValue(true)
		if await {
			p = p.WithAwaitPromise(true)
		}
		if ctxID != 0 {
			p = p.WithContextID(ctxID)
		}
		obj, exc, err := p.Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		if obj != nil {
			raw = []byte(obj.Value)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// InjectProbe evaluates the probe source in the frame. The script installs
// itself idempotently, so re-injection into an already-probed frame is cheap.
func (t *Tab) InjectProbe(ctx context.Context, frameID int64, script string) error {
	if _, err := t.evaluate(ctx, frameID, script, false); err != nil {
		return fmt.Errorf("probe injection into frame %d failed: %w", frameID, err)
	}
	return nil
}

// SendToFrame delivers one request payload to the frame's probe and returns
// the reply bytes.
func (t *Tab) SendToFrame(ctx context.Context, frameID int64, payload []byte) ([]byte, error) {
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to quote probe payload: %w", err)
	}
	expr := "window.__tpProbe(" + string(quoted) + ")"

	raw, err := t.evaluate(ctx, frameID, expr, true)
	if err != nil {
		return nil, err
	}
	// The probe returns its reply as a JSON string; unwrap one level.
	var reply string
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("frame %d returned a non-string probe reply: %w", frameID, err)
	}
	return []byte(reply), nil
}

// UpdateURL starts a navigation without waiting for the load.
func (t *Tab) UpdateURL(ctx context.Context, url string) error {
	return t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		_, _, errorText, _, err := page.Navigate(url).Do(c)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("navigation rejected: %s", errorText)
		}
		return nil
	}))
}

// WaitLoaded polls the document until it reports complete or the timeout
// expires. A navigation that replaces the execution context mid-poll shows up
// as a transient evaluate failure and is retried on the next tick.
func (t *Tab) WaitLoaded(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		raw, err := t.evaluate(ctx, 0, "document.readyState", false)
		if err == nil && strings.Contains(string(raw), "complete") {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("page did not finish loading within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyStatePoll):
		}
	}
}

// Activate brings this tab to the front.
func (t *Tab) Activate(ctx context.Context) error {
	if err := t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return page.BringToFront().Do(c)
	})); err != nil {
		return fmt.Errorf("failed to activate tab: %w", err)
	}
	t.browser.mu.Lock()
	t.browser.activeTarget = t.targetID
	t.browser.mu.Unlock()
	return nil
}

// Close closes the page and drops it from the registry.
func (t *Tab) Close(ctx context.Context) error {
	err := t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return page.Close().Do(c)
	}))
	t.browser.forget(t.targetID)
	if err != nil {
		return fmt.Errorf("failed to close tab: %w", err)
	}
	return nil
}

// NewTab opens a tab in the same browser.
func (t *Tab) NewTab(ctx context.Context, url string) (schemas.TabHandle, error) {
	return t.browser.newTarget(ctx, url)
}

// ListTabs lists the browser's page targets.
func (t *Tab) ListTabs(ctx context.Context) ([]schemas.TabInfo, error) {
	return t.browser.listTabs(ctx)
}

// ActivateTab brings another tab to the front by its driver id.
func (t *Tab) ActivateTab(ctx context.Context, tabID int) error {
	return t.browser.activateTab(ctx, tabID)
}

// ListTabGroups lists the driver-side tab groups.
func (t *Tab) ListTabGroups(ctx context.Context) ([]schemas.TabGroupInfo, error) {
	return t.browser.listGroups(), nil
}

// GroupTabs creates a tab group.
func (t *Tab) GroupTabs(ctx context.Context, tabIDs []int, color, title string) (int64, error) {
	return t.browser.createGroup(tabIDs, color, title), nil
}

// AddToGroup extends an existing group.
func (t *Tab) AddToGroup(ctx context.Context, groupID int64, tabIDs []int) error {
	return t.browser.addToGroup(groupID, tabIDs)
}

// Ungroup dissolves a group; the tabs themselves stay open.
func (t *Tab) Ungroup(ctx context.Context, groupID int64) error {
	return t.browser.removeGroup(groupID)
}

// DebugAttach marks the debug channel open. The CDP session itself is
// attached for the tab's whole lifetime, so this is bookkeeping plus a
// liveness check, and it is idempotent.
func (t *Tab) DebugAttach(ctx context.Context) error {
	if err := t.ctx.Err(); err != nil {
		return fmt.Errorf("tab connection is gone: %w", err)
	}
	t.mu.Lock()
	t.debugAttached = true
	t.mu.Unlock()
	return nil
}

// DebugDetach marks the debug channel closed.
func (t *Tab) DebugDetach(ctx context.Context) error {
	t.mu.Lock()
	t.debugAttached = false
	t.mu.Unlock()
	return nil
}

// DebugSend issues one raw protocol command against this tab and returns the
// result bytes.
func (t *Tab) DebugSend(ctx context.Context, method string, params any) ([]byte, error) {
	t.mu.Lock()
	attached := t.debugAttached
	t.mu.Unlock()
	if !attached {
		if err := t.DebugAttach(ctx); err != nil {
			return nil, err
		}
	}

	var result jsoniter.RawMessage
	err := t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return chromedp.FromContext(c).Target.Execute(c, method, params, &result)
	}))
	if err != nil {
		return nil, fmt.Errorf("debug command %s failed: %w", method, err)
	}
	return result, nil
}

// CaptureScreenshot captures the visible viewport as base64 PNG.
func (t *Tab) CaptureScreenshot(ctx context.Context) (string, error) {
	var buf []byte
	err := t.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(c)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("screenshot capture failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// File: internal/executor/executor.go

// Package executor dispatches planner actions against a tab: in-page actions
// through the probe, navigation and screenshots through the tab handle, and
// the three-strategy drag protocol.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
	"github.com/nv4re/tabpilot/internal/frames"
	"github.com/nv4re/tabpilot/internal/metrics"
	"github.com/nv4re/tabpilot/internal/probe"
)

// Executor routes one action batch's worth of work. It is stateless across
// commands; per-tab debug bookkeeping lives in the tab handle.
type Executor struct {
	logger      *zap.Logger
	coordinator *frames.Coordinator
	probes      *probe.Client
	collector   *metrics.Collector

	navTimeout time.Duration
	navSettle  time.Duration
}

// New wires an executor.
func New(logger *zap.Logger, coordinator *frames.Coordinator, probes *probe.Client, collector *metrics.Collector, navTimeout, navSettle time.Duration) *Executor {
	if navTimeout <= 0 {
		navTimeout = 15 * time.Second
	}
	if navSettle <= 0 {
		navSettle = 500 * time.Millisecond
	}
	return &Executor{
		logger:      logger.Named("executor"),
		coordinator: coordinator,
		probes:      probes,
		collector:   collector,
		navTimeout:  navTimeout,
		navSettle:   navSettle,
	}
}

// Execute runs one action. Per-action failures come back as unsuccessful
// results; only unknown action types and exhausted drag fallbacks are errors.
func (e *Executor) Execute(ctx context.Context, tab schemas.TabHandle, action schemas.Action, quizMode bool) (schemas.ActionResult, error) {
	result, err := e.dispatch(ctx, tab, action, quizMode)
	if e.collector != nil {
		e.collector.ObserveAction(string(action.Type), err == nil && result.Success)
	}
	return result, err
}

func (e *Executor) dispatch(ctx context.Context, tab schemas.TabHandle, action schemas.Action, quizMode bool) (schemas.ActionResult, error) {
	switch action.Type {
	case schemas.ActionClick, schemas.ActionType_, schemas.ActionSelect,
		schemas.ActionHover, schemas.ActionScroll, schemas.ActionExtract,
		schemas.ActionEvaluate, schemas.ActionKeyboard, schemas.ActionWait,
		schemas.ActionDescribe:
		return e.inPage(ctx, tab, action)
	case schemas.ActionDrag:
		return e.executeDrag(ctx, tab, action, quizMode)
	case schemas.ActionNavigate:
		return e.navigate(ctx, tab, action.URL)
	case schemas.ActionScreenshot:
		return e.screenshot(ctx, tab)
	case schemas.ActionSnapshot:
		// Perception is the loop's job; the action itself only marks the
		// break-point.
		return schemas.ActionResult{Success: true, Message: "re-reading page"}, nil
	case schemas.ActionSearch:
		return schemas.ActionResult{Success: true, Message: "search requested"}, nil
	case schemas.ActionTabNew:
		return e.tabNew(ctx, tab, action.URL)
	case schemas.ActionTabClose:
		return e.tabClose(ctx, tab)
	case schemas.ActionTabSwitch:
		return e.tabSwitch(ctx, tab, action.Index)
	case schemas.ActionTabList:
		return e.tabList(ctx, tab)
	case schemas.ActionTabGroupCreate:
		return e.tabGroupCreate(ctx, tab, action)
	case schemas.ActionTabGroupAdd:
		return e.tabGroupAdd(ctx, tab, action)
	case schemas.ActionTabGroupRemove:
		return e.tabGroupRemove(ctx, tab, action.GroupID)
	default:
		return schemas.ActionResult{}, schemas.NewActionError(
			schemas.CodeUnknownAction, "unknown action type %q", action.Type)
	}
}

// inPage routes one probe-handled action to its frame.
func (e *Executor) inPage(ctx context.Context, tab schemas.TabHandle, action schemas.Action) (schemas.ActionResult, error) {
	timed := e.coordinator.WithTimeout(tab)
	result, err := e.probes.Execute(ctx, timed, action.Frame(), action)
	if err != nil {
		// A wedged frame degrades to a failed action, not an aborted batch.
		return schemas.ActionResult{Success: false, Message: err.Error()}, nil
	}
	return result, nil
}

// navigate starts a URL change and waits for load plus a settle delay.
func (e *Executor) navigate(ctx context.Context, tab schemas.TabHandle, url string) (schemas.ActionResult, error) {
	if url == "" {
		return schemas.ActionResult{Success: false,
			Message: "navigate requires a url"}, nil
	}
	if !strings.Contains(url, "://") {
		url = "https://" + url
	}
	if err := tab.UpdateURL(ctx, url); err != nil {
		return schemas.ActionResult{Success: false,
			Message: fmt.Sprintf("%s: %v", schemas.CodeNavigationError, err)}, nil
	}
	if err := tab.WaitLoaded(ctx, e.navTimeout); err != nil {
		e.logger.Warn("Load wait expired, continuing", zap.String("url", url), zap.Error(err))
	}
	select {
	case <-ctx.Done():
		return schemas.ActionResult{}, ctx.Err()
	case <-time.After(e.navSettle):
	}
	return schemas.ActionResult{Success: true,
		Message: "navigated to " + url}, nil
}

// screenshot captures a PNG through the debug channel.
func (e *Executor) screenshot(ctx context.Context, tab schemas.TabHandle) (schemas.ActionResult, error) {
	if err := tab.DebugAttach(ctx); err != nil {
		return schemas.ActionResult{Success: false,
			Message: fmt.Sprintf("%s: %v", schemas.CodeScreenshotError, err)}, nil
	}
	data, err := tab.CaptureScreenshot(ctx)
	if err != nil || data == "" {
		return schemas.ActionResult{Success: false,
			Message: fmt.Sprintf("%s: %v", schemas.CodeScreenshotError, err)}, nil
	}
	return schemas.ActionResult{Success: true,
		Message: "screenshot captured", Data: data}, nil
}

// Describe renders the one-line human-readable label for an action, used for
// the pending/success/error log lines.
func Describe(action schemas.Action) string {
	switch action.Type {
	case schemas.ActionClick:
		return "Click " + action.Selector
	case schemas.ActionType_:
		return fmt.Sprintf("Type %q into %s", action.Text, action.Selector)
	case schemas.ActionSelect:
		return fmt.Sprintf("Select %q in %s", action.Value, action.Selector)
	case schemas.ActionHover:
		return "Hover " + action.Selector
	case schemas.ActionScroll:
		if action.Selector != "" {
			return "Scroll to " + action.Selector
		}
		return "Scroll " + action.Direction
	case schemas.ActionExtract:
		return "Extract from " + action.Selector
	case schemas.ActionEvaluate:
		return "Evaluate script"
	case schemas.ActionKeyboard:
		return "Press " + action.Key
	case schemas.ActionWait:
		if action.Selector != "" {
			return "Wait for " + action.Selector
		}
		return fmt.Sprintf("Wait %d ms", action.Milliseconds)
	case schemas.ActionDescribe:
		return "Note: " + action.Text
	case schemas.ActionSnapshot:
		return "Re-read page"
	case schemas.ActionScreenshot:
		return "Capture screenshot"
	case schemas.ActionNavigate:
		return "Navigate to " + action.URL
	case schemas.ActionDrag:
		return fmt.Sprintf("Drag %s onto %s", action.FromSelector, action.ToSelector)
	case schemas.ActionSearch:
		return "Search: " + action.Query
	case schemas.ActionTabNew:
		return "Open new tab"
	case schemas.ActionTabClose:
		return "Close tab"
	case schemas.ActionTabSwitch:
		return fmt.Sprintf("Switch to tab %d", action.Index)
	case schemas.ActionTabList:
		return "List tabs"
	case schemas.ActionTabGroupCreate:
		return "Create tab group " + action.Title
	case schemas.ActionTabGroupAdd:
		return fmt.Sprintf("Add tabs to group %d", action.GroupID)
	case schemas.ActionTabGroupRemove:
		return fmt.Sprintf("Ungroup %d", action.GroupID)
	default:
		return string(action.Type)
	}
}

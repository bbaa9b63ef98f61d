// File: internal/executor/drag.go
package executor

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	clickPlacePause  = 500 * time.Millisecond
	trustedDragSteps = 15
	trustedStepPause = 20 * time.Millisecond
)

// executeDrag works through the drag strategies in order of applicability:
// quiz click-to-place, the synthesized in-page protocol, then the trusted
// debug-channel replay. Accessibility-enabled assessment widgets accept the
// click pattern; synthesized events cover most drag libraries; the trusted
// path exists because several modern frameworks ignore untrusted events.
func (e *Executor) executeDrag(ctx context.Context, tab schemas.TabHandle, action schemas.Action, quizMode bool) (schemas.ActionResult, error) {
	if action.FromSelector == "" || action.ToSelector == "" {
		return schemas.ActionResult{Success: false,
			Message: "drag requires fromSelector and toSelector"}, nil
	}

	frameID, found, err := e.resolveDragFrame(ctx, tab, action)
	if err != nil {
		return schemas.ActionResult{}, err
	}
	if !found {
		return schemas.ActionResult{Success: false, Message: fmt.Sprintf(
			"%s: drag source %q not found in any frame",
			schemas.CodeElementNotFound, action.FromSelector)}, nil
	}

	if quizMode {
		if result, ok := e.dragClickToPlace(ctx, tab, frameID, action); ok {
			return result, nil
		}
		e.logger.Debug("Click-to-place rejected, falling back to synthesized drag")
	}

	if result, ok := e.dragSynthesized(ctx, tab, frameID, action); ok {
		return result, nil
	}
	e.logger.Debug("Synthesized drag failed, falling back to trusted input")

	if result, err := e.dragTrusted(ctx, tab, frameID, action); err == nil {
		return result, nil
	} else if ctx.Err() != nil {
		return schemas.ActionResult{}, ctx.Err()
	} else {
		e.logger.Warn("All drag strategies exhausted",
			zap.String("from", action.FromSelector),
			zap.String("to", action.ToSelector),
			zap.Error(err),
		)
		return schemas.ActionResult{}, schemas.NewActionError(schemas.CodeDragFailed,
			"drag from %q to %q failed on every strategy: %v",
			action.FromSelector, action.ToSelector, err)
	}
}

// resolveDragFrame returns the frame holding the drag source. When the
// planner omitted frameId and the top frame misses, remaining content frames
// are swept before giving up.
func (e *Executor) resolveDragFrame(ctx context.Context, tab schemas.TabHandle, action schemas.Action) (int64, bool, error) {
	timed := e.coordinator.WithTimeout(tab)
	if action.FrameID != nil {
		return *action.FrameID, true, nil
	}
	if e.selectorExists(ctx, timed, 0, action.FromSelector) {
		return 0, true, nil
	}

	enumeration, err := e.coordinator.Enumerate(ctx, tab)
	if err != nil {
		return 0, false, nil
	}
	for _, frame := range e.coordinator.ContentFrames(enumeration) {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		if e.selectorExists(ctx, timed, frame.FrameID, action.FromSelector) {
			e.logger.Debug("Drag source recovered in child frame",
				zap.Int64("frame_id", frame.FrameID))
			return frame.FrameID, true, nil
		}
	}
	return 0, false, nil
}

func (e *Executor) selectorExists(ctx context.Context, tab schemas.TabHandle, frameID int64, selector string) bool {
	result, err := e.probes.Execute(ctx, tab, frameID, schemas.Action{
		Type:     schemas.ActionWait,
		Selector: selector,
		Timeout:  250,
	})
	return err == nil && result.Success
}

// dragClickToPlace clicks the source, pauses, then clicks the target.
func (e *Executor) dragClickToPlace(ctx context.Context, tab schemas.TabHandle, frameID int64, action schemas.Action) (schemas.ActionResult, bool) {
	timed := e.coordinator.WithTimeout(tab)

	first, err := e.probes.Execute(ctx, timed, frameID, schemas.Action{
		Type: schemas.ActionClick, Selector: action.FromSelector})
	if err != nil || !first.Success {
		return schemas.ActionResult{}, false
	}
	select {
	case <-ctx.Done():
		return schemas.ActionResult{}, false
	case <-time.After(clickPlacePause):
	}
	second, err := e.probes.Execute(ctx, timed, frameID, schemas.Action{
		Type: schemas.ActionClick, Selector: action.ToSelector})
	if err != nil || !second.Success {
		return schemas.ActionResult{}, false
	}
	return schemas.ActionResult{Success: true,
		Message: "placed by click-source-then-click-target"}, true
}

// dragSynthesized runs the in-page two-phase pointer+mouse+HTML5 protocol.
func (e *Executor) dragSynthesized(ctx context.Context, tab schemas.TabHandle, frameID int64, action schemas.Action) (schemas.ActionResult, bool) {
	timed := e.coordinator.WithTimeout(tab)
	routed := action
	routed.FrameID = &frameID
	result, err := e.probes.Execute(ctx, timed, frameID, routed)
	if err != nil || !result.Success {
		return schemas.ActionResult{}, false
	}
	return result, true
}

// dragTrusted replays the drag through the browser's debug channel, producing
// events the page sees as trusted. Coordinates come from the probe and are
// offset by the iframe's viewport position when the source sits in a child
// frame.
func (e *Executor) dragTrusted(ctx context.Context, tab schemas.TabHandle, frameID int64, action schemas.Action) (schemas.ActionResult, error) {
	timed := e.coordinator.WithTimeout(tab)
	coords, err := e.probes.ResolveDragCoords(ctx, timed, frameID,
		action.FromSelector, action.ToSelector)
	if err != nil {
		return schemas.ActionResult{}, err
	}

	offsetX, offsetY := 0.0, 0.0
	if frameID != 0 {
		offsetX, offsetY = e.frameOffset(ctx, tab, frameID)
	}
	fromX, fromY := coords.FromX+offsetX, coords.FromY+offsetY
	toX, toY := coords.ToX+offsetX, coords.ToY+offsetY

	if err := tab.DebugAttach(ctx); err != nil {
		return schemas.ActionResult{}, err
	}

	if err := e.mouseEvent(ctx, tab, "mousePressed", fromX, fromY); err != nil {
		return schemas.ActionResult{}, err
	}
	for step := 1; step <= trustedDragSteps; step++ {
		t := float64(step) / float64(trustedDragSteps)
		x := fromX + (toX-fromX)*t
		y := fromY + (toY-fromY)*t
		if err := e.mouseEvent(ctx, tab, "mouseMoved", x, y); err != nil {
			return schemas.ActionResult{}, err
		}
		select {
		case <-ctx.Done():
			return schemas.ActionResult{}, ctx.Err()
		case <-time.After(trustedStepPause):
		}
	}
	if err := e.mouseEvent(ctx, tab, "mouseReleased", toX, toY); err != nil {
		return schemas.ActionResult{}, err
	}

	return schemas.ActionResult{Success: true, Message: fmt.Sprintf(
		"dragged %q onto %q via trusted input", coords.FromLabel, coords.ToLabel)}, nil
}

func (e *Executor) mouseEvent(ctx context.Context, tab schemas.TabHandle, eventType string, x, y float64) error {
	params := map[string]any{
		"type":   eventType,
		"x":      x,
		"y":      y,
		"button": "left",
	}
	switch eventType {
	case "mousePressed", "mouseReleased":
		params["clickCount"] = 1
	case "mouseMoved":
		params["buttons"] = 1
	}
	_, err := tab.DebugSend(ctx, "Input.dispatchMouseEvent", params)
	return err
}

// frameOffset resolves a child frame's viewport position by locating its
// iframe element in the top frame. A miss degrades to no offset.
func (e *Executor) frameOffset(ctx context.Context, tab schemas.TabHandle, frameID int64) (float64, float64) {
	enumeration, err := e.coordinator.Enumerate(ctx, tab)
	if err != nil {
		return 0, 0
	}
	frameURL := ""
	for _, frame := range enumeration {
		if frame.FrameID == frameID {
			frameURL = frame.URL
			break
		}
	}
	if frameURL == "" {
		return 0, 0
	}

	urlJSON, _ := json.Marshal(frameURL)
	expr := fmt.Sprintf(`(function(){
  var target = %s;
  var frames = document.querySelectorAll('iframe');
  for (var i = 0; i < frames.length; i++) {
    if (frames[i].src && (frames[i].src === target || target.indexOf(frames[i].src) === 0 || frames[i].src.indexOf(target) === 0)) {
      var r = frames[i].getBoundingClientRect();
      return Math.round(r.x) + ',' + Math.round(r.y);
    }
  }
  return '0,0';
})()`, urlJSON)

	timed := e.coordinator.WithTimeout(tab)
	result, err := e.probes.Execute(ctx, timed, 0, schemas.Action{
		Type: schemas.ActionEvaluate, Expression: expr})
	if err != nil || !result.Success {
		return 0, 0
	}
	text, _ := result.Data.(string)
	var x, y float64
	if _, err := fmt.Sscanf(text, "%f,%f", &x, &y); err != nil {
		return 0, 0
	}
	return x, y
}

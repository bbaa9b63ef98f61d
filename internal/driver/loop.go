// File: internal/driver/loop.go
package driver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
	"github.com/nv4re/tabpilot/internal/annotate"
	"github.com/nv4re/tabpilot/internal/config"
	"github.com/nv4re/tabpilot/internal/executor"
	"github.com/nv4re/tabpilot/internal/llm"
	"github.com/nv4re/tabpilot/internal/metrics"
	"github.com/nv4re/tabpilot/internal/quiz"
)

// maxPlanRetries bounds the corrective re-asks within one step.
const maxPlanRetries = 3

// Planner is the loop's view of the LLM dispatcher.
type Planner interface {
	Send(ctx context.Context, command string, page schemas.PageContext, searchResults string, mode schemas.AgentMode) (llm.PlanResult, error)
	RollbackExchange()
}

// Perceptor is the loop's view of the snapshot service.
type Perceptor interface {
	BuildContext(ctx context.Context, tab schemas.TabHandle, previousMap string, quizDiff bool) (schemas.PageContext, string, error)
	LastTop() schemas.FrameCapture
}

// Injector re-establishes probe coverage before quiz-mode steps; iframes
// reload between items and lose their probes.
type Injector interface {
	InjectAll(ctx context.Context, tab schemas.TabHandle) error
}

// Runner is the loop's view of the executor.
type Runner interface {
	Execute(ctx context.Context, tab schemas.TabHandle, action schemas.Action, quizMode bool) (schemas.ActionResult, error)
}

// Loop is the perceive-plan-act cycle for one command.
type Loop struct {
	logger    *zap.Logger
	planner   Planner
	perceptor Perceptor
	injector  Injector
	runner    Runner
	search    schemas.SearchAnalyst
	bus       schemas.EventBus
	collector *metrics.Collector
	cfg       config.LoopConfig
}

// NewLoop wires a loop. search may be nil when the analyst is not configured;
// collector may be nil in tests.
func NewLoop(logger *zap.Logger, planner Planner, perceptor Perceptor, injector Injector, runner Runner, search schemas.SearchAnalyst, bus schemas.EventBus, collector *metrics.Collector, cfg config.LoopConfig) *Loop {
	if cfg.MaxStepsNormal <= 0 {
		cfg.MaxStepsNormal = 15
	}
	if cfg.MaxStepsQuiz <= 0 {
		cfg.MaxStepsQuiz = 25
	}
	return &Loop{
		logger:    logger.Named("loop"),
		planner:   planner,
		perceptor: perceptor,
		injector:  injector,
		runner:    runner,
		search:    search,
		bus:       bus,
		collector: collector,
		cfg:       cfg,
	}
}

func (l *Loop) maxSteps(mode schemas.AgentMode) int {
	if mode == schemas.ModeQuiz {
		return l.cfg.MaxStepsQuiz
	}
	return l.cfg.MaxStepsNormal
}

// Run drives one command to completion. stopped is polled at every
// check-point; a true return abandons the command with ErrStopped. The step
// budget is re-evaluated each iteration so a mode upgrade extends the run.
func (l *Loop) Run(ctx context.Context, tab schemas.TabHandle, command string, stopped func() bool) (string, error) {
	mode := schemas.ModeNormal
	previousMap := ""
	searchBuffer := ""
	lastQuestionKey := ""

	for step := 0; step < l.maxSteps(mode); step++ {
		if stopped() {
			l.publishLog(schemas.LogInfo, "Execution stopped")
			return "", ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if l.collector != nil {
			l.collector.ObserveStep(string(mode))
		}

		if mode == schemas.ModeQuiz {
			if err := l.injector.InjectAll(ctx, tab); err != nil {
				l.logger.Debug("Probe re-injection incomplete", zap.Error(err))
			}
		}

		page, fullMap, err := l.perceptor.BuildContext(ctx, tab, previousMap, mode == schemas.ModeQuiz)
		if err != nil {
			l.publishLog(schemas.LogError, "Failed to read the page: "+err.Error())
			return "", fmt.Errorf("snapshot failed at step %d: %w", step, err)
		}
		// The full map is recorded before any diff replaces it, so the next
		// step diffs against real state rather than against a diff.
		previousMap = fullMap

		if mode == schemas.ModeQuiz && quiz.NeedsVision(page) {
			l.attachScreenshot(ctx, tab, &page)
		}

		if step == 0 && mode == schemas.ModeNormal && quiz.Detect(page) {
			mode = schemas.ModeQuiz
			l.publishLog(schemas.LogInfo, "Assessment page detected, switching to quiz handling")
		}

		// Whatever the previous step buffered (auto-search or an explicit
		// search action) rides on this step's message; anything maybeSearch
		// finds now is buffered for the next one.
		searchResults := searchBuffer
		searchBuffer = ""
		if l.search != nil && mode == schemas.ModeQuiz {
			searchBuffer = l.maybeSearch(ctx, page, &lastQuestionKey, searchBuffer)
		}

		instruction := command
		if step > 0 {
			if mode == schemas.ModeQuiz {
				instruction = llm.ContinuationQuiz
			} else {
				instruction = llm.ContinuationNormal
			}
		}

		decision, ok, err := l.plan(ctx, instruction, page, searchResults, mode, stopped)
		if err != nil {
			return "", err
		}
		if !ok {
			if step == 0 {
				l.publishLog(schemas.LogError, "The model produced no usable actions")
				return "", fmt.Errorf("planner produced no actions for %q", command)
			}
			l.logger.Warn("No usable actions this step, re-reading the page",
				zap.Int("step", step))
			continue
		}

		mode = l.switchMode(mode, decision)

		batchHadClicks, snapshotBreak, err := l.executeBatch(ctx, tab, decision.Actions, mode, &searchBuffer, stopped)
		if err != nil {
			return "", err
		}

		if decision.Done && !(mode == schemas.ModeQuiz && snapshotBreak) {
			summary := decision.Summary
			if summary == "" {
				summary = "Command completed"
			}
			l.publishLog(schemas.LogSuccess, summary)
			return summary, nil
		}

		pause := l.cfg.StepPause
		if mode == schemas.ModeQuiz && batchHadClicks {
			pause = l.cfg.QuizClickPause
		}
		if err := sleepCtx(ctx, pause); err != nil {
			return "", err
		}
	}

	l.publishLog(schemas.LogError, "Step budget exhausted before the command completed")
	return "", fmt.Errorf("step budget exhausted after %d steps", l.maxSteps(mode))
}

// plan asks the planner, re-asking with the corrective prompt up to
// maxPlanRetries times when the reply carries no real progress. Parsed
// no-progress replies are rolled back so the corrective retry starts from the
// window that preceded them; unparsed replies were never appended.
func (l *Loop) plan(ctx context.Context, instruction string, page schemas.PageContext, searchResults string, mode schemas.AgentMode, stopped func() bool) (schemas.ModelDecision, bool, error) {
	for attempt := 0; attempt < maxPlanRetries; attempt++ {
		if stopped() {
			return schemas.ModelDecision{}, false, ErrStopped
		}
		result, err := l.planner.Send(ctx, instruction, page, searchResults, mode)
		if err != nil {
			l.publishLog(schemas.LogError, llm.FriendlyMessage(err))
			return schemas.ModelDecision{}, false, err
		}
		if result.Decision.HasProgress() {
			return result.Decision, true, nil
		}
		if result.Parsed {
			l.planner.RollbackExchange()
		}
		l.logger.Debug("Planner reply without progress, re-asking",
			zap.Int("attempt", attempt+1),
			zap.Bool("parsed", result.Parsed))
		instruction = llm.CorrectivePrompt
	}
	return schemas.ModelDecision{}, false, nil
}

// switchMode applies the planner-requested mode transition. Upgrades to quiz
// apply immediately; a downgrade is honored only alongside done, otherwise a
// model talked out of quiz discipline mid-assessment would lose the stricter
// pacing while questions remain.
func (l *Loop) switchMode(current schemas.AgentMode, decision schemas.ModelDecision) schemas.AgentMode {
	switch {
	case decision.Mode == schemas.ModeQuiz && current == schemas.ModeNormal:
		l.publishLog(schemas.LogInfo, "Model requested quiz handling")
		return schemas.ModeQuiz
	case decision.Mode == schemas.ModeNormal && current == schemas.ModeQuiz && decision.Done:
		return schemas.ModeNormal
	default:
		return current
	}
}

// executeBatch runs one decision's actions in order, honoring break-points.
// It reports whether the batch contained clicks (for pacing) and whether it
// ended on a snapshot break-point (for the done exception).
func (l *Loop) executeBatch(ctx context.Context, tab schemas.TabHandle, actions []schemas.Action, mode schemas.AgentMode, searchBuffer *string, stopped func() bool) (bool, bool, error) {
	quizMode := mode == schemas.ModeQuiz
	batchHadClicks := false
	snapshotBreak := false

	for i, action := range actions {
		if stopped() {
			l.publishLog(schemas.LogInfo, "Execution stopped")
			return batchHadClicks, snapshotBreak, ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return batchHadClicks, snapshotBreak, err
		}

		label := executor.Describe(action)
		l.publishLog(schemas.LogPending, label)

		result, err := l.runner.Execute(ctx, tab, action, quizMode)
		if err != nil {
			l.publishLog(schemas.LogError, label+": "+err.Error())
			l.logger.Warn("Action errored, abandoning the rest of the batch",
				zap.String("action", string(action.Type)),
				zap.Error(err))
			return batchHadClicks, snapshotBreak, nil
		}
		if result.Success {
			msg := label
			if result.Message != "" {
				msg = result.Message
			}
			l.publishLog(schemas.LogSuccess, msg)
		} else {
			l.publishLog(schemas.LogError, label+": "+result.Message)
		}

		if action.Type == schemas.ActionClick {
			batchHadClicks = true
		}
		if action.Type == schemas.ActionSearch {
			*searchBuffer = l.runSearch(ctx, action.Query)
		}

		if action.IsBreakPoint(quizMode) {
			if action.Type == schemas.ActionSnapshot {
				snapshotBreak = true
			}
			if quizMode && action.Type == schemas.ActionDrag {
				if err := sleepCtx(ctx, l.cfg.DragSettle); err != nil {
					return batchHadClicks, snapshotBreak, err
				}
			}
			if i < len(actions)-1 {
				l.logger.Debug("Break-point reached, skipping remaining actions",
					zap.Int("skipped", len(actions)-i-1))
			}
			break
		}
	}
	return batchHadClicks, snapshotBreak, nil
}

// maybeSearch fills the search buffer when the assessment moved to a new
// question. The answer is consumed by the NEXT planner message, so a stale
// buffer from an already-answered question is replaced rather than appended.
func (l *Loop) maybeSearch(ctx context.Context, page schemas.PageContext, lastQuestionKey *string, buffer string) string {
	key := quiz.StableQuestionKey(page.VisualMap)
	if key == "" || key == *lastQuestionKey {
		return buffer
	}
	*lastQuestionKey = key

	question := quiz.ExtractQuestionText(page.VisualMap)
	if question == "" {
		return buffer
	}
	answer := l.runSearch(ctx, question)
	if answer == "" {
		return buffer
	}
	return answer
}

// runSearch asks the analyst and reports through the log channel. Failures
// degrade to an empty answer.
func (l *Loop) runSearch(ctx context.Context, question string) string {
	if l.search == nil {
		l.publishLog(schemas.LogError, "Search requested but no search model is configured")
		return ""
	}
	if question == "" {
		return ""
	}
	l.publishLog(schemas.LogInfo, "Searching: "+question)
	answer, err := l.search.Search(ctx, question, "")
	if err != nil {
		l.logger.Warn("Search analyst failed", zap.Error(err))
		l.publishLog(schemas.LogError, "Search failed: "+err.Error())
		return ""
	}
	return answer
}

// attachScreenshot captures and annotates the page for the vision handoff.
// Every failure here is non-fatal; the step proceeds on text alone.
func (l *Loop) attachScreenshot(ctx context.Context, tab schemas.TabHandle, page *schemas.PageContext) {
	if err := tab.DebugAttach(ctx); err != nil {
		l.logger.Debug("Debug attach for screenshot failed", zap.Error(err))
		return
	}
	data, err := tab.CaptureScreenshot(ctx)
	if err != nil || data == "" {
		l.logger.Debug("Screenshot capture failed", zap.Error(err))
		return
	}

	capture := l.perceptor.LastTop()
	annotated, err := annotate.Screenshot(data, capture.Elements, capture.ScrollX, capture.ScrollY, annotate.DefaultOptions())
	if err != nil {
		l.logger.Debug("Screenshot annotation failed, using raw capture", zap.Error(err))
		annotated = data
	}
	page.Screenshot = annotated
	page.NeedsVision = true
}

func (l *Loop) publishLog(logType schemas.LogType, text string) {
	l.bus.PublishLog(schemas.ActionLog{LogType: logType, Text: text})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

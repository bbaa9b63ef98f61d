// File: internal/driver/loop_test.go
package driver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
	"github.com/nv4re/tabpilot/internal/config"
	"github.com/nv4re/tabpilot/internal/llm"
)

type plannerCall struct {
	instruction   string
	searchResults string
	mode          schemas.AgentMode
}

type fakePlanner struct {
	results   []llm.PlanResult
	errs      []error
	calls     []plannerCall
	rollbacks int
}

func (p *fakePlanner) Send(ctx context.Context, command string, page schemas.PageContext, searchResults string, mode schemas.AgentMode) (llm.PlanResult, error) {
	i := len(p.calls)
	p.calls = append(p.calls, plannerCall{instruction: command, searchResults: searchResults, mode: mode})
	if i < len(p.errs) && p.errs[i] != nil {
		return llm.PlanResult{}, p.errs[i]
	}
	if i < len(p.results) {
		return p.results[i], nil
	}
	return llm.PlanResult{
		Decision: schemas.ModelDecision{
			Actions: []schemas.Action{{Type: schemas.ActionDescribe, Text: "done"}, {Type: schemas.ActionWait, Milliseconds: 1}},
			Done:    true,
			Summary: "fallback summary",
		},
		Parsed: true,
	}, nil
}

func (p *fakePlanner) RollbackExchange() { p.rollbacks++ }

type perceptorCall struct {
	previousMap string
	quizDiff    bool
}

type fakePerceptor struct {
	pages []schemas.PageContext
	maps  []string
	err   error
	calls []perceptorCall
}

func (p *fakePerceptor) BuildContext(ctx context.Context, tab schemas.TabHandle, previousMap string, quizDiff bool) (schemas.PageContext, string, error) {
	i := len(p.calls)
	p.calls = append(p.calls, perceptorCall{previousMap: previousMap, quizDiff: quizDiff})
	if p.err != nil {
		return schemas.PageContext{}, "", p.err
	}
	if i >= len(p.pages) {
		i = len(p.pages) - 1
	}
	fullMap := p.pages[i].VisualMap
	if i < len(p.maps) {
		fullMap = p.maps[i]
	}
	return p.pages[i], fullMap, nil
}

func (p *fakePerceptor) LastTop() schemas.FrameCapture { return schemas.FrameCapture{} }

type fakeInjector struct{ calls int }

func (f *fakeInjector) InjectAll(ctx context.Context, tab schemas.TabHandle) error {
	f.calls++
	return nil
}

type fakeRunner struct {
	actions []schemas.Action
	quiz    []bool
	fail    map[schemas.ActionType]error
}

func (r *fakeRunner) Execute(ctx context.Context, tab schemas.TabHandle, action schemas.Action, quizMode bool) (schemas.ActionResult, error) {
	r.actions = append(r.actions, action)
	r.quiz = append(r.quiz, quizMode)
	if err := r.fail[action.Type]; err != nil {
		return schemas.ActionResult{}, err
	}
	return schemas.ActionResult{Success: true, Message: "ok"}, nil
}

type fakeSearch struct {
	answer    string
	err       error
	questions []string
}

func (s *fakeSearch) Search(ctx context.Context, question, pageContext string) (string, error) {
	s.questions = append(s.questions, question)
	return s.answer, s.err
}

// recordingBus collects every published event; safe for concurrent use.
type recordingBus struct {
	mu       sync.Mutex
	logs     []schemas.ActionLog
	statuses []schemas.StatusUpdate
	states   []schemas.ExecutionStateEvent
}

func (b *recordingBus) PublishStatus(update schemas.StatusUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, update)
}

func (b *recordingBus) PublishLog(entry schemas.ActionLog) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = append(b.logs, entry)
}

func (b *recordingBus) PublishExecutionState(state schemas.ExecutionStateEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = append(b.states, state)
}

func (b *recordingBus) logTexts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	texts := make([]string, len(b.logs))
	for i, entry := range b.logs {
		texts[i] = entry.Text
	}
	return texts
}

const quizMap = `=== VISUAL PAGE MAP ===
[H1] @(10,10 400x40) sel="h1" "Course Player"

=== IFRAME CONTENT (frameId=2) ===
[P] @(20,10 600x20) sel="p.counter" "3 of 10 Items"
[P] @(20,40 600x40) sel="p.stem" "Which planet is closest to the sun?"
[*INPUT[radio]] @(20,90 20x20) sel="#opt-a" "Mercury" [unchecked]
[*INPUT[radio]] @(20,120 20x20) sel="#opt-b" "Venus" [unchecked]
[*BUTTON] @(20,200 80x30) sel="button.lrn_assess" "Check"`

func plainPage(visualMap string) schemas.PageContext {
	return schemas.PageContext{
		URL:       "https://news.example.com/story",
		Title:     "Daily News",
		VisualMap: visualMap,
	}
}

func quizPage() schemas.PageContext {
	return schemas.PageContext{
		URL:       "https://lms.example.com/assessment/42",
		Title:     "Unit Quiz",
		VisualMap: quizMap,
	}
}

func parsed(done bool, summary string, actions ...schemas.Action) llm.PlanResult {
	return llm.PlanResult{
		Decision: schemas.ModelDecision{Actions: actions, Done: done, Summary: summary},
		Parsed:   true,
	}
}

type loopFixture struct {
	planner   *fakePlanner
	perceptor *fakePerceptor
	injector  *fakeInjector
	runner    *fakeRunner
	search    *fakeSearch
	bus       *recordingBus
	loop      *Loop
}

func newLoopFixture(t *testing.T, planner *fakePlanner, perceptor *fakePerceptor, search schemas.SearchAnalyst) *loopFixture {
	t.Helper()
	f := &loopFixture{
		planner:   planner,
		perceptor: perceptor,
		injector:  &fakeInjector{},
		runner:    &fakeRunner{},
		bus:       &recordingBus{},
	}
	f.loop = NewLoop(zap.NewNop(), planner, perceptor, f.injector, f.runner, search, f.bus, nil,
		config.LoopConfig{MaxStepsNormal: 6, MaxStepsQuiz: 8})
	return f
}

func never() bool { return false }

func TestLoopRun(t *testing.T) {
	t.Run("finishes on a done decision", func(t *testing.T) {
		planner := &fakePlanner{results: []llm.PlanResult{
			parsed(true, "Clicked the button", schemas.Action{Type: schemas.ActionClick, Selector: "#go"}),
		}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{plainPage("=== VISUAL PAGE MAP ===")}}
		f := newLoopFixture(t, planner, perceptor, nil)

		summary, err := f.loop.Run(context.Background(), nil, "click the button", never)
		require.NoError(t, err)
		assert.Equal(t, "Clicked the button", summary)
		require.Len(t, f.runner.actions, 1)
		assert.Equal(t, schemas.ActionClick, f.runner.actions[0].Type)
	})

	t.Run("later steps use the continuation instruction", func(t *testing.T) {
		planner := &fakePlanner{results: []llm.PlanResult{
			parsed(false, "", schemas.Action{Type: schemas.ActionClick, Selector: "#next"}),
			parsed(true, "All done", schemas.Action{Type: schemas.ActionClick, Selector: "#finish"}),
		}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{plainPage("=== VISUAL PAGE MAP ===")}}
		f := newLoopFixture(t, planner, perceptor, nil)

		_, err := f.loop.Run(context.Background(), nil, "work through the wizard", never)
		require.NoError(t, err)
		require.Len(t, planner.calls, 2)
		assert.Equal(t, "work through the wizard", planner.calls[0].instruction)
		assert.Equal(t, llm.ContinuationNormal, planner.calls[1].instruction)
	})

	t.Run("the stored map feeds the next step before any diff", func(t *testing.T) {
		planner := &fakePlanner{results: []llm.PlanResult{
			parsed(false, "", schemas.Action{Type: schemas.ActionClick, Selector: "#a"}),
			parsed(true, "done", schemas.Action{Type: schemas.ActionClick, Selector: "#b"}),
		}}
		perceptor := &fakePerceptor{
			pages: []schemas.PageContext{plainPage("[diffed view]"), plainPage("[diffed view 2]")},
			maps:  []string{"full map one", "full map two"},
		}
		f := newLoopFixture(t, planner, perceptor, nil)

		_, err := f.loop.Run(context.Background(), nil, "go", never)
		require.NoError(t, err)
		require.Len(t, perceptor.calls, 2)
		assert.Empty(t, perceptor.calls[0].previousMap)
		assert.Equal(t, "full map one", perceptor.calls[1].previousMap)
	})

	t.Run("stops at the check-point", func(t *testing.T) {
		planner := &fakePlanner{}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{plainPage("=== VISUAL PAGE MAP ===")}}
		f := newLoopFixture(t, planner, perceptor, nil)

		_, err := f.loop.Run(context.Background(), nil, "go", func() bool { return true })
		assert.ErrorIs(t, err, ErrStopped)
		assert.Empty(t, planner.calls)
	})

	t.Run("snapshot failure aborts the command", func(t *testing.T) {
		planner := &fakePlanner{}
		perceptor := &fakePerceptor{err: errors.New("tab closed")}
		f := newLoopFixture(t, planner, perceptor, nil)

		_, err := f.loop.Run(context.Background(), nil, "go", never)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "snapshot failed")
	})

	t.Run("planner error surfaces a friendly log line", func(t *testing.T) {
		planner := &fakePlanner{errs: []error{errors.New("boom")}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{plainPage("=== VISUAL PAGE MAP ===")}}
		f := newLoopFixture(t, planner, perceptor, nil)

		_, err := f.loop.Run(context.Background(), nil, "go", never)
		require.Error(t, err)
		assert.NotEmpty(t, f.bus.logTexts())
	})
}

func TestLoopPlanRetries(t *testing.T) {
	describeOnly := llm.PlanResult{
		Decision: schemas.ModelDecision{Actions: []schemas.Action{{Type: schemas.ActionDescribe, Text: "I see a page"}}},
		Parsed:   true,
	}
	unparsed := llm.PlanResult{Decision: schemas.ModelDecision{Actions: []schemas.Action{}}}

	t.Run("parsed no-progress replies roll back and re-ask", func(t *testing.T) {
		planner := &fakePlanner{results: []llm.PlanResult{describeOnly, describeOnly, describeOnly}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{plainPage("=== VISUAL PAGE MAP ===")}}
		f := newLoopFixture(t, planner, perceptor, nil)

		_, err := f.loop.Run(context.Background(), nil, "go", never)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no actions")
		assert.Equal(t, 3, planner.rollbacks)
		require.Len(t, planner.calls, 3)
		assert.Equal(t, llm.CorrectivePrompt, planner.calls[1].instruction)
		assert.Equal(t, llm.CorrectivePrompt, planner.calls[2].instruction)
	})

	t.Run("unparsed replies are never rolled back", func(t *testing.T) {
		planner := &fakePlanner{results: []llm.PlanResult{unparsed, unparsed, unparsed}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{plainPage("=== VISUAL PAGE MAP ===")}}
		f := newLoopFixture(t, planner, perceptor, nil)

		_, err := f.loop.Run(context.Background(), nil, "go", never)
		require.Error(t, err)
		assert.Zero(t, planner.rollbacks)
	})

	t.Run("a later no-progress step re-reads instead of failing", func(t *testing.T) {
		planner := &fakePlanner{results: []llm.PlanResult{
			parsed(false, "", schemas.Action{Type: schemas.ActionClick, Selector: "#a"}),
			describeOnly, describeOnly, describeOnly,
			parsed(true, "recovered", schemas.Action{Type: schemas.ActionClick, Selector: "#b"}),
		}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{plainPage("=== VISUAL PAGE MAP ===")}}
		f := newLoopFixture(t, planner, perceptor, nil)

		summary, err := f.loop.Run(context.Background(), nil, "go", never)
		require.NoError(t, err)
		assert.Equal(t, "recovered", summary)
	})
}

func TestLoopQuizMode(t *testing.T) {
	t.Run("detects an assessment on the first snapshot", func(t *testing.T) {
		planner := &fakePlanner{results: []llm.PlanResult{
			parsed(true, "answered", schemas.Action{Type: schemas.ActionClick, Selector: "#opt-a"}),
		}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{quizPage()}}
		f := newLoopFixture(t, planner, perceptor, nil)

		_, err := f.loop.Run(context.Background(), nil, "complete the quiz", never)
		require.NoError(t, err)
		require.Len(t, planner.calls, 1)
		assert.Equal(t, schemas.ModeQuiz, planner.calls[0].mode)
		require.Len(t, f.runner.quiz, 1)
		assert.True(t, f.runner.quiz[0])
	})

	t.Run("re-injects probes on quiz steps", func(t *testing.T) {
		planner := &fakePlanner{results: []llm.PlanResult{
			parsed(false, "", schemas.Action{Type: schemas.ActionClick, Selector: "#opt-a"}),
			parsed(true, "done", schemas.Action{Type: schemas.ActionClick, Selector: "#check"}),
		}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{quizPage()}}
		f := newLoopFixture(t, planner, perceptor, nil)

		_, err := f.loop.Run(context.Background(), nil, "complete the quiz", never)
		require.NoError(t, err)
		// Step 0 detects quiz mode after its snapshot; step 1 re-injects.
		assert.Equal(t, 1, f.injector.calls)
		require.Len(t, perceptor.calls, 2)
		assert.False(t, perceptor.calls[0].quizDiff)
		assert.True(t, perceptor.calls[1].quizDiff)
	})

	t.Run("done with a snapshot break keeps the quiz going", func(t *testing.T) {
		planner := &fakePlanner{results: []llm.PlanResult{
			parsed(true, "finished?", schemas.Action{Type: schemas.ActionSnapshot}),
			parsed(true, "actually finished", schemas.Action{Type: schemas.ActionClick, Selector: "#submit"}),
		}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{quizPage()}}
		f := newLoopFixture(t, planner, perceptor, nil)

		summary, err := f.loop.Run(context.Background(), nil, "complete the quiz", never)
		require.NoError(t, err)
		assert.Equal(t, "actually finished", summary)
		assert.Len(t, planner.calls, 2)
	})

	t.Run("model-requested quiz mode applies to the batch", func(t *testing.T) {
		result := parsed(true, "done", schemas.Action{Type: schemas.ActionClick, Selector: "#a"})
		result.Decision.Mode = schemas.ModeQuiz
		planner := &fakePlanner{results: []llm.PlanResult{result}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{plainPage("=== VISUAL PAGE MAP ===")}}
		f := newLoopFixture(t, planner, perceptor, nil)

		_, err := f.loop.Run(context.Background(), nil, "go", never)
		require.NoError(t, err)
		require.Len(t, f.runner.quiz, 1)
		assert.True(t, f.runner.quiz[0])
	})
}

func TestLoopBreakPoints(t *testing.T) {
	t.Run("a snapshot break-point truncates the batch", func(t *testing.T) {
		planner := &fakePlanner{results: []llm.PlanResult{
			parsed(false, "",
				schemas.Action{Type: schemas.ActionClick, Selector: "#a"},
				schemas.Action{Type: schemas.ActionSnapshot},
				schemas.Action{Type: schemas.ActionClick, Selector: "#never"},
			),
			parsed(true, "done", schemas.Action{Type: schemas.ActionClick, Selector: "#b"}),
		}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{plainPage("=== VISUAL PAGE MAP ===")}}
		f := newLoopFixture(t, planner, perceptor, nil)

		_, err := f.loop.Run(context.Background(), nil, "go", never)
		require.NoError(t, err)
		require.Len(t, f.runner.actions, 3)
		assert.Equal(t, "#a", f.runner.actions[0].Selector)
		assert.Equal(t, schemas.ActionSnapshot, f.runner.actions[1].Type)
		assert.Equal(t, "#b", f.runner.actions[2].Selector)
	})

	t.Run("an action error abandons the batch but not the command", func(t *testing.T) {
		planner := &fakePlanner{results: []llm.PlanResult{
			parsed(false, "",
				schemas.Action{Type: schemas.ActionDrag, FromSelector: "#a", ToSelector: "#b"},
				schemas.Action{Type: schemas.ActionClick, Selector: "#after"},
			),
			parsed(true, "done", schemas.Action{Type: schemas.ActionClick, Selector: "#b"}),
		}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{plainPage("=== VISUAL PAGE MAP ===")}}
		f := newLoopFixture(t, planner, perceptor, nil)
		f.runner.fail = map[schemas.ActionType]error{
			schemas.ActionDrag: schemas.NewActionError(schemas.CodeDragFailed, "all strategies failed"),
		}

		summary, err := f.loop.Run(context.Background(), nil, "go", never)
		require.NoError(t, err)
		assert.Equal(t, "done", summary)
		// The click after the failed drag never ran.
		for _, action := range f.runner.actions {
			assert.NotEqual(t, "#after", action.Selector)
		}
	})
}

func TestLoopSearch(t *testing.T) {
	t.Run("a new question's answer feeds the next step", func(t *testing.T) {
		planner := &fakePlanner{results: []llm.PlanResult{
			parsed(false, "", schemas.Action{Type: schemas.ActionClick, Selector: "#opt-a"}),
			parsed(true, "answered", schemas.Action{Type: schemas.ActionClick, Selector: "#check"}),
		}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{quizPage()}}
		search := &fakeSearch{answer: "Mercury."}
		f := newLoopFixture(t, planner, perceptor, search)

		_, err := f.loop.Run(context.Background(), nil, "complete the quiz", never)
		require.NoError(t, err)
		require.Len(t, search.questions, 1)
		assert.Contains(t, search.questions[0], "Which planet is closest to the sun?")
		require.Len(t, planner.calls, 2)
		assert.Empty(t, planner.calls[0].searchResults)
		assert.Equal(t, "Mercury.", planner.calls[1].searchResults)
	})

	t.Run("an unchanged question key searches once", func(t *testing.T) {
		planner := &fakePlanner{results: []llm.PlanResult{
			parsed(false, "", schemas.Action{Type: schemas.ActionClick, Selector: "#opt-a"}),
			parsed(true, "done", schemas.Action{Type: schemas.ActionClick, Selector: "#check"}),
		}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{quizPage()}}
		search := &fakeSearch{answer: "Mercury."}
		f := newLoopFixture(t, planner, perceptor, search)

		_, err := f.loop.Run(context.Background(), nil, "complete the quiz", never)
		require.NoError(t, err)
		assert.Len(t, search.questions, 1)
	})

	t.Run("an explicit search action fills the next step", func(t *testing.T) {
		planner := &fakePlanner{results: []llm.PlanResult{
			parsed(false, "", schemas.Action{Type: schemas.ActionSearch, Query: "capital of France"}),
			parsed(true, "done", schemas.Action{Type: schemas.ActionClick, Selector: "#b"}),
		}}
		perceptor := &fakePerceptor{pages: []schemas.PageContext{plainPage("=== VISUAL PAGE MAP ===")}}
		search := &fakeSearch{answer: "Paris."}
		f := newLoopFixture(t, planner, perceptor, search)

		_, err := f.loop.Run(context.Background(), nil, "go", never)
		require.NoError(t, err)
		require.Len(t, planner.calls, 2)
		assert.Empty(t, planner.calls[0].searchResults)
		assert.Equal(t, "Paris.", planner.calls[1].searchResults)
	})
}

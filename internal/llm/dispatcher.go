// File: internal/llm/dispatcher.go

// Package llm owns provider dispatch: system prompts, user-message assembly,
// the rolling conversation window, JSON recovery, and the vision and search
// handoffs.
package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nv4re/tabpilot/api/schemas"
	"github.com/nv4re/tabpilot/internal/metrics"
)

// Options tunes one dispatcher instance.
type Options struct {
	Model             string
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
	HistoryTokens     int
}

// Dispatcher is the provider-neutral planner facade the agent loop talks to.
type Dispatcher struct {
	logger    *zap.Logger
	client    schemas.ChatClient
	vision    schemas.VisionAnalyst
	history   *History
	limiter   *rate.Limiter
	collector *metrics.Collector
	opts      Options
}

// NewDispatcher wires a dispatcher. vision may be nil when no handoff model
// is configured; collector may be nil in tests.
func NewDispatcher(logger *zap.Logger, client schemas.ChatClient, vision schemas.VisionAnalyst, collector *metrics.Collector, opts Options) *Dispatcher {
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	return &Dispatcher{
		logger:    logger.Named("dispatcher"),
		client:    client,
		vision:    vision,
		history:   NewHistory(opts.HistoryTokens),
		limiter:   rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		collector: collector,
		opts:      opts,
	}
}

// History exposes the rolling window for the loop's rollback and for tests.
func (d *Dispatcher) History() *History { return d.history }

// RollbackExchange removes the most recent user/assistant pair. The loop
// calls it before a corrective retry so the rejected exchange does not poison
// the window. Safe to call when nothing was appended.
func (d *Dispatcher) RollbackExchange() { d.history.DropLastPair() }

// PlanResult carries one planner reply. Parsed is false when no JSON could be
// recovered from the reply; the exchange was then NOT appended to history and
// must not be rolled back.
type PlanResult struct {
	Decision schemas.ModelDecision
	Parsed   bool
}

// Send performs one planner call: vision handoff when needed, the chat
// completion, JSON recovery, and the history append on success. An
// unparseable reply is not an error; the neutral decision lets the loop run
// its corrective retry.
func (d *Dispatcher) Send(ctx context.Context, command string, page schemas.PageContext, searchResults string, mode schemas.AgentMode) (PlanResult, error) {
	visionAnalysis := ""
	imagePNG := ""
	if page.Screenshot != "" {
		if d.client.SupportsImages() {
			imagePNG = page.Screenshot
		} else if d.vision != nil {
			analysis, err := d.vision.Analyze(ctx, VisionPrompt(""), page.Screenshot)
			if err != nil {
				// The step proceeds on text alone.
				d.logger.Warn("Vision handoff failed", zap.Error(err))
			} else {
				visionAnalysis = analysis
			}
		}
	}

	userText := BuildUserMessage(command, page, visionAnalysis, searchResults)
	reply, err := d.complete(ctx, schemas.ChatRequest{
		Model:        d.opts.Model,
		SystemPrompt: SystemPrompt(mode),
		History:      d.history.Entries(),
		UserText:     userText,
		ImagePNG:     imagePNG,
		Temperature:  d.opts.Temperature,
		MaxTokens:    d.opts.MaxTokens,
		ForceJSON:    true,
	})
	if err != nil {
		var classified *Error
		if errors.As(err, &classified) && classified.Kind == KindJSONValidate {
			// The accumulated window is what failed validation; clear it and
			// re-ask once with only the command.
			d.logger.Warn("Provider rejected request JSON, retrying with cleared history")
			d.history.Clear()
			userText = "Command: " + command
			reply, err = d.complete(ctx, schemas.ChatRequest{
				Model:        d.opts.Model,
				SystemPrompt: SystemPrompt(mode),
				UserText:     userText,
				Temperature:  d.opts.Temperature,
				MaxTokens:    d.opts.MaxTokens,
				ForceJSON:    true,
			})
		}
		if err != nil {
			return PlanResult{}, err
		}
	}

	decision, parsed := ParseDecision(reply)
	if !parsed {
		d.logger.Warn("Planner reply had no recoverable JSON",
			zap.Int("reply_length", len(reply)))
		return PlanResult{Decision: decision}, nil
	}

	d.history.Append(userText, reply)
	return PlanResult{Decision: decision, Parsed: true}, nil
}

func (d *Dispatcher) complete(ctx context.Context, req schemas.ChatRequest) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}
	start := time.Now()
	reply, err := d.client.Send(ctx, req)
	if d.collector != nil {
		d.collector.ObserveLLMRequest(d.client.Name(), err == nil, time.Since(start))
	}
	return reply, err
}

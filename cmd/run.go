// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
	"github.com/nv4re/tabpilot/internal/browser"
	"github.com/nv4re/tabpilot/internal/config"
	"github.com/nv4re/tabpilot/internal/driver"
	"github.com/nv4re/tabpilot/internal/events"
	"github.com/nv4re/tabpilot/internal/executor"
	"github.com/nv4re/tabpilot/internal/frames"
	"github.com/nv4re/tabpilot/internal/llm"
	"github.com/nv4re/tabpilot/internal/metrics"
	"github.com/nv4re/tabpilot/internal/observability"
	"github.com/nv4re/tabpilot/internal/probe"
	"github.com/nv4re/tabpilot/internal/snapshot"
	"github.com/nv4re/tabpilot/internal/storage"
)

// newRunCmd creates the `run` command, which executes one natural-language
// command against the active tab of a running browser.
func newRunCmd() *cobra.Command {
	var devtoolsURL string

	runCmd := &cobra.Command{
		Use:   `run "<command>"`,
		Short: "Executes a natural-language command against the active tab",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The signal-aware context from Execute. Cancellation requests a
			// stop; the in-flight protocol call is allowed to finish.
			signalCtx := cmd.Context()
			ctx := context.WithoutCancel(signalCtx)
			logger := observability.GetLogger()
			command := strings.Join(args, " ")

			endpoint := cfg.Browser().DevToolsURL
			if devtoolsURL != "" {
				endpoint = devtoolsURL
			}

			store, closeStore, err := openStorage(ctx, logger, cfg.Storage())
			if err != nil {
				return err
			}
			defer closeStore()

			if err := applyStoredSettings(ctx, store, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			b, err := browser.Connect(ctx, logger, endpoint)
			if err != nil {
				return err
			}
			defer b.Close()

			tab, err := b.ActiveTab(ctx)
			if err != nil {
				return err
			}

			session, bus, err := buildSession(ctx, logger, cfg)
			if err != nil {
				return err
			}
			defer bus.Close()

			eventsCh, unsubscribe := bus.Subscribe()
			defer unsubscribe()
			printDone := make(chan struct{})
			go printEvents(eventsCh, printDone)

			go func() {
				<-signalCtx.Done()
				session.Stop()
			}()

			summary, err := session.Execute(ctx, tab, command)
			bus.Close()
			<-printDone

			switch {
			case errors.Is(err, driver.ErrStopped):
				fmt.Println("Stopped.")
				return nil
			case err != nil:
				return err
			}
			if summary != "" {
				fmt.Println(summary)
			}
			return nil
		},
	}

	runCmd.Flags().StringVar(&devtoolsURL, "devtools-url", "", "remote debugging endpoint of the running browser")
	return runCmd
}

// buildSession assembles the full driver stack from configuration.
func buildSession(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*driver.Session, *events.Bus, error) {
	collector := metrics.NewCollector("tabpilot")
	coordinator := frames.NewCoordinator(logger, cfg.Browser().FrameTimeout)
	probes := probe.NewClient(logger)
	perceptor := snapshot.NewService(logger, coordinator, probes, collector)
	runner := executor.New(logger, coordinator, probes, collector,
		cfg.Browser().NavigationTimeout, cfg.Browser().NavigationSettle)

	llmCfg := cfg.LLM()
	client, err := llm.NewChatClient(ctx, llmCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	vision, err := llm.NewVisionAnalyst(ctx, llmCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	search, err := llm.NewSearchAnalyst(ctx, llmCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	dispatcher := llm.NewDispatcher(logger, client, vision, collector, llm.Options{
		Model:             llmCfg.Model,
		Temperature:       llmCfg.Temperature,
		MaxTokens:         llmCfg.MaxTokens,
		RequestsPerMinute: llmCfg.RequestsPerMinute,
		HistoryTokens:     llmCfg.HistoryTokenBudget,
	})

	bus := events.NewBus(logger, 64)
	loop := driver.NewLoop(logger, dispatcher, perceptor, coordinator, runner, search, bus, collector, cfg.Loop())
	return driver.NewSession(logger, loop, bus), bus, nil
}

// openStorage builds the configured settings backend. The returned closer is
// a no-op for the file backend.
func openStorage(ctx context.Context, logger *zap.Logger, cfg config.StorageConfig) (schemas.Storage, func(), error) {
	switch cfg.Backend {
	case "postgres":
		store, err := storage.Open(ctx, logger, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "file", "":
		store, err := storage.NewFileStore(logger, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q, supported: [file postgres]", cfg.Backend)
	}
}

// applyStoredSettings overlays persisted provider settings onto the loaded
// configuration. Empty stored values leave the config value in place.
func applyStoredSettings(ctx context.Context, store schemas.Storage, cfg *config.Config) error {
	overlay := []struct {
		key   string
		apply func(string)
	}{
		{schemas.KeyAIProvider, cfg.SetLLMProvider},
		{schemas.KeyAIModel, cfg.SetLLMModel},
		{schemas.KeyAIAPIKey, cfg.SetLLMAPIKey},
		{schemas.KeyGroqVisionModel, cfg.SetLLMVisionModel},
		{schemas.KeySearchModel, cfg.SetSearchModel},
	}
	for _, o := range overlay {
		value, err := store.Get(ctx, o.key)
		if err != nil {
			return fmt.Errorf("failed to load setting %q: %w", o.key, err)
		}
		if value != "" {
			o.apply(value)
		}
	}

	value, err := store.Get(ctx, schemas.KeySearchEnabled)
	if err != nil {
		return fmt.Errorf("failed to load setting %q: %w", schemas.KeySearchEnabled, err)
	}
	if value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %q value %q: %w", schemas.KeySearchEnabled, value, err)
		}
		cfg.SetSearchEnabled(enabled)
	}
	return nil
}

// printEvents streams ACTION_LOG lines to stdout until the bus closes.
func printEvents(ch <-chan events.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range ch {
		switch {
		case ev.Log != nil:
			fmt.Printf("[%s] %s\n", ev.Log.LogType, ev.Log.Text)
		case ev.Status != nil && ev.Status.Status == schemas.StatusError:
			fmt.Printf("[status] %s\n", ev.Status.Text)
		}
	}
}

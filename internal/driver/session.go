// File: internal/driver/session.go

// Package driver owns the command lifecycle: the single-flight session gate,
// cooperative cancellation, and the agent loop that alternates perception,
// planning, and execution until the command is done or the budget runs out.
package driver

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/nv4re/tabpilot/api/schemas"
)

var (
	// ErrBusy is returned when a command arrives while another is running.
	ErrBusy = errors.New("a command is already executing")
	// ErrStopped is returned when the user cancelled the running command.
	ErrStopped = errors.New("command stopped by user")
)

// Session serializes command execution for one driver instance. At most one
// command runs at a time; concurrent callers get ErrBusy immediately instead
// of queueing.
type Session struct {
	logger *zap.Logger
	loop   *Loop
	bus    schemas.EventBus

	slot *semaphore.Weighted
	stop atomic.Bool
}

// NewSession wires a session around one loop.
func NewSession(logger *zap.Logger, loop *Loop, bus schemas.EventBus) *Session {
	return &Session{
		logger: logger.Named("session"),
		loop:   loop,
		bus:    bus,
		slot:   semaphore.NewWeighted(1),
	}
}

// Stop requests cancellation of the running command. The loop honors it at
// its next check-point; actions already dispatched complete.
func (s *Session) Stop() {
	s.stop.Store(true)
}

// Stopped reports whether cancellation was requested.
func (s *Session) Stopped() bool {
	return s.stop.Load()
}

// Execute runs one natural-language command to completion. It fails fast with
// ErrBusy when another command holds the slot.
func (s *Session) Execute(ctx context.Context, tab schemas.TabHandle, command string) (string, error) {
	if !s.slot.TryAcquire(1) {
		s.bus.PublishLog(schemas.ActionLog{
			LogType: schemas.LogError,
			Text:    schemas.CodeBusy + ": a command is already executing",
		})
		return "", ErrBusy
	}
	defer s.slot.Release(1)
	s.stop.Store(false)

	commandID := uuid.NewString()
	logger := s.logger.With(zap.String("command_id", commandID))
	logger.Info("Command accepted", zap.String("command", command))

	s.bus.PublishExecutionState(schemas.ExecutionStateEvent{Running: true})
	s.bus.PublishStatus(schemas.StatusUpdate{Status: schemas.StatusBusy, Text: command})
	defer s.bus.PublishExecutionState(schemas.ExecutionStateEvent{Running: false})

	summary, err := s.loop.Run(ctx, tab, command, s.Stopped)
	switch {
	case errors.Is(err, ErrStopped):
		s.bus.PublishStatus(schemas.StatusUpdate{Status: schemas.StatusReady, Text: "Stopped"})
		logger.Info("Command stopped")
	case err != nil:
		s.bus.PublishStatus(schemas.StatusUpdate{Status: schemas.StatusError, Text: err.Error()})
		logger.Error("Command failed", zap.Error(err))
	default:
		s.bus.PublishStatus(schemas.StatusUpdate{Status: schemas.StatusReady, Text: summary})
		logger.Info("Command finished", zap.String("summary", summary))
	}
	return summary, err
}

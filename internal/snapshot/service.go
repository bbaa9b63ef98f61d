// File: internal/snapshot/service.go

// Package snapshot assembles the per-step perception bundle: it gathers every
// frame's capture, merges the rendered maps, and (in quiz mode) retries until
// iframe content shows up.
package snapshot

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/api/schemas"
	"github.com/nv4re/tabpilot/internal/frames"
	"github.com/nv4re/tabpilot/internal/metrics"
	"github.com/nv4re/tabpilot/internal/probe"
	"github.com/nv4re/tabpilot/internal/vmap"
)

const (
	// iframeRetryAttempts bounds the quiz-mode wait for a navigating iframe.
	iframeRetryAttempts = 4
	iframeRetryPause    = 1800 * time.Millisecond
)

// Service owns snapshot collection for one driver instance.
type Service struct {
	logger      *zap.Logger
	coordinator *frames.Coordinator
	probes      *probe.Client
	collector   *metrics.Collector

	mu      sync.Mutex
	lastTop schemas.FrameCapture
}

// NewService wires the snapshot pipeline.
func NewService(logger *zap.Logger, coordinator *frames.Coordinator, probes *probe.Client, collector *metrics.Collector) *Service {
	return &Service{
		logger:      logger.Named("snapshot"),
		coordinator: coordinator,
		probes:      probes,
		collector:   collector,
	}
}

// CollectAllFrames produces the merged Visual Page Map for a tab. Frames are
// visited sequentially so perception stays deterministic and total time is
// bounded by frames times the per-frame timeout.
func (s *Service) CollectAllFrames(ctx context.Context, tab schemas.TabHandle) (string, error) {
	start := time.Now()
	defer func() {
		if s.collector != nil {
			s.collector.ObserveSnapshot(time.Since(start))
		}
	}()

	if err := s.coordinator.InjectAll(ctx, tab); err != nil {
		s.logger.Debug("Partial probe coverage", zap.Error(err))
	}

	timed := s.coordinator.WithTimeout(tab)

	topCapture, err := s.probes.BuildMap(ctx, timed, 0)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.lastTop = topCapture
	s.mu.Unlock()
	topMap := vmap.Render(topCapture)

	enumeration, err := s.coordinator.Enumerate(ctx, tab)
	if err != nil {
		s.logger.Warn("Frame enumeration failed, using top frame only", zap.Error(err))
		return topMap, nil
	}

	var children []vmap.MergedFrame
	for _, frame := range s.coordinator.ContentFrames(enumeration) {
		capture, err := s.probes.BuildMap(ctx, timed, frame.FrameID)
		if err != nil {
			// A wedged or restricted frame degrades to absent.
			s.logger.Debug("Frame capture dropped",
				zap.Int64("frame_id", frame.FrameID),
				zap.String("url", frame.URL),
				zap.Error(err),
			)
			continue
		}
		if len(capture.Elements) == 0 {
			continue
		}
		children = append(children, vmap.MergedFrame{
			FrameID: frame.FrameID,
			Map:     vmap.Render(capture),
		})
	}
	return vmap.Merge(topMap, children), nil
}

// LastTop returns the most recent top-frame capture, for screenshot
// annotation against the elements the planner was shown.
func (s *Service) LastTop() schemas.FrameCapture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTop
}

// CollectWithIframeRetry re-collects until the merged map carries an iframe
// section or attempts run out. An iframe that is navigating when the snapshot
// starts shows up empty; a short pause and re-injection recovers it.
func (s *Service) CollectWithIframeRetry(ctx context.Context, tab schemas.TabHandle) (string, error) {
	var merged string
	var err error
	for attempt := 0; attempt < iframeRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(iframeRetryPause):
			}
			s.logger.Debug("Retrying snapshot for iframe content",
				zap.Int("attempt", attempt+1))
		}
		merged, err = s.CollectAllFrames(ctx, tab)
		if err != nil {
			continue
		}
		if vmap.HasIframeContent(merged) {
			return merged, nil
		}
	}
	if err != nil {
		return "", err
	}
	return merged, nil
}

// BuildContext assembles the PageContext for one step. previousMap selects
// diffing: when non-empty and quizDiff is set, visualMap carries the diff
// while the full map is returned separately for the stored-before-diff
// policy.
func (s *Service) BuildContext(ctx context.Context, tab schemas.TabHandle, previousMap string, quizDiff bool) (schemas.PageContext, string, error) {
	var merged string
	var err error
	if quizDiff {
		merged, err = s.CollectWithIframeRetry(ctx, tab)
	} else {
		merged, err = s.CollectAllFrames(ctx, tab)
	}
	if err != nil {
		return schemas.PageContext{}, "", err
	}

	url, err := tab.URL(ctx)
	if err != nil {
		s.logger.Debug("Tab URL unavailable", zap.Error(err))
	}
	title, err := tab.Title(ctx)
	if err != nil {
		s.logger.Debug("Tab title unavailable", zap.Error(err))
	}

	visual := merged
	if quizDiff && previousMap != "" {
		visual = vmap.ComputeDiff(previousMap, merged)
	}

	return schemas.PageContext{
		URL:       strings.TrimSpace(url),
		Title:     strings.TrimSpace(title),
		VisualMap: visual,
	}, merged, nil
}

package services

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"crowdcounter/internal/config"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/metrics"
	"crowdcounter/internal/model"
	"crowdcounter/internal/services/counting"
	"crowdcounter/internal/services/ingest"
)

// TrackerFactory builds the tracker of one source.
type TrackerFactory func(source config.Source) (ingest.Tracker, error)

// Dependencies are the collaborators shared by every source. Notifier, Hook
// and Metrics may be nil.
type Dependencies struct {
	Opener     ingest.SourceOpener
	NewTracker TrackerFactory
	Store      ingest.Store
	Notifier   ingest.Notifier
	Hook       ingest.FrameHook
	Metrics    *metrics.Metrics
}

// Manager runs one ingest loop per configured source.
type Manager struct {
	loops    []*ingest.Loop
	trackers []ingest.Tracker
	logger   *logger.Logger
}

func NewManager(cfg *config.Config, deps Dependencies, logger *logger.Logger) (*Manager, error) {
	crossing, err := counting.ParsePolicy(cfg.CrossingPolicy)
	if err != nil {
		return nil, err
	}
	window, err := counting.NewWindowPolicy(cfg.WindowMode, cfg.Interval())
	if err != nil {
		return nil, err
	}

	manager := &Manager{logger: logger}
	for _, source := range cfg.Sources {
		tracker, err := deps.NewTracker(source)
		if err != nil {
			manager.closeTrackers()
			return nil, fmt.Errorf("failed to create tracker for %s: %w", source.Name, err)
		}
		manager.trackers = append(manager.trackers, tracker)

		opts := ingest.Options{
			Source:       source,
			BoundaryY:    cfg.BoundaryY,
			Crossing:     crossing,
			Window:       window,
			TickInterval: cfg.TickInterval,
			FrameTimeout: cfg.FrameTimeout,
			RetryMin:     cfg.RetryMin,
			RetryMax:     cfg.RetryMax,
			FlushOnStop:  cfg.FlushOnStop,
			Notifier:     deps.Notifier,
			Hook:         deps.Hook,
			Metrics:      deps.Metrics,
		}
		manager.loops = append(manager.loops, ingest.NewLoop(opts, deps.Opener, tracker, deps.Store, logger))
	}

	manager.logger.Info("🎬 Manager ready: %d source(s), %s mode, %s crossing, boundary y=%.0f",
		len(manager.loops), window.Mode, crossing, cfg.BoundaryY)
	return manager, nil
}

// Run blocks until ctx is done and every loop has stopped.
func (m *Manager) Run(ctx context.Context) error {
	defer m.closeTrackers()

	g, ctx := errgroup.WithContext(ctx)
	for _, loop := range m.loops {
		g.Go(func() error {
			return loop.Run(ctx)
		})
	}

	err := g.Wait()
	m.logger.Info("🛑 All sources stopped")
	return err
}

// Statuses returns the status of every source in configuration order.
func (m *Manager) Statuses() []model.SourceStatus {
	statuses := make([]model.SourceStatus, 0, len(m.loops))
	for _, loop := range m.loops {
		statuses = append(statuses, loop.Status())
	}
	return statuses
}

func (m *Manager) closeTrackers() {
	for _, tracker := range m.trackers {
		if c, ok := tracker.(io.Closer); ok {
			if err := c.Close(); err != nil {
				m.logger.Warning("Failed to release tracker: %v", err)
			}
		}
	}
	m.trackers = nil
}

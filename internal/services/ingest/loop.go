package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"

	"crowdcounter/internal/config"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/metrics"
	"crowdcounter/internal/model"
	"crowdcounter/internal/services/counting"
)

// appendTimeout bounds one flush. It applies even while the loop is stopping.
const appendTimeout = 10 * time.Second

// Options configure one Loop. Clock, Hook, Notifier and Metrics are optional.
type Options struct {
	Source       config.Source
	BoundaryY    float64
	Crossing     counting.Policy
	Window       counting.WindowPolicy
	TickInterval time.Duration
	FrameTimeout time.Duration
	RetryMin     time.Duration
	RetryMax     time.Duration
	FlushOnStop  bool

	Clock    quartz.Clock
	Hook     FrameHook
	Notifier Notifier
	Metrics  *metrics.Metrics
}

// batch is what the acquire goroutine hands to the loop goroutine.
type batch struct {
	frame      Frame
	detections []model.Detection
	err        error
}

// Loop drives one source: frames go through the tracker into its own
// TrackCounter, and the window policy decides when counts reach the store.
// The counter is touched only by the goroutine running Run.
type Loop struct {
	opts    Options
	clock   quartz.Clock
	opener  SourceOpener
	tracker Tracker
	store   Store
	logger  *logger.Logger

	counter   *counting.TrackCounter
	lastFlush time.Time

	mu     sync.Mutex
	status model.SourceStatus
}

func NewLoop(opts Options, opener SourceOpener, tracker Tracker, store Store, logger *logger.Logger) *Loop {
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = 10 * time.Second
	}
	if opts.RetryMin <= 0 {
		opts.RetryMin = time.Second
	}
	if opts.RetryMax < opts.RetryMin {
		opts.RetryMax = opts.RetryMin
	}

	return &Loop{
		opts:    opts,
		clock:   clock,
		opener:  opener,
		tracker: tracker,
		store:   store,
		logger:  logger,
		counter: counting.NewTrackCounter(clock, opts.Crossing),
		status: model.SourceStatus{
			SourceID: opts.Source.Name,
			State:    model.StateConnecting,
		},
	}
}

// SourceID returns the name of the source this loop drives.
func (l *Loop) SourceID() string {
	return l.opts.Source.Name
}

// Status returns a snapshot of the loop's state.
func (l *Loop) Status() model.SourceStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Run blocks until ctx is done. It never fails because of the source or the
// store; those errors are logged and retried. On return the frame source is
// released and any append in progress has completed.
func (l *Loop) Run(ctx context.Context) error {
	id := l.SourceID()
	ticker := l.clock.NewTicker(l.opts.TickInterval, "ingest", "tick")
	defer ticker.Stop()

	l.counter.State(id)
	l.logger.Info("Ingest started for %s (%s mode, every %s)", id, l.opts.Window.Mode, l.opts.Window.Interval)

	acquireCtx, cancel := context.WithCancel(ctx)
	batches := make(chan batch)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.acquire(acquireCtx, batches)
	}()

	l.evaluate(ctx)
	for {
		select {
		case <-ctx.Done():
			cancel()
			wg.Wait()
			if l.opts.FlushOnStop {
				_ = l.flush(ctx, l.clock.Now("ingest", "stop"))
			}
			l.counter.Remove(id)
			l.setState(model.StateStopped, nil)
			l.logger.Info("Ingest stopped for %s", id)
			return nil

		case b := <-batches:
			l.handleBatch(b)

		case <-ticker.C:
			l.evaluate(ctx)
		}
	}
}

func (l *Loop) handleBatch(b batch) {
	defer b.frame.Close()
	id := l.SourceID()

	if b.err != nil {
		l.opts.Metrics.TrackerError(id)
		l.logger.Warning("Skipping frame %d of %s: %v", b.frame.Seq, id, b.err)
		return
	}

	previous := l.counter.Count(id)
	current := l.counter.Update(id, b.detections, l.opts.BoundaryY)
	l.opts.Metrics.RecordCount(id, previous, current)

	if current != previous {
		l.setCount(current)
		l.publish(current, false, l.clock.Now("ingest", "publish"))
	}
	if l.opts.Hook != nil {
		l.opts.Hook.OnFrame(id, b.frame, b.detections, current)
	}
}

// evaluate applies the window policy at the current time. It runs once at
// start and then only on ticks, so a failed flush waits for the next tick.
func (l *Loop) evaluate(ctx context.Context) {
	id := l.SourceID()
	now := l.clock.Now("ingest", "evaluate")
	state := l.counter.State(id)

	decision := l.opts.Window.OnTick(now, state, l.lastFlush)
	if decision.Flush {
		if err := l.flush(ctx, now); err != nil {
			// Counts stay in memory; the next tick tries again.
			return
		}
		if decision.Reset {
			l.counter.Reset(id)
			l.opts.Metrics.RecordReset(id)
			l.setCount(0)
		}
	}

	l.counter.Prune(id, now.Add(-l.opts.Window.Interval))
}

// flush persists the current count. The append is not cut short by ctx.
func (l *Loop) flush(ctx context.Context, now time.Time) error {
	id := l.SourceID()
	count := l.counter.Count(id)

	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	_, err := l.store.Append(appendCtx, id, int64(count), now)
	l.opts.Metrics.RecordFlush(id, err)
	if err != nil {
		l.logger.Error("Failed to persist count %d for %s: %v", count, id, err)
		l.mu.Lock()
		l.status.LastError = err.Error()
		l.mu.Unlock()
		return err
	}

	l.lastFlush = now
	l.mu.Lock()
	l.status.LastFlush = now
	l.mu.Unlock()
	l.publish(count, true, now)
	return nil
}

func (l *Loop) publish(count int, persisted bool, now time.Time) {
	if l.opts.Notifier == nil {
		return
	}
	l.opts.Notifier.Publish(model.CountUpdate{
		Source:    l.SourceID(),
		Count:     count,
		Persisted: persisted,
		Timestamp: now,
	})
}

// acquire keeps the source open, reconnecting with backoff until ctx is done.
func (l *Loop) acquire(ctx context.Context, out chan<- batch) {
	id := l.SourceID()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = l.opts.RetryMin
	eb.MaxInterval = l.opts.RetryMax
	eb.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		if attempt > 0 {
			l.opts.Metrics.Reconnect(id)
		}
		attempt++

		err := l.stream(ctx, out, eb)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		l.setState(model.StateStalled, err)
		l.logger.Warning("Source %s stalled: %v (retrying in %s)", id, err, next.Round(time.Millisecond))
	}

	_ = backoff.RetryNotify(op, backoff.WithContext(eb, ctx), notify)
}

// stream opens the source and forwards tracked frames until it fails. It
// always returns a non-nil error and always closes the source. The source is
// reported stalled before it is closed.
func (l *Loop) stream(ctx context.Context, out chan<- batch, eb *backoff.ExponentialBackOff) (err error) {
	id := l.SourceID()
	l.setState(model.StateConnecting, nil)

	src, err := l.opener.Open(ctx, l.opts.Source)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer func() {
		if ctx.Err() == nil {
			l.setState(model.StateStalled, err)
		}
		if cerr := src.Close(); cerr != nil {
			l.logger.Warning("Failed to close source %s: %v", id, cerr)
		}
	}()

	streaming := false
	for {
		frameCtx, cancel := context.WithTimeout(ctx, l.opts.FrameTimeout)
		frame, err := src.NextFrame(frameCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", ErrFrameTimeout, l.opts.FrameTimeout)
			}
			return err
		}

		if !streaming {
			streaming = true
			eb.Reset()
			l.setState(model.StateStreaming, nil)
			l.logger.Info("Source %s streaming", id)
		}
		l.opts.Metrics.FrameProcessed(id)

		detections, err := l.tracker.Track(ctx, frame)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrTracker, err)
		}

		select {
		case out <- batch{frame: frame, detections: detections, err: err}:
		case <-ctx.Done():
			frame.Close()
			return ctx.Err()
		}
	}
}

func (l *Loop) setState(state model.SourceState, err error) {
	l.mu.Lock()
	l.status.State = state
	if err != nil {
		l.status.LastError = err.Error()
	}
	l.mu.Unlock()
	l.opts.Metrics.SetState(l.SourceID(), state)
}

func (l *Loop) setCount(count int) {
	l.mu.Lock()
	l.status.Count = count
	l.mu.Unlock()
}

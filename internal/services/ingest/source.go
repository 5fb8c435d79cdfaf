package ingest

import (
	"context"
	"errors"
	"time"

	"crowdcounter/internal/config"
	"crowdcounter/internal/model"
)

var (
	// ErrSourceUnavailable is returned when a frame source cannot be opened.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrEndOfStream is returned by a live source that ran out of frames.
	ErrEndOfStream = errors.New("end of stream")
	// ErrFrameTimeout is returned when no frame arrived within the frame timeout.
	ErrFrameTimeout = errors.New("timed out waiting for frame")
	// ErrTracker marks a frame whose detections could not be produced.
	ErrTracker = errors.New("tracker failed")
)

// Frame is one decoded frame. Payload is owned by the frame source; Close
// hands it back once every consumer is done with it.
type Frame struct {
	Seq     int64
	Time    time.Time
	Payload any
	Release func()
}

// Close releases the payload. It is safe to call on a zero Frame.
func (f Frame) Close() {
	if f.Release != nil {
		f.Release()
	}
}

// FrameSource produces an ordered, possibly endless, sequence of frames.
// NextFrame blocks until a frame is ready, ctx is done, or the source fails.
type FrameSource interface {
	NextFrame(ctx context.Context) (Frame, error)
	Close() error
}

// SourceOpener resolves a configured source into a FrameSource.
type SourceOpener interface {
	Open(ctx context.Context, source config.Source) (FrameSource, error)
}

// Tracker turns a frame into tracked detections. One Tracker serves one
// source and is never called concurrently.
type Tracker interface {
	Track(ctx context.Context, frame Frame) ([]model.Detection, error)
}

// FrameHook observes every processed frame, e.g. to draw an overlay. It runs
// on the loop goroutine and must not keep the frame after returning.
type FrameHook interface {
	OnFrame(sourceID string, frame Frame, detections []model.Detection, count int)
}

// Notifier receives count updates for live viewers. Publish must not block.
type Notifier interface {
	Publish(update model.CountUpdate)
}

// Store is the write side of the aggregate store used by a Loop.
type Store interface {
	Append(ctx context.Context, sourceID string, count int64, ts time.Time) (model.AggregateRecord, error)
}

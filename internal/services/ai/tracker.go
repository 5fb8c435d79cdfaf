package ai

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"crowdcounter/internal/config"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/model"
	"crowdcounter/internal/services/ingest"
	"crowdcounter/internal/services/tracking"
)

// Tracker detects people in captured frames and keeps their ids stable
// across frames. One Tracker serves one source.
type Tracker struct {
	detector *DetectorService
	tracks   *tracking.IOUTracker
}

var _ ingest.Tracker = (*Tracker)(nil)

func NewTracker(cfg *config.Config, logger *logger.Logger) (*Tracker, error) {
	detector, err := NewDetectorService(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		detector: detector,
		tracks:   tracking.NewIOUTracker(cfg.TrackIOU, cfg.TrackMaxMisses),
	}, nil
}

// Track expects frames produced by a CaptureOpener.
func (t *Tracker) Track(ctx context.Context, frame ingest.Frame) ([]model.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, ok := frame.Payload.(*gocv.Mat)
	if !ok || mat == nil {
		return nil, fmt.Errorf("unexpected frame payload %T", frame.Payload)
	}

	boxes, err := t.detector.DetectPeople(*mat)
	if err != nil {
		return nil, err
	}
	return t.tracks.Update(boxes), nil
}

func (t *Tracker) Close() error {
	return t.detector.Close()
}

package ai

import (
	"context"
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"crowdcounter/internal/config"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/services/ingest"
)

// CaptureOpener opens sources with OpenCV: video files, stream URLs or
// device indexes, whatever VideoCapture understands.
type CaptureOpener struct {
	size   image.Point
	logger *logger.Logger
}

var _ ingest.SourceOpener = (*CaptureOpener)(nil)

func NewCaptureOpener(cfg *config.Config, logger *logger.Logger) *CaptureOpener {
	return &CaptureOpener{
		size:   image.Pt(cfg.FrameWidth, cfg.FrameHeight),
		logger: logger,
	}
}

func (o *CaptureOpener) Open(ctx context.Context, source config.Source) (ingest.FrameSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(source.Locator)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", source.Locator, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("failed to open %s", source.Locator)
	}
	if source.Live {
		// Keep latency low on live streams.
		vc.Set(gocv.VideoCaptureBufferSize, 1)
	}

	o.logger.Info("Opened %s (%s)", source.Name, source.Locator)
	c := &capture{
		vc:      vc,
		locator: source.Locator,
		live:    source.Live,
		size:    o.size,
	}
	return ingest.NewAsyncSource(c.next, c.vc.Close), nil
}

// capture reads one VideoCapture. Reads are serialized by the AsyncSource
// around it, which also decides when vc is released.
type capture struct {
	vc      *gocv.VideoCapture
	locator string
	live    bool
	size    image.Point
	seq     int64
}

func (c *capture) next() (ingest.Frame, error) {
	mat, err := c.read()
	if err != nil {
		return ingest.Frame{}, err
	}
	c.seq++
	return ingest.Frame{
		Seq:     c.seq,
		Time:    time.Now(),
		Payload: mat,
		Release: func() { mat.Close() },
	}, nil
}

func (c *capture) read() (*gocv.Mat, error) {
	mat := gocv.NewMat()
	if ok := c.vc.Read(&mat); !ok || mat.Empty() {
		if c.live {
			mat.Close()
			return nil, ingest.ErrEndOfStream
		}
		// Files loop forever.
		c.vc.Set(gocv.VideoCapturePosFrames, 0)
		if ok := c.vc.Read(&mat); !ok || mat.Empty() {
			mat.Close()
			return nil, fmt.Errorf("failed to read %s after rewinding", c.locator)
		}
	}

	if c.size.X > 0 && c.size.Y > 0 && (mat.Cols() != c.size.X || mat.Rows() != c.size.Y) {
		resized := gocv.NewMat()
		gocv.Resize(mat, &resized, c.size, 0, 0, gocv.InterpolationLinear)
		mat.Close()
		mat = resized
	}

	return &mat, nil
}

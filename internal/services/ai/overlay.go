package ai

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"

	"crowdcounter/internal/model"
	"crowdcounter/internal/services/ingest"
)

var (
	headColor     = color.RGBA{R: 255, G: 255, B: 0, A: 0}
	boundaryColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	headerColor   = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	bannerColor   = color.RGBA{A: 0}
)

// headShare is the top part of a person box drawn as the head.
const headShare = 0.25

// Overlay shows every processed frame in a window per source with the
// boundary, tracked heads and the running count drawn on top.
type Overlay struct {
	boundaryY int
	windows   map[string]*gocv.Window
	mu        sync.Mutex
}

var _ ingest.FrameHook = (*Overlay)(nil)

func NewOverlay(boundaryY float64) *Overlay {
	return &Overlay{
		boundaryY: int(boundaryY),
		windows:   make(map[string]*gocv.Window),
	}
}

func (o *Overlay) OnFrame(sourceID string, frame ingest.Frame, detections []model.Detection, count int) {
	mat, ok := frame.Payload.(*gocv.Mat)
	if !ok || mat == nil || mat.Empty() {
		return
	}
	Draw(mat, sourceID, detections, count, o.boundaryY)

	o.mu.Lock()
	defer o.mu.Unlock()
	window, ok := o.windows[sourceID]
	if !ok {
		window = gocv.NewWindow(fmt.Sprintf("LT-CCTV: %s", sourceID))
		o.windows[sourceID] = window
	}
	window.IMShow(*mat)
	window.WaitKey(1)
}

// Draw renders the monitor view onto mat in place.
func Draw(mat *gocv.Mat, sourceID string, detections []model.Detection, count, boundaryY int) {
	width := mat.Cols()

	for _, d := range detections {
		b := d.BBox
		head := image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y1+b.Height()*headShare))
		gocv.Rectangle(mat, head, headColor, 2)
		gocv.PutText(mat, fmt.Sprintf("P-%d", d.TrackID), image.Pt(head.Min.X, head.Min.Y-10),
			gocv.FontHersheySimplex, 0.5, headColor, 2)
	}

	gocv.Rectangle(mat, image.Rect(0, 0, width, 50), bannerColor, -1)
	gocv.PutText(mat, fmt.Sprintf("LT-CCTV: %s | TOTAL PASSERBY: %d", sourceID, count), image.Pt(20, 35),
		gocv.FontHersheySimplex, 0.8, headerColor, 2)

	gocv.Line(mat, image.Pt(0, boundaryY), image.Pt(width, boundaryY), boundaryColor, 2)
}

// Close destroys every window.
func (o *Overlay) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, window := range o.windows {
		window.Close()
		delete(o.windows, id)
	}
	return nil
}

package model

import "math"

// BBox is an axis-aligned bounding region in frame pixels, (X1,Y1) top-left.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// CenterY returns the vertical center of the box.
func (b BBox) CenterY() float64 {
	return (b.Y1 + b.Y2) / 2
}

// Finite reports whether every coordinate is a finite number.
func (b BBox) Finite() bool {
	for _, v := range [...]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Width returns the horizontal extent of the box.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Detection is one tracked object in a frame as reported by the tracker.
type Detection struct {
	TrackID int64 `json:"track_id"`
	BBox    BBox  `json:"bbox"`
}

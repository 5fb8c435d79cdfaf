package tracking

import (
	"sort"

	"crowdcounter/internal/model"
)

// track is one live object the tracker follows between frames.
type track struct {
	id     int64
	box    model.BBox
	misses int
}

// IOUTracker assigns stable ids to per-frame boxes by greedy overlap
// matching. Ids grow monotonically and are never reused. It is not safe for
// concurrent use.
type IOUTracker struct {
	minIOU    float64
	maxMisses int
	nextID    int64
	tracks    []*track
}

func NewIOUTracker(minIOU float64, maxMisses int) *IOUTracker {
	return &IOUTracker{
		minIOU:    minIOU,
		maxMisses: maxMisses,
		nextID:    1,
	}
}

type candidate struct {
	track, box int
	iou        float64
}

// Update matches the boxes of one frame against the live tracks and returns
// them with their track ids, in input order. Boxes with non-finite or
// inverted coordinates are dropped.
func (t *IOUTracker) Update(boxes []model.BBox) []model.Detection {
	valid := boxes[:0:0]
	for _, b := range boxes {
		if b.Finite() && b.Width() > 0 && b.Height() > 0 {
			valid = append(valid, b)
		}
	}

	var candidates []candidate
	for ti, tr := range t.tracks {
		for bi, b := range valid {
			if iou := IOU(tr.box, b); iou >= t.minIOU {
				candidates = append(candidates, candidate{track: ti, box: bi, iou: iou})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].iou > candidates[j].iou
	})

	trackUsed := make([]bool, len(t.tracks))
	assigned := make([]int64, len(valid))
	for _, c := range candidates {
		if trackUsed[c.track] || assigned[c.box] != 0 {
			continue
		}
		trackUsed[c.track] = true
		tr := t.tracks[c.track]
		tr.box = valid[c.box]
		tr.misses = 0
		assigned[c.box] = tr.id
	}

	live := t.tracks[:0]
	for i, tr := range t.tracks {
		if !trackUsed[i] {
			tr.misses++
			if tr.misses > t.maxMisses {
				continue
			}
		}
		live = append(live, tr)
	}
	t.tracks = live

	detections := make([]model.Detection, 0, len(valid))
	for i, b := range valid {
		id := assigned[i]
		if id == 0 {
			id = t.nextID
			t.nextID++
			t.tracks = append(t.tracks, &track{id: id, box: b})
		}
		detections = append(detections, model.Detection{TrackID: id, BBox: b})
	}
	return detections
}

// Len returns the number of live tracks.
func (t *IOUTracker) Len() int {
	return len(t.tracks)
}

// IOU returns the intersection over union of two boxes, 0 when they do not
// overlap.
func IOU(a, b model.BBox) float64 {
	w := min(a.X2, b.X2) - max(a.X1, b.X1)
	h := min(a.Y2, b.Y2) - max(a.Y1, b.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	inter := w * h
	union := a.Width()*a.Height() + b.Width()*b.Height() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

package counting

import (
	"math"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdcounter/internal/model"
)

var testStart = time.Date(2030, time.March, 1, 8, 0, 0, 0, time.UTC)

func newTestCounter(t *testing.T, policy Policy) (*TrackCounter, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(testStart)
	return NewTrackCounter(clock, policy), clock
}

// det builds a detection whose bbox is centered vertically on centerY.
func det(id int64, centerY float64) model.Detection {
	return model.Detection{
		TrackID: id,
		BBox:    model.BBox{X1: 100, Y1: centerY - 50, X2: 160, Y2: centerY + 50},
	}
}

func TestTrackCounter_CountsTrackAfterCrossing(t *testing.T) {
	c, _ := newTestCounter(t, PositionPolicy)

	// Track 1 moves 300 -> 390 -> 420, track 2 never reaches the line.
	assert.Equal(t, 0, c.Update("cam1", []model.Detection{det(1, 300), det(2, 250)}, 400))
	assert.Equal(t, 0, c.Update("cam1", []model.Detection{det(1, 390), det(2, 320)}, 400))
	assert.Equal(t, 1, c.Update("cam1", []model.Detection{det(1, 420), det(2, 399)}, 400))
	assert.Equal(t, 1, c.Update("cam1", []model.Detection{det(1, 480), det(2, 400)}, 400))

	s := c.State("cam1")
	assert.True(t, s.Counted(1))
	assert.False(t, s.Counted(2))
}

func TestTrackCounter_Idempotent(t *testing.T) {
	c, _ := newTestCounter(t, PositionPolicy)
	batch := []model.Detection{det(7, 410), det(8, 450), det(7, 430)}

	first := c.Update("cam1", batch, 400)
	second := c.Update("cam1", batch, 400)

	assert.Equal(t, 2, first)
	assert.Equal(t, first, second)
	assert.Equal(t, []int64{7, 8}, c.State("cam1").CountedIDs())
}

func TestTrackCounter_DistinctTracksRegardlessOfOrder(t *testing.T) {
	frames := [][]model.Detection{
		{det(1, 300), det(2, 350), det(3, 100)},
		{det(1, 380), det(2, 405), det(3, 200)},
		{det(1, 420), det(2, 460), det(3, 300)},
		{det(3, 401)},
	}

	forward, _ := newTestCounter(t, PositionPolicy)
	for _, f := range frames {
		forward.Update("cam1", f, 400)
	}

	// Replaying each frame twice and shuffling detections within a frame
	// must not change the result.
	replayed, _ := newTestCounter(t, PositionPolicy)
	for _, f := range frames {
		reversed := make([]model.Detection, len(f))
		for i := range f {
			reversed[len(f)-1-i] = f[i]
		}
		replayed.Update("cam1", reversed, 400)
		replayed.Update("cam1", f, 400)
	}

	assert.Equal(t, 3, forward.Count("cam1"))
	assert.Equal(t, forward.Count("cam1"), replayed.Count("cam1"))
}

func TestTrackCounter_SkipsNonFiniteBoxes(t *testing.T) {
	c, _ := newTestCounter(t, PositionPolicy)

	count := c.Update("cam1", []model.Detection{
		{TrackID: 1, BBox: model.BBox{X1: 0, Y1: math.NaN(), X2: 10, Y2: 900}},
		{TrackID: 2, BBox: model.BBox{X1: math.Inf(1), Y1: 500, X2: 10, Y2: 600}},
		det(3, 500),
	}, 400)

	assert.Equal(t, 1, count)
	assert.False(t, c.State("cam1").Counted(1))
	assert.False(t, c.State("cam1").Counted(2))
}

func TestTrackCounter_UnknownSourceAutoCreates(t *testing.T) {
	c, _ := newTestCounter(t, PositionPolicy)

	assert.Equal(t, 0, c.Count("nowhere"))
	s := c.State("nowhere")
	require.NotNil(t, s)
	assert.Equal(t, "nowhere", s.SourceID)
	assert.Equal(t, testStart, s.WindowStart)
	assert.Equal(t, 0, s.Count())
}

func TestTrackCounter_SourcesAreIndependent(t *testing.T) {
	c, _ := newTestCounter(t, PositionPolicy)

	c.Update("cam1", []model.Detection{det(1, 420)}, 400)
	c.Update("cam2", []model.Detection{det(1, 300)}, 400)

	assert.Equal(t, 1, c.Count("cam1"))
	assert.Equal(t, 0, c.Count("cam2"))
}

func TestTrackCounter_ResetStartsNewWindow(t *testing.T) {
	c, clock := newTestCounter(t, PositionPolicy)

	c.Update("cam1", []model.Detection{det(1, 420), det(2, 430)}, 400)
	require.Equal(t, 2, c.Count("cam1"))

	clock.Advance(60 * time.Second)
	c.Reset("cam1")

	s := c.State("cam1")
	assert.Equal(t, 0, s.Count())
	assert.Empty(t, s.CountedIDs())
	assert.Equal(t, testStart.Add(60*time.Second), s.WindowStart)

	// A previously counted track is counted again in the new window.
	assert.Equal(t, 1, c.Update("cam1", []model.Detection{det(1, 440)}, 400))
}

func TestTrackCounter_DirectionPolicy(t *testing.T) {
	c, _ := newTestCounter(t, DirectionPolicy)

	// Track 1 first appears below the line: no crossing observed.
	assert.Equal(t, 0, c.Update("cam1", []model.Detection{det(1, 450)}, 400))
	assert.Equal(t, 0, c.Update("cam1", []model.Detection{det(1, 470)}, 400))

	// Track 2 walks down across the line.
	assert.Equal(t, 0, c.Update("cam1", []model.Detection{det(2, 380)}, 400))
	assert.Equal(t, 1, c.Update("cam1", []model.Detection{det(2, 410)}, 400))

	// Track 3 walks up; then back down counts once.
	c.Update("cam1", []model.Detection{det(3, 420)}, 400)
	c.Update("cam1", []model.Detection{det(3, 390)}, 400)
	assert.Equal(t, 2, c.Update("cam1", []model.Detection{det(3, 405)}, 400))
	assert.Equal(t, 2, c.Update("cam1", []model.Detection{det(3, 395)}, 400))
	assert.Equal(t, 2, c.Update("cam1", []model.Detection{det(3, 405)}, 400))
}

func TestTrackCounter_PruneForgetsStalePositions(t *testing.T) {
	c, clock := newTestCounter(t, DirectionPolicy)

	c.Update("cam1", []model.Detection{det(1, 390)}, 400)
	clock.Advance(2 * time.Minute)
	c.Prune("cam1", clock.Now().Add(-time.Minute))

	// Without the stale position the jump below the line is not a crossing.
	assert.Equal(t, 0, c.Update("cam1", []model.Detection{det(1, 410)}, 400))

	// Pruning an unknown source is a no-op.
	c.Prune("missing", clock.Now())
}

func TestTrackCounter_Remove(t *testing.T) {
	c, _ := newTestCounter(t, PositionPolicy)

	c.Update("cam1", []model.Detection{det(1, 420)}, 400)
	c.Remove("cam1")

	assert.Equal(t, 0, c.Count("cam1"))
}

package counting

import (
	"slices"
	"time"

	"github.com/coder/quartz"

	"crowdcounter/internal/model"
)

type lastSeen struct {
	centerY float64
	at      time.Time
}

// CounterState is the counting state of one source within one window.
type CounterState struct {
	SourceID    string
	WindowStart time.Time

	counted map[int64]struct{}
	last    map[int64]lastSeen
}

func newCounterState(sourceID string, now time.Time) *CounterState {
	return &CounterState{
		SourceID:    sourceID,
		WindowStart: now,
		counted:     make(map[int64]struct{}),
		last:        make(map[int64]lastSeen),
	}
}

// Count returns the number of distinct tracks counted in the window.
func (s *CounterState) Count() int {
	return len(s.counted)
}

// Counted reports whether trackID was already counted in the window.
func (s *CounterState) Counted(trackID int64) bool {
	_, ok := s.counted[trackID]
	return ok
}

// CountedIDs returns the counted track ids in ascending order.
func (s *CounterState) CountedIDs() []int64 {
	ids := make([]int64, 0, len(s.counted))
	for id := range s.counted {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// TrackCounter holds one CounterState per source. It is not safe for
// concurrent use: each IngestLoop owns its own TrackCounter.
type TrackCounter struct {
	clock  quartz.Clock
	policy Policy
	states map[string]*CounterState
}

// NewTrackCounter creates an empty counter.
func NewTrackCounter(clock quartz.Clock, policy Policy) *TrackCounter {
	return &TrackCounter{
		clock:  clock,
		policy: policy,
		states: make(map[string]*CounterState),
	}
}

// State returns the state for sourceID, creating a fresh window if the
// source is not known yet.
func (c *TrackCounter) State(sourceID string) *CounterState {
	s, ok := c.states[sourceID]
	if !ok {
		s = newCounterState(sourceID, c.clock.Now("counter", "start"))
		c.states[sourceID] = s
	}
	return s
}

// Update applies one detection batch and returns the source's window count.
// Detections with non-finite coordinates are skipped. Observing a track that
// is already counted is a no-op.
func (c *TrackCounter) Update(sourceID string, detections []model.Detection, boundaryY float64) int {
	s := c.State(sourceID)
	now := c.clock.Now("counter", "update")

	for _, d := range detections {
		if !d.BBox.Finite() {
			continue
		}
		centerY := d.BBox.CenterY()
		prev, hasPrev := s.last[d.TrackID]
		s.last[d.TrackID] = lastSeen{centerY: centerY, at: now}

		if s.Counted(d.TrackID) {
			continue
		}
		if HasCrossed(c.policy, prev.centerY, hasPrev, centerY, boundaryY) {
			s.counted[d.TrackID] = struct{}{}
		}
	}
	return len(s.counted)
}

// Count returns the current window count without creating state.
func (c *TrackCounter) Count(sourceID string) int {
	if s, ok := c.states[sourceID]; ok {
		return s.Count()
	}
	return 0
}

// Reset starts a new window for sourceID at the current time. Previously
// counted tracks may be counted again afterwards.
func (c *TrackCounter) Reset(sourceID string) {
	s := c.State(sourceID)
	s.counted = make(map[int64]struct{})
	s.WindowStart = c.clock.Now("counter", "reset")
}

// Prune forgets last positions of tracks not observed since cutoff. Counted
// ids are kept.
func (c *TrackCounter) Prune(sourceID string, cutoff time.Time) {
	s, ok := c.states[sourceID]
	if !ok {
		return
	}
	for id, seen := range s.last {
		if seen.at.Before(cutoff) {
			delete(s.last, id)
		}
	}
}

// Remove drops all state for a source that is no longer monitored.
func (c *TrackCounter) Remove(sourceID string) {
	delete(c.states, sourceID)
}

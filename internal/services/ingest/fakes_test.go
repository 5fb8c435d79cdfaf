package ingest

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crowdcounter/internal/config"
	"crowdcounter/internal/model"
)

const waitTimeout = 5 * time.Second

// fakeSource yields the frames sent on its channel. Closing the channel
// ends the stream.
type fakeSource struct {
	frames chan Frame
	closed atomic.Bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan Frame)}
}

func (s *fakeSource) NextFrame(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return Frame{}, ErrEndOfStream
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeOpener hands out its sources in order and fails once they run out.
// An endless opener makes a new idle source for every call instead.
type fakeOpener struct {
	mu      sync.Mutex
	sources []*fakeSource
	endless bool
	opened  []*fakeSource
	opens   int
}

func (o *fakeOpener) Open(ctx context.Context, _ config.Source) (FrameSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opens++
	if o.endless {
		src := newFakeSource()
		o.opened = append(o.opened, src)
		return src, nil
	}
	if len(o.sources) == 0 {
		return nil, errors.New("no route to camera")
	}
	src := o.sources[0]
	o.sources = o.sources[1:]
	o.opened = append(o.opened, src)
	return src, nil
}

func (o *fakeOpener) First() *fakeSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened[0]
}

func (o *fakeOpener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// fakeTracker reads detections straight from the frame payload. An error
// payload fails the frame.
type fakeTracker struct{}

func (fakeTracker) Track(_ context.Context, frame Frame) ([]model.Detection, error) {
	switch p := frame.Payload.(type) {
	case []model.Detection:
		return p, nil
	case error:
		return nil, p
	}
	return nil, nil
}

type appendCall struct {
	count int64
	ts    time.Time
	err   error
}

// recordingStore reports every append attempt on calls. The first failures
// attempts fail.
type recordingStore struct {
	mu       sync.Mutex
	failures int
	records  []model.AggregateRecord
	calls    chan appendCall
}

func newRecordingStore() *recordingStore {
	return &recordingStore{calls: make(chan appendCall, 100)}
}

func (s *recordingStore) Append(_ context.Context, sourceID string, count int64, ts time.Time) (model.AggregateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		err := errors.New("database is locked")
		s.calls <- appendCall{count: count, ts: ts, err: err}
		return model.AggregateRecord{}, err
	}

	rec := model.AggregateRecord{
		ID:         int64(len(s.records) + 1),
		SourceID:   sourceID,
		TotalCount: count,
		Timestamp:  ts,
	}
	s.records = append(s.records, rec)
	s.calls <- appendCall{count: count, ts: ts}
	return rec, nil
}

func (s *recordingStore) Counts() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make([]int64, 0, len(s.records))
	for _, r := range s.records {
		counts = append(counts, r.TotalCount)
	}
	return counts
}

func (s *recordingStore) next(t *testing.T) appendCall {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for append")
		return appendCall{}
	}
}

func (s *recordingStore) requireNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-s.calls:
		t.Fatalf("unexpected append of %d", c.count)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeNotifier struct {
	updates chan model.CountUpdate
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{updates: make(chan model.CountUpdate, 100)}
}

func (n *fakeNotifier) Publish(update model.CountUpdate) {
	n.updates <- update
}

// waitLive waits for an in-memory (not persisted) update carrying count.
func (n *fakeNotifier) waitLive(t *testing.T, count int) model.CountUpdate {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case u := <-n.updates:
			if !u.Persisted && u.Count == count {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for live count %d", count)
			return model.CountUpdate{}
		}
	}
}

type hookCall struct {
	sourceID string
	seq      int64
	count    int
}

type fakeHook struct {
	calls chan hookCall
}

func (h *fakeHook) OnFrame(sourceID string, frame Frame, _ []model.Detection, count int) {
	h.calls <- hookCall{sourceID: sourceID, seq: frame.Seq, count: count}
}

// det builds a detection whose bbox is centered vertically on centerY.
func det(id int64, centerY float64) model.Detection {
	return model.Detection{
		TrackID: id,
		BBox:    model.BBox{X1: 10, Y1: centerY - 40, X2: 60, Y2: centerY + 40},
	}
}

// send pushes one frame into src and fails the test if nobody reads it.
func send(t *testing.T, src *fakeSource, seq int64, payload any, released *atomic.Int64) {
	t.Helper()
	frame := Frame{Seq: seq, Payload: payload}
	if released != nil {
		frame.Release = func() { released.Add(1) }
	}
	select {
	case src.frames <- frame:
	case <-time.After(waitTimeout):
		require.FailNow(t, "frame was not consumed", "seq %d", seq)
	}
}

func nan() float64 {
	return math.NaN()
}

package ingest

import (
	"context"
	"errors"
	"sync"
)

// ErrSourceClosed is returned by NextFrame after Close.
var ErrSourceClosed = errors.New("source closed")

type readResult struct {
	frame Frame
	err   error
}

// AsyncSource turns a blocking read into a FrameSource. Each read runs in
// its own goroutine so NextFrame can give up when ctx is done, and Close
// never waits for a read that hangs: the release happens when the last
// read in flight returns.
type AsyncSource struct {
	read    func() (Frame, error)
	release func() error

	readMu sync.Mutex // one read at a time

	mu       sync.Mutex
	closed   bool
	inFlight int
}

// NewAsyncSource wraps read. release frees the underlying handle and is
// called exactly once, never while read is running.
func NewAsyncSource(read func() (Frame, error), release func() error) *AsyncSource {
	return &AsyncSource{read: read, release: release}
}

func (s *AsyncSource) NextFrame(ctx context.Context) (Frame, error) {
	if !s.begin() {
		return Frame{}, ErrSourceClosed
	}

	results := make(chan readResult, 1)
	go func() {
		frame, err := s.readOne()
		// A release error here has no caller left to report to.
		_ = s.end()
		results <- readResult{frame: frame, err: err}
	}()

	select {
	case r := <-results:
		return r.frame, r.err
	case <-ctx.Done():
		// The read keeps running; drop its frame when it lands.
		go func() {
			if r := <-results; r.err == nil {
				r.frame.Close()
			}
		}()
		return Frame{}, ctx.Err()
	}
}

func (s *AsyncSource) readOne() (Frame, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Frame{}, ErrSourceClosed
	}
	return s.read()
}

// Close marks the source closed and returns at once. The handle is released
// now if no read is running, otherwise by the last read when it returns.
func (s *AsyncSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	idle := s.inFlight == 0
	s.mu.Unlock()

	if idle {
		return s.release()
	}
	return nil
}

func (s *AsyncSource) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inFlight++
	return true
}

func (s *AsyncSource) end() error {
	s.mu.Lock()
	s.inFlight--
	last := s.closed && s.inFlight == 0
	s.mu.Unlock()

	if last {
		return s.release()
	}
	return nil
}

package model

import "time"

// SourceState is the lifecycle state of one monitored source.
type SourceState int

const (
	StateConnecting SourceState = iota
	StateStreaming
	StateStalled
	StateStopped
)

func (s SourceState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStalled:
		return "stalled"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON payloads.
func (s SourceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SourceStatus is a point-in-time view of one IngestLoop.
type SourceStatus struct {
	SourceID  string      `json:"source_id"`
	State     SourceState `json:"state"`
	Count     int         `json:"count"`
	LastFlush time.Time   `json:"last_flush"`
	LastError string      `json:"last_error,omitempty"`
}

package model

import "time"

// AggregateRecord is one persisted window count for a source.
type AggregateRecord struct {
	ID         int64     `json:"id"`
	SourceID   string    `json:"source_id"`
	TotalCount int64     `json:"total_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// CountUpdate is pushed to live viewers whenever a source's count changes
// or is persisted.
type CountUpdate struct {
	Source    string    `json:"source"`
	Count     int       `json:"count"`
	Persisted bool      `json:"persisted"`
	Timestamp time.Time `json:"timestamp"`
}

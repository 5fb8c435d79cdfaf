package repository

import (
	"context"
	"errors"
	"time"

	"crowdcounter/internal/model"
)

var (
	// ErrNegativeCount is returned when a record would store a negative total.
	ErrNegativeCount = errors.New("total count must not be negative")
	// ErrEmptySource is returned when a record has no source id.
	ErrEmptySource = errors.New("source id must not be empty")
)

// AggregateRepository defines the durable log of windowed counts.
type AggregateRepository interface {
	// Create operations
	Append(ctx context.Context, sourceID string, count int64, ts time.Time) (model.AggregateRecord, error)
	AppendBatch(ctx context.Context, records []model.AggregateRecord) error

	// Read operations
	LatestPerSource(ctx context.Context) (map[string]int64, error)
	History(ctx context.Context, sourceID string, limit int) ([]model.AggregateRecord, error)
}

// ValidateRecord checks the invariants every stored record must satisfy.
func ValidateRecord(sourceID string, count int64) error {
	if sourceID == "" {
		return ErrEmptySource
	}
	if count < 0 {
		return ErrNegativeCount
	}
	return nil
}

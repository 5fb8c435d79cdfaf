package query

import (
	"context"
	"fmt"

	"crowdcounter/internal/model"
	"crowdcounter/internal/repository"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// Service is the read-only view over the aggregate store. It holds no state
// of its own, so it is safe for any number of concurrent callers.
type Service struct {
	repo repository.AggregateRepository
}

func NewService(repo repository.AggregateRepository) *Service {
	return &Service{repo: repo}
}

// GetLatest returns the latest persisted count of every source that has at
// least one record. On failure the returned map is empty, never nil, and the
// error says why.
func (s *Service) GetLatest(ctx context.Context) (map[string]int64, error) {
	latest, err := s.repo.LatestPerSource(ctx)
	if err != nil {
		return map[string]int64{}, fmt.Errorf("failed to read latest counts: %w", err)
	}
	if latest == nil {
		latest = map[string]int64{}
	}
	return latest, nil
}

// History returns up to limit records of one source, newest first. The limit
// is clamped to [1, MaxHistoryLimit]; zero or negative selects the default.
func (s *Service) History(ctx context.Context, sourceID string, limit int) ([]model.AggregateRecord, error) {
	if sourceID == "" {
		return nil, repository.ErrEmptySource
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	records, err := s.repo.History(ctx, sourceID, limit)
	if err != nil {
		return []model.AggregateRecord{}, fmt.Errorf("failed to read history for %q: %w", sourceID, err)
	}
	if records == nil {
		records = []model.AggregateRecord{}
	}
	return records, nil
}

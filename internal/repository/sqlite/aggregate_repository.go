package sqlite

import (
	"context"
	"fmt"
	"time"

	"crowdcounter/internal/model"
	"crowdcounter/internal/repository"
)

// AggregateRepository implements repository.AggregateRepository for SQLite.
type AggregateRepository struct {
	db *DB
}

var _ repository.AggregateRepository = (*AggregateRepository)(nil)

// NewAggregateRepository creates a new SQLite aggregate repository.
func NewAggregateRepository(db *DB) *AggregateRepository {
	return &AggregateRepository{db: db}
}

// Append stores one record in its own transaction, so readers see either
// the whole row or nothing. Ids are assigned by SQLite and grow
// monotonically in commit order.
func (r *AggregateRepository) Append(ctx context.Context, sourceID string, count int64, ts time.Time) (model.AggregateRecord, error) {
	if err := repository.ValidateRecord(sourceID, count); err != nil {
		return model.AggregateRecord{}, err
	}
	ts = ts.UTC()

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return model.AggregateRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO aggregate_records (source_id, total_count, timestamp)
		VALUES (?, ?, ?)
	`, sourceID, count, ts)
	if err != nil {
		return model.AggregateRecord{}, fmt.Errorf("failed to insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.AggregateRecord{}, fmt.Errorf("failed to read record id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.AggregateRecord{}, fmt.Errorf("failed to commit record: %w", err)
	}

	return model.AggregateRecord{
		ID:         id,
		SourceID:   sourceID,
		TotalCount: count,
		Timestamp:  ts,
	}, nil
}

// AppendBatch stores several records in one transaction, in slice order.
func (r *AggregateRepository) AppendBatch(ctx context.Context, records []model.AggregateRecord) error {
	for _, rec := range records {
		if err := repository.ValidateRecord(rec.SourceID, rec.TotalCount); err != nil {
			return fmt.Errorf("invalid record for %q: %w", rec.SourceID, err)
		}
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO aggregate_records (source_id, total_count, timestamp)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.SourceID, rec.TotalCount, rec.Timestamp.UTC()); err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	return tx.Commit()
}

// LatestPerSource returns, for every source with at least one record, the
// count of its record with the highest id. Timestamps play no part.
func (r *AggregateRepository) LatestPerSource(ctx context.Context) (map[string]int64, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT source_id, total_count FROM aggregate_records
		WHERE id IN (SELECT MAX(id) FROM aggregate_records GROUP BY source_id)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest records: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]int64)
	for rows.Next() {
		var (
			source string
			count  int64
		)
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan latest record: %w", err)
		}
		latest[source] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read latest records: %w", err)
	}

	return latest, nil
}

// History returns up to limit records of one source, newest first.
func (r *AggregateRepository) History(ctx context.Context, sourceID string, limit int) ([]model.AggregateRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, source_id, total_count, timestamp FROM aggregate_records
		WHERE source_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := []model.AggregateRecord{}
	for rows.Next() {
		var rec model.AggregateRecord
		if err := rows.Scan(&rec.ID, &rec.SourceID, &rec.TotalCount, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	return records, nil
}

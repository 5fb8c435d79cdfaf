package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// legacyTimeFormats are the layouts older deployments wrote into
// realtime_crowd.timestamp, tried in order.
var legacyTimeFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ImportLegacy copies every row of the legacy realtime_crowd table found in
// the database at legacyPath into aggregate_records, preserving row order.
// All rows are written in one transaction: either every row is imported or
// none is. It returns the number of imported rows.
func (r *AggregateRepository) ImportLegacy(ctx context.Context, legacyPath string) (int, error) {
	legacy, err := sql.Open("sqlite3", "file:"+legacyPath+"?mode=ro")
	if err != nil {
		return 0, fmt.Errorf("failed to open legacy database: %w", err)
	}
	defer legacy.Close()

	// Text timestamps are naive local times. Read them as text so the driver
	// does not parse them as UTC.
	rows, err := legacy.QueryContext(ctx, `
		SELECT road_name, total_count,
			CASE typeof(timestamp) WHEN 'text' THEN CAST(timestamp AS TEXT) ELSE timestamp END
		FROM realtime_crowd ORDER BY id
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to query legacy records: %w", err)
	}
	defer rows.Close()

	type legacyRow struct {
		source string
		count  int64
		ts     time.Time
	}
	var pending []legacyRow
	for rows.Next() {
		var (
			row legacyRow
			raw any
		)
		if err := rows.Scan(&row.source, &row.count, &raw); err != nil {
			return 0, fmt.Errorf("failed to scan legacy record: %w", err)
		}
		if row.ts, err = parseLegacyTime(raw); err != nil {
			return 0, fmt.Errorf("legacy record for %q: %w", row.source, err)
		}
		pending = append(pending, row)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read legacy records: %w", err)
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO aggregate_records (source_id, total_count, timestamp)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range pending {
		if _, err := stmt.ExecContext(ctx, row.source, row.count, row.ts.UTC()); err != nil {
			return 0, fmt.Errorf("failed to import record for %q: %w", row.source, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit import: %w", err)
	}
	return len(pending), nil
}

// parseLegacyTime accepts whatever the driver hands back for a DATETIME
// column: a parsed time, text, or raw bytes.
func parseLegacyTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case []byte:
		return parseLegacyTime(string(v))
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range legacyTimeFormats {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
	case int64:
		return time.Unix(v, 0), nil
	case nil:
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
}

// Stats returns the number of stored records per source.
func (r *AggregateRepository) Stats(ctx context.Context) (map[string]int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT source_id, COUNT(*) FROM aggregate_records GROUP BY source_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	perSource := make(map[string]int)
	for rows.Next() {
		var (
			source string
			count  int
		)
		if err := rows.Scan(&source, &count); err != nil {
			return nil, err
		}
		perSource[source] = count
	}
	return perSource, rows.Err()
}

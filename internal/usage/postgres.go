package usage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// PostgresStore keeps usage rows in the usage_records table, one row per
// (user_id, day). Increments are single upserts so concurrent requests
// cannot lose updates.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) TodayUsage(ctx context.Context, userID string) (Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec,
		`SELECT user_id, day::text, analysis_count, scan_count FROM usage_records WHERE user_id=$1 AND day=CURRENT_DATE`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		// Lazily created: no row yet today means zero usage.
		return Record{UserID: userID}, nil
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *PostgresStore) IncrementAnalysis(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`INSERT INTO usage_records(user_id, day, analysis_count, scan_count) VALUES ($1, CURRENT_DATE, 1, 0)
		 ON CONFLICT (user_id, day) DO UPDATE SET analysis_count = usage_records.analysis_count + 1
		 RETURNING analysis_count`, userID)
	return n, err
}

func (s *PostgresStore) IncrementScan(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`INSERT INTO usage_records(user_id, day, analysis_count, scan_count) VALUES ($1, CURRENT_DATE, 0, 1)
		 ON CONFLICT (user_id, day) DO UPDATE SET scan_count = usage_records.scan_count + 1
		 RETURNING scan_count`, userID)
	return n, err
}

// PurgeBefore deletes usage rows older than the retention window. Run by the
// daily cron job; the per-day keying means correctness never depends on it.
func (s *PostgresStore) PurgeBefore(ctx context.Context, retentionDays int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_records WHERE day < CURRENT_DATE - $1::int`, retentionDays)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

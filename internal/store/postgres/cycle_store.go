package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/britej3/Freq-trader/internal/domain"
)

// CycleStore implements domain.CycleStore.
type CycleStore struct {
	pool *pgxpool.Pool
}

// NewCycleStore creates a CycleStore backed by pool.
func NewCycleStore(pool *pgxpool.Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

// SaveCycle inserts a report. Saving the same id twice is a no-op.
func (s *CycleStore) SaveCycle(ctx context.Context, rec domain.CycleRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cycle_reports (id, cycle, started_at, completed_at, opportunities, executed, failed, blocked, halted, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, int64(rec.Cycle), rec.StartedAt, rec.CompletedAt,
		rec.Opportunities, rec.Executed, rec.Failed, rec.Blocked, rec.Halted, rec.Report,
	)
	if err != nil {
		return fmt.Errorf("postgres: save cycle %s: %w", rec.ID, err)
	}
	return nil
}

// ListCycles returns reports newest first.
func (s *CycleStore) ListCycles(ctx context.Context, opts domain.ListOpts) ([]domain.CycleRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, cycle, started_at, completed_at, opportunities, executed, failed, blocked, halted, report
		FROM cycle_reports
		WHERE ($1::timestamptz IS NULL OR started_at >= $1)
		  AND ($2::timestamptz IS NULL OR started_at <= $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4`,
		opts.Since, opts.Until, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cycles: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CycleRecord, error) {
		var (
			r     domain.CycleRecord
			cycle int64
		)
		err := row.Scan(&r.ID, &cycle, &r.StartedAt, &r.CompletedAt, &r.Opportunities,
			&r.Executed, &r.Failed, &r.Blocked, &r.Halted, &r.Report)
		r.Cycle = uint64(cycle)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list cycles: %w", err)
	}
	return out, nil
}

var _ domain.CycleStore = (*CycleStore)(nil)

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/britej3/Freq-trader/internal/domain"
)

const (
	// uniqueViolation is the SQLSTATE for unique_violation.
	uniqueViolation = "23505"
	// batchOutcomeKey is the unique constraint on ledger_batches.outcome_id
	// (the name Postgres gives the inline UNIQUE in 001_ledger.sql).
	batchOutcomeKey = "ledger_batches_outcome_id_key"
)

// LedgerJournal implements domain.LedgerJournal. Each batch is written in a
// single transaction; Load replays batches in the order they were appended.
type LedgerJournal struct {
	pool *pgxpool.Pool
}

// NewLedgerJournal creates a LedgerJournal backed by pool.
func NewLedgerJournal(pool *pgxpool.Pool) *LedgerJournal {
	return &LedgerJournal{pool: pool}
}

// Append stores the batch, its entries and, if present, its trade.
func (j *LedgerJournal) Append(ctx context.Context, batch domain.LedgerBatch) error {
	tradeJSON, posJSON, err := encodeBatch(batch)
	if err != nil {
		return fmt.Errorf("postgres: append batch %s: %w", batch.OutcomeID, err)
	}

	err = pgx.BeginFunc(ctx, j.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_batches (outcome_id, trade, positions) VALUES ($1, $2, $3)`,
			batch.OutcomeID, tradeJSON, posJSON,
		); err != nil {
			return err
		}

		b := &pgx.Batch{}
		for _, e := range batch.Entries {
			b.Queue(`
				INSERT INTO ledger_entries (seq, outcome_id, trade_id, order_token, venue, asset, delta, balance_after, reason, at)
				VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10)`,
				int64(e.Seq), batch.OutcomeID, e.TradeID, e.OrderToken, e.Venue, e.Asset,
				e.Delta, e.BalanceAfter, string(e.Reason), e.At,
			)
		}
		if t := batch.Trade; t != nil {
			b.Queue(`
				INSERT INTO trades (id, outcome_id, opportunity_id, pair, kind, notional, gross_pnl, fees, realized_pnl, recorded_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				t.ID, batch.OutcomeID, t.OpportunityID, t.Pair.String(), string(t.Kind),
				t.Notional, t.GrossPnL, t.Fees, t.RealizedPnL, t.RecordedAt,
			)
		}
		if b.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		if isDuplicateBatch(err) {
			return fmt.Errorf("postgres: append batch %s: %w", batch.OutcomeID, domain.ErrAlreadyApplied)
		}
		return fmt.Errorf("postgres: append batch %s: %w", batch.OutcomeID, err)
	}
	return nil
}

// isDuplicateBatch reports whether err is the outcome id collision on
// ledger_batches. Other unique violations (entry seq, reused order token)
// are integrity failures and must not look like a replay.
func isDuplicateBatch(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == batchOutcomeKey
}

// Load returns every batch in append order.
func (j *LedgerJournal) Load(ctx context.Context) ([]domain.LedgerBatch, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT outcome_id, trade, positions FROM ledger_batches ORDER BY batch_seq`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load batches: %w", err)
	}
	var batches []domain.LedgerBatch
	for rows.Next() {
		var (
			id              string
			tradeJSON, posJ []byte
		)
		if err := rows.Scan(&id, &tradeJSON, &posJ); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan batch: %w", err)
		}
		b, err := decodeBatch(id, tradeJSON, posJ)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: load batch %s: %w", id, err)
		}
		batches = append(batches, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load batches rows: %w", err)
	}

	rows, err = j.pool.Query(ctx, `
		SELECT seq, outcome_id, COALESCE(trade_id, ''), COALESCE(order_token, ''), venue, asset, delta, balance_after, reason, at
		FROM ledger_entries ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string][]domain.LedgerEntry)
	for rows.Next() {
		var (
			e         domain.LedgerEntry
			seq       int64
			outcomeID string
			reason    string
		)
		if err := rows.Scan(&seq, &outcomeID, &e.TradeID, &e.OrderToken, &e.Venue, &e.Asset,
			&e.Delta, &e.BalanceAfter, &reason, &e.At); err != nil {
			return nil, fmt.Errorf("postgres: scan entry: %w", err)
		}
		e.Seq = uint64(seq)
		e.Reason = domain.EntryReason(reason)
		e.At = e.At.UTC()
		entries[outcomeID] = append(entries[outcomeID], e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load entries rows: %w", err)
	}

	return attachEntries(batches, entries)
}

func encodeBatch(b domain.LedgerBatch) (tradeJSON, posJSON []byte, err error) {
	if b.Trade != nil {
		if tradeJSON, err = json.Marshal(b.Trade); err != nil {
			return nil, nil, fmt.Errorf("marshal trade: %w", err)
		}
	}
	pos := b.Positions
	if pos == nil {
		pos = []domain.Position{}
	}
	if posJSON, err = json.Marshal(pos); err != nil {
		return nil, nil, fmt.Errorf("marshal positions: %w", err)
	}
	return tradeJSON, posJSON, nil
}

func decodeBatch(id string, tradeJSON, posJSON []byte) (domain.LedgerBatch, error) {
	b := domain.LedgerBatch{OutcomeID: id}
	if len(tradeJSON) > 0 && string(tradeJSON) != "null" {
		var t domain.Trade
		if err := json.Unmarshal(tradeJSON, &t); err != nil {
			return b, fmt.Errorf("unmarshal trade: %w", err)
		}
		b.Trade = &t
	}
	if len(posJSON) > 0 {
		if err := json.Unmarshal(posJSON, &b.Positions); err != nil {
			return b, fmt.Errorf("unmarshal positions: %w", err)
		}
	}
	return b, nil
}

// attachEntries hands each batch its entries and fails on entries that belong
// to no batch.
func attachEntries(batches []domain.LedgerBatch, entries map[string][]domain.LedgerEntry) ([]domain.LedgerBatch, error) {
	for i := range batches {
		id := batches[i].OutcomeID
		batches[i].Entries = entries[id]
		delete(entries, id)
	}
	for id := range entries {
		return nil, fmt.Errorf("postgres: entries for unknown batch %s", id)
	}
	return batches, nil
}

var _ domain.LedgerJournal = (*LedgerJournal)(nil)

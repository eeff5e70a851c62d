package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrLockHeld            = errors.New("lock already held")
	ErrOrderRejected       = errors.New("order rejected by venue")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTokenReused         = errors.New("idempotency token already issued")
	ErrAlreadyApplied      = errors.New("outcome already applied")
	ErrDuplicateDecision   = errors.New("decision already executed")
	ErrTradingHalted       = errors.New("trading halted")
	ErrUnknownVenue        = errors.New("unknown venue")
)

// StaleDataError reports a snapshot whose sequence is not newer than the one
// already held for the same venue and pair. It is informational: the store
// keeps the newer snapshot and the feed carries on.
type StaleDataError struct {
	Venue    string
	Pair     Pair
	Sequence uint64
	Current  uint64
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("stale snapshot %s %s: sequence %d <= current %d", e.Venue, e.Pair, e.Sequence, e.Current)
}

// RiskRejected is returned when the risk engine declines an opportunity.
type RiskRejected struct {
	Reason RejectReason
	Detail string
}

func (e *RiskRejected) Error() string {
	if e.Detail == "" {
		return "risk rejected: " + string(e.Reason)
	}
	return fmt.Sprintf("risk rejected: %s: %s", e.Reason, e.Detail)
}

// PartialExecutionError carries the legs left unhedged after a two-leg trade
// filled on one side only (or unevenly).
type PartialExecutionError struct {
	OutcomeID string
	Unhedged  []UnhedgedPosition
}

func (e *PartialExecutionError) Error() string {
	return fmt.Sprintf("partial execution %s: %d unhedged position(s)", e.OutcomeID, len(e.Unhedged))
}

// LedgerIntegrityError means the ledger refused an outcome because applying
// it would break an invariant. Trading must stop when this surfaces.
type LedgerIntegrityError struct {
	OutcomeID string
	Reason    string
	Err       error
}

func (e *LedgerIntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger integrity (outcome %s): %s: %v", e.OutcomeID, e.Reason, e.Err)
	}
	return fmt.Sprintf("ledger integrity (outcome %s): %s", e.OutcomeID, e.Reason)
}

func (e *LedgerIntegrityError) Unwrap() error { return e.Err }

// TransportError marks a venue call whose result is unknown (timeout, dropped
// connection, 5xx). Callers may retry it with the same idempotency token.
type TransportError struct {
	Venue string
	Op    string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: transport: %v", e.Venue, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

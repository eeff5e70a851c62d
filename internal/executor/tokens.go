package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/britej3/Freq-trader/internal/domain"
)

// TokenIssuer hands out idempotency tokens and remembers every token and
// decision it has seen within its TTL. A token is never handed out twice, and
// a decision is only executed once. It is safe for concurrent use.
type TokenIssuer struct {
	mu        sync.Mutex
	tokens    map[string]time.Time
	decisions map[string]time.Time
	ttl       time.Duration
	newID     func() string
}

// NewTokenIssuer creates a TokenIssuer that forgets entries older than ttl on
// Cleanup.
func NewTokenIssuer(ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		tokens:    make(map[string]time.Time),
		decisions: make(map[string]time.Time),
		ttl:       ttl,
		newID:     uuid.NewString,
	}
}

// Issue returns a fresh token for one logical order.
func (t *TokenIssuer) Issue() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		tok := t.newID()
		if _, seen := t.tokens[tok]; !seen {
			t.tokens[tok] = time.Now()
			return tok
		}
	}
}

// Reserve registers a caller-supplied token, failing if it was already used.
func (t *TokenIssuer) Reserve(tok string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.tokens[tok]; seen {
		return domain.ErrTokenReused
	}
	t.tokens[tok] = time.Now()
	return nil
}

// ClaimDecision records decisionID and reports whether it was new.
func (t *TokenIssuer) ClaimDecision(decisionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.decisions[decisionID]; seen {
		return false
	}
	t.decisions[decisionID] = time.Now()
	return true
}

// Cleanup removes entries older than the TTL. Call it periodically to bound
// memory.
func (t *TokenIssuer) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for id, ts := range t.tokens {
		if now.Sub(ts) >= t.ttl {
			delete(t.tokens, id)
		}
	}
	for id, ts := range t.decisions {
		if now.Sub(ts) >= t.ttl {
			delete(t.decisions, id)
		}
	}
}

// Run calls Cleanup every interval until ctx is done. A non-positive
// interval uses a quarter of the TTL, at least once a second.
func (t *TokenIssuer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = max(t.ttl/4, time.Second)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Cleanup()
		}
	}
}

func (t *TokenIssuer) size() (tokens, decisions int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tokens), len(t.decisions)
}

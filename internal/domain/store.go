package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerJournal durably records ledger batches. Append must be atomic: either
// the whole batch is stored or none of it is.
type LedgerJournal interface {
	Append(ctx context.Context, batch LedgerBatch) error
	Load(ctx context.Context) ([]LedgerBatch, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// CycleRecord is a persisted engine cycle report. Report holds the full
// report as JSON.
type CycleRecord struct {
	ID            string
	Cycle         uint64
	StartedAt     time.Time
	CompletedAt   time.Time
	Opportunities int
	Executed      int
	Failed        int
	Blocked       string
	Halted        bool
	Report        []byte
}

// CycleStore keeps the history of engine cycles.
type CycleStore interface {
	SaveCycle(ctx context.Context, rec CycleRecord) error
	ListCycles(ctx context.Context, opts ListOpts) ([]CycleRecord, error)
}

// SnapshotCache mirrors the latest market snapshots for out-of-process
// readers such as dashboards.
type SnapshotCache interface {
	Mirror(ctx context.Context, snap MarketSnapshot) error
	Get(ctx context.Context, venue string, pair Pair) (MarketSnapshot, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Bus channels and streams.
const (
	ChannelCycles   = "arb:cycles"
	ChannelOutcomes = "arb:outcomes"
	ChannelAlerts   = "arb:alerts"
	StreamTrades    = "arb:trades"
)

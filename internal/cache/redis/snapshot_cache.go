package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/domain"
)

// mirrorLua writes the snapshot hash only when its sequence is newer than the
// stored one, so out-of-order mirrors from concurrent feeds never regress it.
// KEYS[1] hash key. ARGV[1] sequence, ARGV[2] ttl ms, ARGV[3..] field/value
// pairs. Returns 1 when written.
const mirrorLua = `
local cur = redis.call('HGET', KEYS[1], 'seq')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
if tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`

// SnapshotCache implements domain.SnapshotCache as one hash per venue and
// pair. The in-process market store stays authoritative; this copy serves
// dashboards and other instances.
type SnapshotCache struct {
	client   *Client
	mirrorSc *redis.Script
	ttl      time.Duration
}

// NewSnapshotCache creates a SnapshotCache. Entries expire after ttl when it
// is positive.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: c, mirrorSc: redis.NewScript(mirrorLua), ttl: ttl}
}

func (sc *SnapshotCache) key(venue string, pair domain.Pair) string {
	return sc.client.Key("snap", venue, pair.Symbol())
}

// Mirror stores snap unless a newer sequence is already cached.
func (sc *SnapshotCache) Mirror(ctx context.Context, snap domain.MarketSnapshot) error {
	fields := snapshotFields(snap)
	args := make([]any, 0, 2+len(fields))
	args = append(args, snap.Sequence, sc.ttl.Milliseconds())
	for _, f := range fields {
		args = append(args, f)
	}
	if err := sc.mirrorSc.Run(ctx, sc.client.Underlying(), []string{sc.key(snap.Venue, snap.Pair)}, args...).Err(); err != nil {
		return fmt.Errorf("redis: mirror snapshot %s %s: %w", snap.Venue, snap.Pair, err)
	}
	return nil
}

// Get returns the cached snapshot, or domain.ErrNotFound.
func (sc *SnapshotCache) Get(ctx context.Context, venue string, pair domain.Pair) (domain.MarketSnapshot, error) {
	vals, err := sc.client.Underlying().HGetAll(ctx, sc.key(venue, pair)).Result()
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s %s: %w", venue, pair, err)
	}
	if len(vals) == 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s %s: %w", venue, pair, domain.ErrNotFound)
	}
	snap, err := parseSnapshot(vals)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s %s: %w", venue, pair, err)
	}
	snap.Venue, snap.Pair = venue, pair
	return snap, nil
}

// snapshotFields flattens snap into hash field/value pairs.
func snapshotFields(s domain.MarketSnapshot) []string {
	return []string{
		"seq", strconv.FormatUint(s.Sequence, 10),
		"bid", s.BidPrice.String(),
		"bid_size", s.BidSize.String(),
		"ask", s.AskPrice.String(),
		"ask_size", s.AskSize.String(),
		"ts", strconv.FormatInt(s.Timestamp.UnixNano(), 10),
	}
}

func parseSnapshot(vals map[string]string) (domain.MarketSnapshot, error) {
	var (
		s   domain.MarketSnapshot
		err error
	)
	if s.Sequence, err = strconv.ParseUint(vals["seq"], 10, 64); err != nil {
		return s, fmt.Errorf("seq: %w", err)
	}
	for field, dst := range map[string]*decimal.Decimal{
		"bid": &s.BidPrice, "bid_size": &s.BidSize,
		"ask": &s.AskPrice, "ask_size": &s.AskSize,
	} {
		if *dst, err = decimal.NewFromString(vals[field]); err != nil {
			return s, fmt.Errorf("%s: %w", field, err)
		}
	}
	ns, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return s, fmt.Errorf("ts: %w", err)
	}
	s.Timestamp = time.Unix(0, ns).UTC()
	return s, nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)

package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/britej3/Freq-trader/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const (
	waitPollMin = 10 * time.Millisecond
	waitPollMax = 250 * time.Millisecond
)

// RateLimiter implements domain.RateLimiter with a sliding window kept in a
// sorted set and updated by one atomic script. Venue adapters share it so
// every bot instance draws from the same per-venue request budget.
type RateLimiter struct {
	client        *Client
	slidingWindow *redis.Script
	now           func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		client:        c,
		slidingWindow: redis.NewScript(slidingWindowLua),
		now:           time.Now,
	}
}

// Allow counts one request against key and reports whether it fits within
// limit requests per window. Refused requests are not counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	res, err := rl.slidingWindow.Run(ctx, rl.client.Underlying(),
		[]string{rl.client.Key("ratelimit", key)},
		rl.now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: rate limit %s: unexpected result length %d", key, len(res))
	}
	return res[0] == 1, nil
}

// Wait blocks until Allow admits a request or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	poll := waitPoll(limit, window)
	for {
		ok, err := rl.Allow(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-t.C:
		}
	}
}

// waitPoll spaces retries at roughly one request slot, clamped.
func waitPoll(limit int, window time.Duration) time.Duration {
	if limit <= 0 {
		return waitPollMin
	}
	p := window / time.Duration(limit)
	switch {
	case p < waitPollMin:
		return waitPollMin
	case p > waitPollMax:
		return waitPollMax
	}
	return p
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

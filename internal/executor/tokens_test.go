package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/britej3/Freq-trader/internal/domain"
)

func TestIssueNeverRepeats(t *testing.T) {
	ti := NewTokenIssuer(time.Hour)

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				tok := ti.Issue()
				mu.Lock()
				seen[tok] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 2000)
}

func TestIssueSkipsCollidingIDs(t *testing.T) {
	ti := NewTokenIssuer(time.Hour)
	ids := []string{"a", "a", "b"}
	ti.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	assert.Equal(t, "a", ti.Issue())
	assert.Equal(t, "b", ti.Issue())
}

func TestReserveRejectsReuse(t *testing.T) {
	ti := NewTokenIssuer(time.Hour)

	require.NoError(t, ti.Reserve("tok-1"))
	assert.ErrorIs(t, ti.Reserve("tok-1"), domain.ErrTokenReused)

	tok := ti.Issue()
	assert.ErrorIs(t, ti.Reserve(tok), domain.ErrTokenReused)
}

func TestClaimDecisionOnce(t *testing.T) {
	ti := NewTokenIssuer(time.Hour)

	assert.True(t, ti.ClaimDecision("dec:1"))
	assert.False(t, ti.ClaimDecision("dec:1"))
	assert.True(t, ti.ClaimDecision("dec:2"))
}

func TestCleanupForgetsExpired(t *testing.T) {
	ti := NewTokenIssuer(0)
	require.NoError(t, ti.Reserve("tok-1"))
	ti.ClaimDecision("dec:1")

	ti.Cleanup()

	assert.NoError(t, ti.Reserve("tok-1"))
	assert.True(t, ti.ClaimDecision("dec:1"))
}

func TestRunCleansUpUntilCancelled(t *testing.T) {
	ti := NewTokenIssuer(0)
	require.NoError(t, ti.Reserve("tok-1"))
	ti.ClaimDecision("dec:1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ti.Run(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		tokens, decisions := ti.size()
		return tokens == 0 && decisions == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}

func TestRetryDelayDoublesToCap(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Backoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 200*time.Millisecond, p.delay(2))
	assert.Equal(t, 300*time.Millisecond, p.delay(3))
	assert.Equal(t, 300*time.Millisecond, p.delay(10))
	assert.Equal(t, 1, RetryPolicy{}.attempts())
}

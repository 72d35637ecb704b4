package clients

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketAllow(t *testing.T) {
	tb := NewTokenBucketRateLimiter(10, 2)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	// Burst exhausted, refill takes ~100ms per token
	assert.False(t, tb.Allow())
}

func TestTokenBucketWaitRefills(t *testing.T) {
	tb := NewTokenBucketRateLimiter(100, 1)
	require.True(t, tb.Allow())

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestTokenBucketWaitCancellation(t *testing.T) {
	tb := NewTokenBucketRateLimiter(0.001, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

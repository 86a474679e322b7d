package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utlibraries/mediacat/core"
)

func TestServiceLimiterAllowsWithinRate(t *testing.T) {
	l := NewServiceLimiter("worldcat", 1000, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
}

func TestServiceLimiterDailyQuota(t *testing.T) {
	l := NewServiceLimiter("worldcat", 1000, 3, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.Equal(t, 3, l.Used())

	err := l.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, core.IsQuotaExceeded(err), "expected quota error, got %v", err)
}

func TestServiceLimiterThrottles(t *testing.T) {
	// 10 rps with burst 10: the 11th request must wait roughly 100ms
	l := NewServiceLimiter("alma", 10, 0, nil)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 11; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestServiceLimiterContextCancel(t *testing.T) {
	l := NewServiceLimiter("slow", 0.001, 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Drain the single burst token, then the next wait should time out
	_ = l.Acquire(context.Background())
	err := l.Acquire(ctx)
	assert.Error(t, err)
}

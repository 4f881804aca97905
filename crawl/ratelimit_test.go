package crawl_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhollis/fibrescan/crawl"
)

func TestRateLimiter_Wait(t *testing.T) {
	t.Parallel()

	t.Run("first navigation is immediate", func(t *testing.T) {
		t.Parallel()
		l := crawl.NewRateLimiter(time.Second)
		start := time.Now()
		require.NoError(t, l.Wait(context.Background(), "www.bt.com"))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("same host is spaced by the interval", func(t *testing.T) {
		t.Parallel()
		l := crawl.NewRateLimiter(200 * time.Millisecond)
		start := time.Now()
		require.NoError(t, l.Wait(context.Background(), "www.sky.com"))
		require.NoError(t, l.Wait(context.Background(), "www.sky.com"))
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	})

	t.Run("different hosts do not block each other", func(t *testing.T) {
		t.Parallel()
		l := crawl.NewRateLimiter(time.Second)
		start := time.Now()
		require.NoError(t, l.Wait(context.Background(), "www.bt.com"))
		require.NoError(t, l.Wait(context.Background(), "www.sky.com"))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("canceled context aborts the wait", func(t *testing.T) {
		t.Parallel()
		l := crawl.NewRateLimiter(time.Minute)
		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, l.Wait(ctx, "www.bt.com"))
		cancel()
		assert.Error(t, l.Wait(ctx, "www.bt.com"))
	})
}

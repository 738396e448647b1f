package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracelink-lab/pkg/logger"
)

func TestRateLimitKey_FixedWindows(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 10, 0, time.UTC)

	a := rateLimitKey("ip:1.2.3.4", base, time.Minute)
	b := rateLimitKey("ip:1.2.3.4", base.Add(40*time.Second), time.Minute)
	c := rateLimitKey("ip:1.2.3.4", base.Add(55*time.Second), time.Minute)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, KeyRateLimitPrefix+"ip:1.2.3.4:")
}

func TestWindowStart_DefaultsToMinute(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 42, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), windowStart(now, 0))
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), windowStart(now, 24*time.Hour))
}

func TestStats_WithoutTraffic(t *testing.T) {
	c := NewFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "tracelink:", logger.NewNop())
	defer c.Close()

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ClientStats{}, stats)
	assert.Equal(t, "tracelink:"+KeyResponsePrefix+"search:ab", c.key(KeyResponsePrefix+"search:ab"))
}

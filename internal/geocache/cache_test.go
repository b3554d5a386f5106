package geocache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     string
	}{
		{"plain", 40.7128, -74.006, "40.71280,-74.00600"},
		{"rounds", 1.000006, 2.000004, "1.00001,2.00000"},
		{"negative zero", -0.000001, 0.000001, "0.00000,0.00000"},
		{"negative", -33.868820, 151.209296, "-33.86882,151.20930"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.lat, tt.lon))
		})
	}
}

func TestLookup_SameBucketOneCall(t *testing.T) {
	c := New()
	var calls atomic.Int32
	fn := func(_ context.Context, _, _ float64) (string, error) {
		calls.Add(1)
		return "12 Elm St", nil
	}

	a := c.Lookup(context.Background(), 40.712801, -74.006001, fn)
	b := c.Lookup(context.Background(), 40.712799, -74.005999, fn)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "12 Elm St", a.Address)
	assert.Equal(t, a, b)
	assert.True(t, a.Found())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, 1, stats.Entries)
}

func TestLookup_FailureCached(t *testing.T) {
	c := New()
	var calls atomic.Int32
	fn := func(_ context.Context, _, _ float64) (string, error) {
		calls.Add(1)
		return "", errors.New("service unavailable")
	}

	e := c.Lookup(context.Background(), 1, 2, fn)
	require.True(t, e.Failed())
	assert.Equal(t, "service unavailable", e.Failure)

	e = c.Lookup(context.Background(), 1, 2, fn)
	assert.True(t, e.Failed())
	assert.Equal(t, int32(1), calls.Load())
}

func TestLookup_NotFoundCached(t *testing.T) {
	c := New()
	var calls atomic.Int32
	fn := func(_ context.Context, _, _ float64) (string, error) {
		calls.Add(1)
		return "", nil
	}

	e := c.Lookup(context.Background(), 1, 2, fn)
	assert.False(t, e.Found())
	assert.False(t, e.Failed())
	c.Lookup(context.Background(), 1, 2, fn)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLookup_ConcurrentMissesCollapse(t *testing.T) {
	c := New()
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(_ context.Context, _, _ float64) (string, error) {
		calls.Add(1)
		<-release
		return "1 Main St", nil
	}

	var wg sync.WaitGroup
	results := make([]Entry, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Lookup(context.Background(), 10.000001, 20.000001, fn)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "1 Main St", r.Address)
	}
}

func TestLookup_DistinctBuckets(t *testing.T) {
	c := New()
	var calls atomic.Int32
	fn := func(_ context.Context, lat, _ float64) (string, error) {
		calls.Add(1)
		if lat > 1 {
			return "far", nil
		}
		return "near", nil
	}

	assert.Equal(t, "near", c.Lookup(context.Background(), 1, 1, fn).Address)
	assert.Equal(t, "far", c.Lookup(context.Background(), 1.0001, 1, fn).Address)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, c.Len())
}

func TestLookup_CancelledNotStored(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	fn := func(ctx context.Context, _, _ float64) (string, error) {
		cancel()
		return "", ctx.Err()
	}

	e := c.Lookup(ctx, 1, 2, fn)
	assert.True(t, e.Failed())
	_, ok := c.get(Key(1, 2))
	assert.False(t, ok)
}

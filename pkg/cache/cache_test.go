package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleCacheExpiresAfterTTL(t *testing.T) {
	mock := clock.NewMock()
	c := NewSimpleCacheWithClock[string, int](15*time.Minute, 16, mock)

	c.Set("a", 1)

	mock.Add(14 * time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	mock.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestSimpleCacheAddDoesNotRefresh(t *testing.T) {
	mock := clock.NewMock()
	c := NewSimpleCacheWithClock[string, int](10*time.Minute, 16, mock)

	require.True(t, c.Add("a", 1))

	mock.Add(5 * time.Minute)
	assert.False(t, c.Add("a", 2))

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// the original deadline still applies
	mock.Add(5 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)

	assert.True(t, c.Add("a", 3))
	v, ok = c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestSimpleCacheRelease(t *testing.T) {
	c := NewSimpleCache[string, string](time.Hour)
	c.Set("k", "v")
	c.Release("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoSharesConcurrentCalls(t *testing.T) {
	m := NewMemo[string](8)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "value", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := m.Get(context.Background(), "key", fetch)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "value", r)
	}
	assert.LessOrEqual(t, calls.Load(), int32(4))

	before := calls.Load()
	v, err := m.Get(context.Background(), "key", fetch)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, before, calls.Load())
}

func TestMemoDoesNotCacheErrors(t *testing.T) {
	m := NewMemo[int](8)

	_, err := m.Get(context.Background(), "k", func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	require.Error(t, err)

	v, err := m.Get(context.Background(), "k", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestMemoGetManyFetchesOnlyMissing(t *testing.T) {
	m := NewMemo[string](16)
	m.Put("a", "A")

	var asked [][]string
	fetch := func(_ context.Context, missing []string) (map[string]string, error) {
		asked = append(asked, missing)
		out := map[string]string{}
		for _, k := range missing {
			if k != "unknown" {
				out[k] = k + "!"
			}
		}
		return out, nil
	}

	res, err := m.GetMany(context.Background(), []string{"a", "b", "unknown"}, fetch)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "A", "b": "b!"}, res)
	require.Len(t, asked, 1)
	assert.Equal(t, []string{"b", "unknown"}, asked[0])

	res, err = m.GetMany(context.Background(), []string{"a", "b"}, fetch)
	require.NoError(t, err)
	assert.Len(t, res, 2)
	assert.Len(t, asked, 1)

	_, err = m.GetMany(context.Background(), []string{"c"}, func(context.Context, []string) (map[string]string, error) {
		return nil, errors.New("down")
	})
	assert.Error(t, err)
	_, ok := m.Peek("c")
	assert.False(t, ok)
}

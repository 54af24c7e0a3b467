package cache

import (
	"context"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Memo remembers successful lookups by key for the lifetime of the process. Concurrent lookups of
// the same key share a single call.
type Memo[V any] struct {
	items *lru.Cache[string, V]
	group singleflight.Group
}

func (m *Memo[V]) Get(ctx context.Context, key string, fetch func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := m.items.Get(key); ok {
		return v, nil
	}

	res, err, _ := m.group.Do(key, func() (any, error) {
		if v, ok := m.items.Get(key); ok {
			return v, nil
		}

		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}

		m.items.Add(key, v)

		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}

	return res.(V), nil
}

// GetMany resolves keys in one batch: only keys without a remembered value are passed to fetch.
// Keys fetch does not return stay unresolved and are absent from the result.
func (m *Memo[V]) GetMany(ctx context.Context, keys []string, fetch func(ctx context.Context, missing []string) (map[string]V, error)) (map[string]V, error) {
	res := make(map[string]V, len(keys))
	missing := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := m.items.Get(k); ok {
			res[k] = v
			continue
		}
		missing = append(missing, k)
	}

	if len(missing) == 0 {
		return res, nil
	}

	sorted := slices.Clone(missing)
	slices.Sort(sorted)

	fetched, err, _ := m.group.Do(strings.Join(sorted, ","), func() (any, error) {
		got, err := fetch(ctx, missing)
		if err != nil {
			return nil, err
		}

		for k, v := range got {
			m.items.Add(k, v)
		}

		return got, nil
	})
	if err != nil {
		return res, err
	}

	for k, v := range fetched.(map[string]V) {
		res[k] = v
	}

	return res, nil
}

func (m *Memo[V]) Peek(key string) (V, bool) {
	return m.items.Peek(key)
}

func (m *Memo[V]) Put(key string, v V) {
	m.items.Add(key, v)
}

func (m *Memo[V]) Purge() {
	m.items.Purge()
}

func NewMemo[V any](size int) *Memo[V] {
	if size <= 0 {
		size = DefaultCacheSize
	}

	items, err := lru.New[string, V](size)
	if err != nil {
		panic(err)
	}

	return &Memo[V]{items: items}
}

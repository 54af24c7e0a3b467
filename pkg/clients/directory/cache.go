package directory

import (
	"context"
	"time"

	"mytonstorage-dashboard/pkg/cache"
	"mytonstorage-dashboard/pkg/models"
)

const searchTTL = time.Minute

type cacheMiddleware struct {
	Client
	search *cache.SimpleCache[Filters, []models.Provider]
}

func (c *cacheMiddleware) Search(ctx context.Context, filters Filters) ([]models.Provider, error) {
	if list, ok := c.search.Get(filters); ok {
		return list, nil
	}

	list, err := c.Client.Search(ctx, filters)
	if err != nil {
		return nil, err
	}

	c.search.Set(filters, list)

	return list, nil
}

// NewCacheMiddleware keeps search results for a minute. Lookups and contract statuses always go
// to the directory.
func NewCacheMiddleware(client Client) Client {
	return &cacheMiddleware{
		Client: client,
		search: cache.NewSimpleCache[Filters, []models.Provider](searchTTL),
	}
}

package offers

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"mytonstorage-dashboard/pkg/cache"
	"mytonstorage-dashboard/pkg/models"
	"mytonstorage-dashboard/pkg/utils"
)

const OfferTTL = 15 * time.Minute

type offersCache struct {
	cache *cache.SimpleCache[string, models.ProviderOffer]
	svc   Offers
}

func (c *offersCache) Negotiate(ctx context.Context, req Request) (res Result, err error) {
	bagID := utils.NormalizeBagID(req.BagID)
	if c.svc.IsExpired(bagID) {
		err = models.ErrOfferWindowExpired
		return
	}

	keys := normalizeKeys(req.ProviderKeys)
	found := make(map[string]models.ProviderOffer, len(keys))
	missing := make([]string, 0, len(keys))
	for _, k := range keys {
		if o, ok := c.cache.Get(offerKey(bagID, k, req.Span)); ok {
			found[k] = o
			continue
		}
		missing = append(missing, k)
	}

	if len(missing) > 0 {
		sub := req
		sub.ProviderKeys = missing

		fetched, fErr := c.svc.Negotiate(ctx, sub)
		if fErr != nil {
			err = fErr
			return
		}

		for _, o := range fetched.Offers {
			c.cache.Add(offerKey(bagID, o.Provider.Key, req.Span), o)
			found[o.Provider.Key] = o
		}

		res.Declines = fetched.Declines
	}

	res.Offers = make([]models.ProviderOffer, 0, len(found))
	for _, k := range keys {
		if o, ok := found[k]; ok {
			res.Offers = append(res.Offers, o)
		}
	}

	if res.Declines == nil {
		res.Declines = []models.ProviderDecline{}
	}

	return
}

func (c *offersCache) IsExpired(bagID string) bool {
	return c.svc.IsExpired(bagID)
}

func (c *offersCache) Reset() {
	c.svc.Reset()
}

func offerKey(bagID, providerKey string, span uint32) string {
	return fmt.Sprintf("%s|%s|%d", bagID, providerKey, span)
}

// NewOffersCache keeps successful offers for OfferTTL. Entries are never refreshed in place, so
// an offer is requested again exactly once its window passes.
func NewOffersCache(svc Offers, clk clock.Clock) Offers {
	if clk == nil {
		clk = clock.New()
	}

	return &offersCache{
		cache: cache.NewSimpleCacheWithClock[string, models.ProviderOffer](OfferTTL, cache.DefaultCacheSize, clk),
		svc:   svc,
	}
}

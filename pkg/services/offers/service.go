package offers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/utils"
)

// Source quotes storage offers for a batch of providers. Implemented by the backend client and by
// the direct ADNL rates service.
type Source interface {
	Offers(ctx context.Context, req v1.OffersRequest) (v1.ProviderRatesResponse, error)
}

type Request struct {
	BagID        string   `json:"bag_id"`
	BagSize      uint64   `json:"bag_size"`
	Span         uint32   `json:"span"`
	ProviderKeys []string `json:"providers"`
}

type Result struct {
	Offers   []models.ProviderOffer   `json:"offers"`
	Declines []models.ProviderDecline `json:"declines"`
}

type Offers interface {
	Negotiate(ctx context.Context, req Request) (Result, error)
	IsExpired(bagID string) bool
	Reset()
}

type service struct {
	source         Source
	onUnauthorized func()

	mu      sync.Mutex
	expired map[string]struct{}

	logger *slog.Logger
}

func (s *service) Negotiate(ctx context.Context, req Request) (res Result, err error) {
	log := s.logger.With(
		"method", "Negotiate",
		"bag_id", req.BagID,
		"span", req.Span,
		"providers", len(req.ProviderKeys))

	bagID := utils.NormalizeBagID(req.BagID)
	if !utils.ValidateBagID(bagID) {
		err = models.ErrInvalidBagID
		return
	}

	if req.Span == 0 {
		err = models.ErrInvalidPeriod
		return
	}

	if s.IsExpired(bagID) {
		err = models.ErrOfferWindowExpired
		return
	}

	keys := normalizeKeys(req.ProviderKeys)
	if len(keys) == 0 {
		return
	}

	resp, err := s.source.Offers(ctx, v1.OffersRequest{
		BagID:     bagID,
		BagSize:   req.BagSize,
		Span:      req.Span,
		Providers: keys,
	})
	switch {
	case err == nil:
	case errors.Is(err, models.ErrOfferWindowExpired):
		log.Warn("offer window expired, stopping negotiation for bag")
		s.markExpired(bagID)
		return res, models.ErrOfferWindowExpired
	case errors.Is(err, models.ErrUnauthorized):
		log.Warn("session is no longer valid")
		if s.onUnauthorized != nil {
			s.onUnauthorized()
		}
		return res, models.ErrUnauthorized
	default:
		log.Error("failed to fetch offers", slog.String("error", err.Error()))
		return res, err
	}

	res.Offers = make([]models.ProviderOffer, 0, len(resp.Offers))
	for _, o := range resp.Offers {
		o.Provider.Key = strings.ToLower(o.Provider.Key)
		res.Offers = append(res.Offers, o)
	}

	res.Declines = make([]models.ProviderDecline, 0, len(resp.Declines))
	for _, d := range resp.Declines {
		d.ProviderKey = strings.ToLower(d.ProviderKey)
		res.Declines = append(res.Declines, d)
	}

	return res, nil
}

func (s *service) IsExpired(bagID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.expired[utils.NormalizeBagID(bagID)]
	return ok
}

func (s *service) Reset() {
	s.mu.Lock()
	s.expired = make(map[string]struct{})
	s.mu.Unlock()
}

func (s *service) markExpired(bagID string) {
	s.mu.Lock()
	s.expired[bagID] = struct{}{}
	s.mu.Unlock()
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}

	return out
}

// NewService builds the negotiation service. onUnauthorized runs when the source rejects the session.
func NewService(source Source, onUnauthorized func(), logger *slog.Logger) Offers {
	return &service{
		source:         source,
		onUnauthorized: onUnauthorized,
		expired:        make(map[string]struct{}),
		logger:         logger,
	}
}

package providers

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-storage-provider/pkg/transport"
	"github.com/xssnick/tonutils-storage/provider"
	"golang.org/x/sync/errgroup"

	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/utils"
)

const (
	providersLimit         = 256
	parallelRequests       = 16
	providerRequestTimeout = 7 * time.Second
)

type ratesClient interface {
	GetStorageRates(ctx context.Context, providerKey []byte, size uint64) (*transport.StorageRatesResponse, error)
}

type service struct {
	provider ratesClient
	logger   *slog.Logger
}

// Providers asks storage providers for their rates directly over ADNL, bypassing the backend.
type Providers interface {
	Offers(ctx context.Context, req v1.OffersRequest) (resp v1.ProviderRatesResponse, err error)
}

func (s *service) Offers(ctx context.Context, req v1.OffersRequest) (resp v1.ProviderRatesResponse, err error) {
	log := s.logger.With(
		"method", "Offers",
		"bag_id", req.BagID,
		"providers", req.Providers)

	if len(req.Providers) > providersLimit {
		log.Error("too many providers requested", slog.Int("limit", providersLimit))
		err = models.NewAppError(models.BadRequestErrorCode, "too many providers requested")
		return
	}

	if len(req.Providers) == 0 {
		return
	}

	if req.BagSize == 0 {
		err = models.NewAppError(models.BadRequestErrorCode, "bag size is required for direct rates")
		return
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(parallelRequests)

	for _, key := range req.Providers {
		g.Go(func() error {
			offer, reason := s.fetchProviderRates(gCtx, key, req.BagSize, req.Span)

			mu.Lock()
			defer mu.Unlock()

			if reason != "" {
				resp.Declines = append(resp.Declines, v1.ProviderDecline{
					ProviderKey: key,
					Reason:      reason,
				})
				return nil
			}

			resp.Offers = append(resp.Offers, *offer)
			return nil
		})
	}

	_ = g.Wait()

	return resp, nil
}

func (s *service) fetchProviderRates(ctx context.Context, providerKey string, bagSize uint64, span uint32) (offer *v1.ProviderOffer, reason string) {
	log := s.logger.With(
		"method", "fetchProviderRates",
		"bag_size", bagSize,
		"provider_key", providerKey)

	pk, err := utils.ToHashBytes(providerKey)
	if err != nil {
		log.Error("failed to parse provider hash", slog.String("error", err.Error()))
		reason = "invalid pubkey"
		return
	}

	var rates *transport.StorageRatesResponse
	err = utils.TryNTimes(func() error {
		timeoutCtx, cancel := context.WithTimeout(ctx, providerRequestTimeout)
		defer cancel()
		rates, err = s.provider.GetStorageRates(timeoutCtx, pk, bagSize)
		return err
	}, 3)
	if err != nil {
		if ctx.Err() != nil {
			log.Error("provider rates request timed out", slog.String("error", err.Error()))
			reason = "long response time"
			return
		}

		log.Error("failed to fetch rates", slog.String("error", err.Error()))
		reason = "can't fetch rates"
		return
	}

	if rates == nil || !rates.Available {
		reason = "not available"
		return
	}

	if rates.SpaceAvailableMB*1024*1024 < bagSize {
		reason = "not enough space"
		return
	}

	if span < rates.MinSpan || span > rates.MaxSpan {
		reason = "unsupported proof period"
		return
	}

	p := provider.ProviderRates{
		Available:        rates.Available,
		RatePerMBDay:     tlb.FromNanoTON(new(big.Int).SetBytes(rates.RatePerMBDay)),
		MinBounty:        tlb.FromNanoTON(new(big.Int).SetBytes(rates.MinBounty)),
		SpaceAvailableMB: rates.SpaceAvailableMB,
		MinSpan:          span,
		MaxSpan:          span,

		Size: bagSize,
	}

	o := provider.CalculateBestProviderOffer(&p)

	offer = &v1.ProviderOffer{
		OfferSpan:     uint64(o.Span),
		PricePerDay:   o.PerDayNano.Uint64(),
		PricePerProof: o.PerProofNano.Uint64(),
		PricePerMB:    o.RatePerMBNano.Uint64(),

		Provider: v1.ProviderContractData{
			Key:          strings.ToLower(providerKey),
			MinBounty:    tlb.FromNanoTON(new(big.Int).SetBytes(rates.MinBounty)).String(),
			MinSpan:      uint64(rates.MinSpan),
			MaxSpan:      uint64(rates.MaxSpan),
			RatePerMBDay: new(big.Int).SetBytes(rates.RatePerMBDay).Uint64(),
		},
	}

	return
}

func NewService(provider ratesClient, logger *slog.Logger) Providers {
	return &service{
		provider: provider,
		logger:   logger,
	}
}

package selection

import (
	"context"
	"log/slog"

	"mytonstorage-dashboard/pkg/clients/directory"
	"mytonstorage-dashboard/pkg/models"
)

const (
	MaxCount        = 32
	directoryWindow = 500
)

type searcher interface {
	Search(ctx context.Context, filters directory.Filters) ([]models.Provider, error)
}

type Request struct {
	Count       int          `json:"count"`
	ProofPeriod uint32       `json:"proof_period"`
	Location    LocationMode `json:"location"`
	Sort        SortMode     `json:"sort"`
	MinUptime   float64      `json:"min_uptime"`
	MinRating   float64      `json:"min_rating"`
}

type Service interface {
	Recommend(ctx context.Context, req Request) ([]models.Provider, error)
}

type service struct {
	directory searcher
	logger    *slog.Logger
}

// Recommend fetches the provider directory and picks req.Count providers from it.
func (s *service) Recommend(ctx context.Context, req Request) ([]models.Provider, error) {
	log := s.logger.With("method", "Recommend", "count", req.Count, "sort", req.Sort, "location", req.Location)

	if req.Count <= 0 || req.Count > MaxCount {
		return nil, models.NewAppError(models.BadRequestErrorCode, "invalid providers count")
	}

	switch req.Location {
	case "":
		req.Location = LocationAny
	case LocationAny, LocationCountries, LocationCities:
	default:
		return nil, models.NewAppError(models.BadRequestErrorCode, "invalid location mode")
	}

	switch req.Sort {
	case "":
		req.Sort = SortRating
	case SortRating, SortPrice, SortRandom:
	default:
		return nil, models.NewAppError(models.BadRequestErrorCode, "invalid sort mode")
	}

	providers, err := s.directory.Search(ctx, directory.Filters{
		MinUptime: req.MinUptime,
		MinRating: req.MinRating,
		Limit:     directoryWindow,
	})
	if err != nil {
		log.Error("failed to search providers", slog.String("error", err.Error()))
		return nil, models.WrapAppError(models.ServiceUnavailableCode, "provider directory is unavailable", err)
	}

	res := Select(providers, Options{
		Count:       req.Count,
		ProofPeriod: req.ProofPeriod,
		Location:    req.Location,
		Sort:        req.Sort,
	})
	if res == nil {
		res = []models.Provider{}
	}

	log.Debug("providers selected", "candidates", len(providers), "selected", len(res))

	return res, nil
}

func NewService(directory searcher, logger *slog.Logger) Service {
	return &service{
		directory: directory,
		logger:    logger,
	}
}

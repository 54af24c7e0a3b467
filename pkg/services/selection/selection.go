package selection

import (
	"math"
	"math/rand/v2"
	"slices"
	"strings"

	"mytonstorage-dashboard/pkg/models"
)

type LocationMode string

const (
	LocationAny       LocationMode = "any"
	LocationCountries LocationMode = "countries"
	LocationCities    LocationMode = "cities"
)

type SortMode string

const (
	SortRating SortMode = "rating"
	SortPrice  SortMode = "price"
	SortRandom SortMode = "random"
)

const (
	minWeight = 1.0
	maxWeight = 10.0
)

type Options struct {
	Count int
	// ProofPeriod in seconds, zero means any.
	ProofPeriod uint32
	Location    LocationMode
	Sort        SortMode
	// Rand drives the weighted shuffle, nil uses a randomly seeded source.
	Rand *rand.Rand
}

// Select picks up to opts.Count providers. Any returned subset shares at least one proof span.
func Select(providers []models.Provider, opts Options) []models.Provider {
	if opts.Count <= 0 || len(providers) == 0 {
		return nil
	}

	candidates := make([]models.Provider, 0, len(providers))
	for _, p := range providers {
		if p.MinSpan > p.MaxSpan {
			continue
		}

		if opts.ProofPeriod != 0 && !p.CoversSpan(opts.ProofPeriod) {
			continue
		}

		candidates = append(candidates, p)
	}

	candidates = dedupByLocation(candidates, opts.Location, opts.Sort)

	switch opts.Sort {
	case SortPrice:
		slices.SortStableFunc(candidates, byPrice)
	case SortRandom:
		r := opts.Rand
		if r == nil {
			r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
		// stable input order so that a seeded source gives a reproducible shuffle
		slices.SortStableFunc(candidates, byRating)
		candidates = weightedShuffle(candidates, r)
	default:
		slices.SortStableFunc(candidates, byRating)
	}

	return FilterCommonSpan(candidates, opts.Count)
}

// FilterCommonSpan walks providers in order and keeps a provider only if the kept set still has a
// non-empty span intersection. At most limit providers are returned, limit <= 0 means no limit.
func FilterCommonSpan(providers []models.Provider, limit int) []models.Provider {
	var (
		res    []models.Provider
		lo, hi uint32
	)

	for _, p := range providers {
		if limit > 0 && len(res) >= limit {
			break
		}

		if p.MinSpan > p.MaxSpan {
			continue
		}

		if len(res) == 0 {
			lo, hi = p.MinSpan, p.MaxSpan
			res = append(res, p)
			continue
		}

		nlo, nhi := max(lo, p.MinSpan), min(hi, p.MaxSpan)
		if nlo > nhi {
			continue
		}

		lo, hi = nlo, nhi
		res = append(res, p)
	}

	return res
}

// Intersection returns the span interval shared by all providers, ok is false if there is none.
func Intersection(providers []models.Provider) (lo, hi uint32, ok bool) {
	if len(providers) == 0 {
		return 0, 0, false
	}

	lo, hi = 0, math.MaxUint32
	for _, p := range providers {
		lo = max(lo, p.MinSpan)
		hi = min(hi, p.MaxSpan)
	}

	return lo, hi, lo <= hi
}

func dedupByLocation(providers []models.Provider, mode LocationMode, sort SortMode) []models.Provider {
	var bucketOf func(p models.Provider) string
	switch mode {
	case LocationCountries:
		bucketOf = func(p models.Provider) string {
			if p.Location.CountryISO != "" {
				return strings.ToLower(p.Location.CountryISO)
			}
			return strings.ToLower(p.Location.Country)
		}
	case LocationCities:
		bucketOf = func(p models.Provider) string {
			return strings.ToLower(p.Location.Country) + "/" + strings.ToLower(p.Location.City)
		}
	default:
		return providers
	}

	better := byRating
	if sort == SortPrice {
		better = byPrice
	}

	best := make(map[string]int)
	var res []models.Provider
	for _, p := range providers {
		bucket := bucketOf(p)
		i, ok := best[bucket]
		if !ok {
			best[bucket] = len(res)
			res = append(res, p)
			continue
		}

		if better(p, res[i]) < 0 {
			res[i] = p
		}
	}

	return res
}

func byRating(a, b models.Provider) int {
	switch {
	case a.Rating > b.Rating:
		return -1
	case a.Rating < b.Rating:
		return 1
	}

	return strings.Compare(a.Key(), b.Key())
}

func byPrice(a, b models.Provider) int {
	switch {
	case a.RatePerMBDay < b.RatePerMBDay:
		return -1
	case a.RatePerMBDay > b.RatePerMBDay:
		return 1
	}

	return strings.Compare(a.Key(), b.Key())
}

// weightedShuffle samples without replacement, weight grows linearly with the rating normalised
// into [1, 10].
func weightedShuffle(providers []models.Provider, r *rand.Rand) []models.Provider {
	if len(providers) < 2 {
		return providers
	}

	lowest, highest := providers[0].Rating, providers[0].Rating
	for _, p := range providers {
		lowest = min(lowest, p.Rating)
		highest = max(highest, p.Rating)
	}

	weights := make([]float64, len(providers))
	for i, p := range providers {
		weights[i] = normalizeRating(p.Rating, lowest, highest)
	}

	pool := slices.Clone(providers)
	res := make([]models.Provider, 0, len(providers))
	for len(pool) > 0 {
		total := 0.0
		for _, w := range weights {
			total += w
		}

		pick := r.Float64() * total
		idx := len(pool) - 1
		for i, w := range weights {
			if pick < w {
				idx = i
				break
			}
			pick -= w
		}

		res = append(res, pool[idx])
		pool = slices.Delete(pool, idx, idx+1)
		weights = slices.Delete(weights, idx, idx+1)
	}

	return res
}

func normalizeRating(rating, lowest, highest float64) float64 {
	if highest <= lowest {
		return maxWeight
	}

	return minWeight + (rating-lowest)/(highest-lowest)*(maxWeight-minWeight)
}

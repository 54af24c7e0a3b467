package selection

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mytonstorage-dashboard/pkg/models"
)

const day = 24 * 60 * 60

func provider(key string, rating float64, price uint64, minSpan, maxSpan uint32, country, city string) models.Provider {
	return models.Provider{
		Pubkey:       key,
		Rating:       rating,
		RatePerMBDay: price,
		MinSpan:      minSpan,
		MaxSpan:      maxSpan,
		Location:     models.Location{Country: country, CountryISO: country, City: city},
	}
}

func keys(providers []models.Provider) []string {
	res := make([]string, 0, len(providers))
	for _, p := range providers {
		res = append(res, p.Pubkey)
	}
	return res
}

func TestSelectDropsProvidersNotCoveringPeriod(t *testing.T) {
	providers := []models.Provider{
		provider("a", 5, 10, day, 7*day, "DE", "Berlin"),
		provider("b", 9, 10, 3*day, 7*day, "DE", "Munich"),
		provider("c", 7, 10, 3600, day/2, "FR", "Paris"),
	}

	got := Select(providers, Options{Count: 10, ProofPeriod: 2 * day, Location: LocationAny, Sort: SortRating})
	assert.Equal(t, []string{"a"}, keys(got))
}

func TestSelectSortModes(t *testing.T) {
	providers := []models.Provider{
		provider("a", 5, 300, 0, 10*day, "DE", "Berlin"),
		provider("b", 9, 200, 0, 10*day, "US", "Austin"),
		provider("c", 7, 100, 0, 10*day, "FR", "Paris"),
	}

	byRating := Select(providers, Options{Count: 3, Sort: SortRating})
	assert.Equal(t, []string{"b", "c", "a"}, keys(byRating))

	byPrice := Select(providers, Options{Count: 3, Sort: SortPrice})
	assert.Equal(t, []string{"c", "b", "a"}, keys(byPrice))

	top := Select(providers, Options{Count: 2, Sort: SortRating})
	assert.Equal(t, []string{"b", "c"}, keys(top))
}

func TestSelectTieBreaksByKey(t *testing.T) {
	providers := []models.Provider{
		provider("zz", 5, 100, 0, day, "DE", "Berlin"),
		provider("aa", 5, 100, 0, day, "DE", "Berlin"),
		provider("mm", 5, 100, 0, day, "DE", "Berlin"),
	}

	assert.Equal(t, []string{"aa", "mm", "zz"}, keys(Select(providers, Options{Count: 3, Sort: SortRating})))
	assert.Equal(t, []string{"aa", "mm", "zz"}, keys(Select(providers, Options{Count: 3, Sort: SortPrice})))
}

func TestSelectLocationDiversity(t *testing.T) {
	providers := []models.Provider{
		provider("de-1", 5, 100, 0, day, "DE", "Berlin"),
		provider("de-2", 8, 300, 0, day, "DE", "Munich"),
		provider("de-3", 6, 50, 0, day, "DE", "Berlin"),
		provider("fr-1", 4, 200, 0, day, "FR", "Paris"),
	}

	countries := Select(providers, Options{Count: 10, Location: LocationCountries, Sort: SortRating})
	assert.ElementsMatch(t, []string{"de-2", "fr-1"}, keys(countries))

	cheapCountries := Select(providers, Options{Count: 10, Location: LocationCountries, Sort: SortPrice})
	assert.Equal(t, []string{"de-3", "fr-1"}, keys(cheapCountries))

	cities := Select(providers, Options{Count: 10, Location: LocationCities, Sort: SortRating})
	assert.Equal(t, []string{"de-2", "de-3", "fr-1"}, keys(cities))
}

func TestSelectEmptyIsNotAnError(t *testing.T) {
	assert.Empty(t, Select(nil, Options{Count: 3}))
	assert.Empty(t, Select([]models.Provider{provider("a", 1, 1, day, day, "", "")}, Options{Count: 0}))
	assert.Empty(t, Select([]models.Provider{provider("a", 1, 1, day, day, "", "")}, Options{Count: 1, ProofPeriod: 2 * day}))
}

func TestSelectRandomIsReproducibleWithSeed(t *testing.T) {
	var providers []models.Provider
	for i := range 20 {
		providers = append(providers, provider(fmt.Sprintf("p%02d", i), float64(i%10), uint64(i), 0, 30*day, "", ""))
	}

	a := Select(providers, Options{Count: 5, Sort: SortRandom, Rand: rand.New(rand.NewPCG(1, 2))})
	b := Select(providers, Options{Count: 5, Sort: SortRandom, Rand: rand.New(rand.NewPCG(1, 2))})
	require.Len(t, a, 5)
	assert.Equal(t, keys(a), keys(b))
}

func TestSelectRandomFavoursRating(t *testing.T) {
	providers := []models.Provider{
		provider("low", 0, 1, 0, day, "", ""),
		provider("high", 100, 1, 0, day, "", ""),
	}

	r := rand.New(rand.NewPCG(7, 7))
	firsts := map[string]int{}
	for range 2000 {
		got := Select(providers, Options{Count: 1, Sort: SortRandom, Rand: r})
		require.Len(t, got, 1)
		firsts[got[0].Pubkey]++
	}

	// weights are 10 and 1
	assert.Greater(t, firsts["high"], firsts["low"]*5)
}

func TestFilterCommonSpanKeepsIntersection(t *testing.T) {
	providers := []models.Provider{
		provider("a", 0, 0, 1*day, 5*day, "", ""),
		provider("b", 0, 0, 6*day, 9*day, "", ""),
		provider("c", 0, 0, 2*day, 4*day, "", ""),
		provider("d", 0, 0, 4*day, 8*day, "", ""),
		provider("e", 0, 0, 5*day, 5*day, "", ""),
	}

	got := FilterCommonSpan(providers, 0)
	assert.Equal(t, []string{"a", "c", "d"}, keys(got))

	lo, hi, ok := Intersection(got)
	require.True(t, ok)
	assert.Equal(t, uint32(4*day), lo)
	assert.Equal(t, uint32(4*day), hi)
}

func TestFilterCommonSpanProperty(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 42))

	for range 500 {
		n := r.IntN(12) + 1
		providers := make([]models.Provider, 0, n)
		for i := range n {
			lo := uint32(r.IntN(30)) * 3600
			hi := lo + uint32(r.IntN(30))*3600
			providers = append(providers, provider(fmt.Sprint(i), r.Float64()*10, uint64(r.IntN(1000)), lo, hi, "", ""))
		}

		for _, sort := range []SortMode{SortRating, SortPrice, SortRandom} {
			got := Select(providers, Options{Count: r.IntN(n) + 1, Sort: sort, Rand: r})
			require.NotEmpty(t, got)

			var maxMin, minMax uint32 = 0, ^uint32(0)
			for _, p := range got {
				maxMin = max(maxMin, p.MinSpan)
				minMax = min(minMax, p.MaxSpan)
			}
			assert.LessOrEqual(t, maxMin, minMax)
		}
	}
}

func TestIntersectionEmpty(t *testing.T) {
	_, _, ok := Intersection(nil)
	assert.False(t, ok)

	_, _, ok = Intersection([]models.Provider{
		provider("a", 0, 0, 1, 2, "", ""),
		provider("b", 0, 0, 3, 4, "", ""),
	})
	assert.False(t, ok)
}

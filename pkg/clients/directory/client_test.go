package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mytonstorage-dashboard/pkg/models"
)

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/providers/search", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 50, req.Limit)
		assert.Equal(t, 90.0, req.Filters.UptimeGt)

		_, _ = w.Write([]byte(`{"providers":[{"pubkey":"ABCD","address":"0:01","price":120,"rating":7.5,"uptime":99,"min_span":3600,"max_span":86400,"location":{"country":"Germany","country_iso":"DE","city":"Berlin"}},{"pubkey":"ef01","price":5}]}`))
	}))
	defer server.Close()

	c, err := NewClient(server.URL, time.Second)
	require.NoError(t, err)

	providers, err := c.Search(context.Background(), Filters{MinUptime: 90, Limit: 50})
	require.NoError(t, err)
	require.Len(t, providers, 2)

	assert.Equal(t, models.Provider{
		Pubkey:       "abcd",
		Address:      "0:01",
		Location:     models.Location{Country: "Germany", CountryISO: "DE", City: "Berlin"},
		RatePerMBDay: 120,
		Rating:       7.5,
		Uptime:       99,
		MinSpan:      3600,
		MaxSpan:      86400,
	}, providers[0])
	assert.Equal(t, "ef01", providers[1].Pubkey)
}

func TestLookupSendsExactKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"aa", "bb"}, req.Filters.Exact)
		_, _ = w.Write([]byte(`{"providers":[]}`))
	}))
	defer server.Close()

	c, err := NewClient(server.URL, time.Second)
	require.NoError(t, err)

	providers, err := c.Lookup(context.Background(), []string{"AA", "bb"})
	require.NoError(t, err)
	assert.Empty(t, providers)

	providers, err = c.Lookup(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, providers)
}

func TestErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream"}`))
	}))
	defer server.Close()

	c, err := NewClient(server.URL, time.Second)
	require.NoError(t, err)

	_, err = c.ContractStatuses(context.Background(), []ContractRef{{Address: "0:01"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream")
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient("", 0)
	assert.Error(t, err)
}

type countingClient struct {
	Client
	searches int
}

func (c *countingClient) Search(context.Context, Filters) ([]models.Provider, error) {
	c.searches++
	return []models.Provider{{Pubkey: "aa"}}, nil
}

func TestCacheMiddlewareSearch(t *testing.T) {
	inner := &countingClient{}
	c := NewCacheMiddleware(inner)

	for range 3 {
		list, err := c.Search(context.Background(), Filters{MinRating: 1})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	}
	assert.Equal(t, 1, inner.searches)

	_, err := c.Search(context.Background(), Filters{MinRating: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.searches)
}

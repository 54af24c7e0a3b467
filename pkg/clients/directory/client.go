package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mytonstorage-dashboard/pkg/models"
)

const maxExactLookup = 256

type Client interface {
	Search(ctx context.Context, filters Filters) ([]models.Provider, error)
	Lookup(ctx context.Context, pubkeys []string) ([]models.Provider, error)
	ContractStatuses(ctx context.Context, contracts []ContractRef) ([]ContractStatus, error)
}

type Filters struct {
	MinUptime float64
	MinRating float64
	Limit     int
	Offset    int
}

type ContractRef struct {
	Address string `json:"address"`
	BagID   string `json:"bag_id,omitempty"`
}

// ContractStatus is a provider-check finding for a storage contract. An empty reason means ok.
type ContractStatus struct {
	Contract       string `json:"contract"`
	ProviderPubkey string `json:"provider_pubkey"`
	Reason         string `json:"reason"`
}

type client struct {
	base   string
	client http.Client
}

type searchFilters struct {
	UptimeGt float64  `json:"uptime_gt_percent,omitempty"`
	RatingGt float64  `json:"rating_gt,omitempty"`
	Exact    []string `json:"exact,omitempty"`
}

type searchSort struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

type searchRequest struct {
	Filters searchFilters `json:"filters"`
	Sort    searchSort    `json:"sort"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

type providerDTO struct {
	Pubkey   string `json:"pubkey"`
	Address  string `json:"address"`
	Location *struct {
		Country    string `json:"country"`
		CountryISO string `json:"country_iso"`
		City       string `json:"city"`
	} `json:"location"`
	Price   uint64  `json:"price"`
	Rating  float64 `json:"rating"`
	Uptime  float64 `json:"uptime"`
	MinSpan uint32  `json:"min_span"`
	MaxSpan uint32  `json:"max_span"`
}

func (c *client) Search(ctx context.Context, filters Filters) ([]models.Provider, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}

	return c.search(ctx, searchRequest{
		Filters: searchFilters{
			UptimeGt: filters.MinUptime,
			RatingGt: filters.MinRating,
		},
		Sort:   searchSort{Column: "rating", Order: "desc"},
		Limit:  limit,
		Offset: filters.Offset,
	})
}

func (c *client) Lookup(ctx context.Context, pubkeys []string) ([]models.Provider, error) {
	if len(pubkeys) == 0 {
		return nil, nil
	}

	if len(pubkeys) > maxExactLookup {
		return nil, fmt.Errorf("too many providers requested: %d", len(pubkeys))
	}

	exact := make([]string, 0, len(pubkeys))
	for _, k := range pubkeys {
		exact = append(exact, strings.ToLower(k))
	}

	return c.search(ctx, searchRequest{
		Filters: searchFilters{Exact: exact},
		Sort:    searchSort{Column: "rating", Order: "desc"},
		Limit:   len(exact),
	})
}

func (c *client) ContractStatuses(ctx context.Context, contracts []ContractRef) ([]ContractStatus, error) {
	if len(contracts) == 0 {
		return nil, nil
	}

	req := struct {
		Contracts []ContractRef `json:"contracts"`
	}{Contracts: contracts}

	var res []ContractStatus
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/contracts/statuses", req, &res); err != nil {
		return nil, fmt.Errorf("failed to do request: %w", err)
	}

	return res, nil
}

func (c *client) search(ctx context.Context, req searchRequest) ([]models.Provider, error) {
	var res struct {
		Providers []providerDTO `json:"providers"`
	}

	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/providers/search", req, &res); err != nil {
		return nil, fmt.Errorf("failed to do request: %w", err)
	}

	providers := make([]models.Provider, 0, len(res.Providers))
	for _, p := range res.Providers {
		provider := models.Provider{
			Pubkey:       strings.ToLower(p.Pubkey),
			Address:      p.Address,
			RatePerMBDay: p.Price,
			Rating:       p.Rating,
			Uptime:       p.Uptime,
			MinSpan:      p.MinSpan,
			MaxSpan:      p.MaxSpan,
		}
		if p.Location != nil {
			provider.Location = models.Location{
				Country:    p.Location.Country,
				CountryISO: p.Location.CountryISO,
				City:       p.Location.City,
			}
		}

		providers = append(providers, provider)
	}

	return providers, nil
}

func (c *client) doRequest(ctx context.Context, method, url string, req, resp any) error {
	buf := &bytes.Buffer{}
	if req != nil {
		if err := json.NewEncoder(buf).Encode(req); err != nil {
			return fmt.Errorf("failed to encode request data: %w", err)
		}
	}

	r, err := http.NewRequestWithContext(ctx, method, c.base+url, buf)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(r)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return models.ErrNotFound
	}

	if res.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if err = json.NewDecoder(res.Body).Decode(&e); err != nil {
			return fmt.Errorf("status code is %d", res.StatusCode)
		}
		return fmt.Errorf("status code is %d, error: %s", res.StatusCode, e.Error)
	}

	if err = json.NewDecoder(res.Body).Decode(resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func NewClient(base string, timeout time.Duration) (Client, error) {
	if base == "" {
		return nil, errors.New("empty provider directory url")
	}

	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &client{
		base:   strings.TrimRight(base, "/"),
		client: http.Client{Timeout: timeout},
	}, nil
}

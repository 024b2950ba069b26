// Package catalog normalizes heterogeneous upstream provider catalogs into a
// single offering shape. It is a pure read-through: nothing is cached and
// upstream failures are surfaced, never papered over with stale data.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/numlease/numlease/internal/provider"
)

var (
	// ErrCatalogUnavailable wraps any upstream catalog fetch failure.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	// ErrServiceNotFound is returned when a service code is absent from the
	// provider's current catalog.
	ErrServiceNotFound = errors.New("service not found")
)

// Offering is one normalized (provider, country, service) catalog entry with
// the provider's raw price. Markup and FX are applied later by pricing.
// For pool-based aggregators the price is the cheapest pool's and PoolCount
// records how many pools stock the service.
type Offering struct {
	ProviderID   string          `json:"provider_id"`
	ServiceCode  string          `json:"code"`
	DisplayName  string          `json:"display_name"`
	CountryCode  string          `json:"country_code"`
	BasePrice    decimal.Decimal `json:"base_price"`
	Currency     string          `json:"currency"`
	Availability int             `json:"availability_count"`
	PoolCount    int             `json:"pool_count,omitempty"`
}

// Resolver fetches and normalizes provider catalogs.
type Resolver struct {
	registry *provider.Registry
	logger   *slog.Logger
}

// NewResolver creates a Resolver over the fixed provider registry.
func NewResolver(registry *provider.Registry, logger *slog.Logger) *Resolver {
	return &Resolver{registry: registry, logger: logger}
}

// Countries lists the countries a provider can serve. The US-only provider
// returns its single fixed entry.
func (r *Resolver) Countries(ctx context.Context, providerID string) ([]provider.Country, error) {
	info, err := r.registry.Get(providerID)
	if err != nil {
		return nil, err
	}
	countries, err := info.Adapter.ListCountries(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCatalogUnavailable, providerID, err)
	}
	return countries, nil
}

// Offerings fetches a provider's catalog for one country and collapses
// pool-based entries to the cheapest pool per service. For the US-only
// provider the country argument is ignored.
func (r *Resolver) Offerings(ctx context.Context, providerID, country string) ([]Offering, error) {
	info, err := r.registry.Get(providerID)
	if err != nil {
		return nil, err
	}
	if info.Scope == provider.ScopeUSOnly {
		country = "US"
	} else if country == "" {
		return nil, fmt.Errorf("country is required for provider %s", providerID)
	}

	raw, err := info.Adapter.ListServices(ctx, country)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCatalogUnavailable, providerID, err)
	}
	return collapse(providerID, raw), nil
}

// Find returns the current offering for one service, re-fetched from
// upstream. The orchestrator uses it to re-derive prices at purchase time.
func (r *Resolver) Find(ctx context.Context, providerID, service, country string) (Offering, error) {
	offerings, err := r.Offerings(ctx, providerID, country)
	if err != nil {
		return Offering{}, err
	}
	for _, o := range offerings {
		if o.ServiceCode == service {
			return o, nil
		}
	}
	return Offering{}, fmt.Errorf("%w: %s/%s", ErrServiceNotFound, providerID, service)
}

// collapse keeps the cheapest pool per service and counts pools. Entries
// without a pool pass through unchanged.
func collapse(providerID string, raw []provider.RawOffering) []Offering {
	byService := make(map[string]*Offering)
	var order []string

	for _, e := range raw {
		cur, ok := byService[e.ServiceCode]
		if !ok {
			o := Offering{
				ProviderID:   providerID,
				ServiceCode:  e.ServiceCode,
				DisplayName:  e.DisplayName,
				CountryCode:  e.CountryCode,
				BasePrice:    e.Price,
				Currency:     e.Currency,
				Availability: e.Available,
			}
			if e.Pool != "" {
				o.PoolCount = 1
			}
			byService[e.ServiceCode] = &o
			order = append(order, e.ServiceCode)
			continue
		}
		if e.Pool != "" {
			cur.PoolCount++
		}
		if e.Price.LessThan(cur.BasePrice) {
			cur.BasePrice = e.Price
			cur.Availability = e.Available
			if e.DisplayName != "" {
				cur.DisplayName = e.DisplayName
			}
		}
	}

	sort.Strings(order)
	out := make([]Offering, 0, len(order))
	for _, code := range order {
		out = append(out, *byService[code])
	}
	return out
}

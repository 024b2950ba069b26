package provider

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Scope classifies how much of the world a provider can serve.
type Scope string

const (
	ScopeUSOnly Scope = "US_ONLY"
	ScopeGlobal Scope = "GLOBAL"
)

var (
	// ErrNoNumbers is returned when the upstream has no number in stock for
	// the requested service/country.
	ErrNoNumbers = errors.New("no numbers available")
	// ErrRefNotFound is returned when an activation handle is unknown upstream.
	ErrRefNotFound = errors.New("activation not found")
)

// Country is one entry of an aggregator's country list.
type Country struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// RawOffering is a single service entry as reported by an upstream catalog,
// before pool collapsing. Pool is non-empty for aggregators that price the
// same service out of several sub-pools.
type RawOffering struct {
	ServiceCode string
	DisplayName string
	CountryCode string
	Price       decimal.Decimal
	Currency    string
	Available   int
	Pool        string
}

// AddOns are the optional purchase refinements a provider may honor at
// assignment time. Only the US-only provider accepts any of them.
type AddOns struct {
	Carrier         string   `json:"carrier,omitempty"`
	AreaCodes       []string `json:"area_codes,omitempty"`
	PreferredNumber string   `json:"preferred_number,omitempty"`
}

// Empty reports whether no add-on category is selected.
func (a AddOns) Empty() bool {
	return a.Carrier == "" && len(a.AreaCodes) == 0 && a.PreferredNumber == ""
}

// Assignment is the result of renting a number upstream.
type Assignment struct {
	PhoneNumber string // E.164
	Ref         string // provider-side activation handle
}

// Adapter is the capability interface every upstream numbering provider
// implements. CheckDelivery is read-only and safe to repeat; ReleaseNumber is
// best-effort.
type Adapter interface {
	ID() string
	ListCountries(ctx context.Context) ([]Country, error)
	ListServices(ctx context.Context, country string) ([]RawOffering, error)
	AssignNumber(ctx context.Context, service, country string, addOns AddOns) (*Assignment, error)
	// CheckDelivery returns the delivered code, or "" when none has arrived yet.
	CheckDelivery(ctx context.Context, ref string) (string, error)
	ReleaseNumber(ctx context.Context, ref string) error
}

// Package pricing turns a normalized catalog offering plus optional add-ons
// into a single chargeable amount in the user's settlement currency. Quotes
// are deterministic: the same inputs always produce the same total, because
// the UI re-quotes on every selection change.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/numlease/numlease/internal/catalog"
	"github.com/numlease/numlease/internal/provider"
)

var (
	// ErrAddOnUnavailable is returned when an add-on is selected against a
	// provider that does not sell them. Add-ons are never silently charged.
	ErrAddOnUnavailable = errors.New("add-ons are only available for US numbers")
	// ErrUnsupportedCurrency is returned for settlement currencies outside
	// NGN/USD.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// Params are the admin-owned pricing constants, re-read on every quote.
type Params struct {
	MarkupPercent    int64 // provider markup on the raw catalog price
	SurchargePercent int64 // per add-on category, observed 35
	NGNPerUSD        int64 // fixed conversion constant, no live FX
}

// SurchargeLine is one human-readable component of a quote.
type SurchargeLine struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// Quote is a derived price breakdown. Invariant: TotalAmount equals
// BaseAmount plus the sum of all surcharge lines.
type Quote struct {
	BaseAmount  decimal.Decimal `json:"base_amount"`
	Surcharges  []SurchargeLine `json:"surcharge_lines,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
}

// Compute prices an offering for the given settlement currency. scope is the
// offering provider's scope; add-ons are rejected outside US_ONLY.
func Compute(offering catalog.Offering, scope provider.Scope, addOns provider.AddOns, settlement string, p Params) (*Quote, error) {
	if settlement != "NGN" && settlement != "USD" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, settlement)
	}
	if scope != provider.ScopeUSOnly && !addOns.Empty() {
		return nil, ErrAddOnUnavailable
	}

	markup := decimal.NewFromInt(100 + p.MarkupPercent).Div(decimal.NewFromInt(100))
	base, err := convert(offering.BasePrice.Mul(markup), offering.Currency, settlement, p.NGNPerUSD)
	if err != nil {
		return nil, err
	}
	base = base.Round(2)

	q := &Quote{
		BaseAmount:  base,
		TotalAmount: base,
		Currency:    settlement,
	}

	surcharge := base.Mul(decimal.NewFromInt(p.SurchargePercent)).Div(decimal.NewFromInt(100)).Round(2)
	addLine := func(label string) {
		q.Surcharges = append(q.Surcharges, SurchargeLine{Label: label, Amount: surcharge})
		q.TotalAmount = q.TotalAmount.Add(surcharge)
	}
	// One line per selected category, regardless of how many values it holds.
	if addOns.Carrier != "" {
		addLine("Carrier selection")
	}
	if len(addOns.AreaCodes) > 0 {
		addLine("Area codes")
	}
	if addOns.PreferredNumber != "" {
		addLine("Preferred number")
	}

	return q, nil
}

func convert(amount decimal.Decimal, from, to string, ngnPerUSD int64) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	rate := decimal.NewFromInt(ngnPerUSD)
	switch {
	case from == "USD" && to == "NGN":
		return amount.Mul(rate), nil
	case from == "NGN" && to == "USD":
		return amount.DivRound(rate, 4), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: %s to %s", ErrUnsupportedCurrency, from, to)
	}
}

// MinorUnits converts a 2dp decimal amount to integer minor units (kobo,
// cents) for the ledger.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

// FromMinorUnits converts ledger minor units back to a decimal amount.
func FromMinorUnits(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Shift(-2)
}

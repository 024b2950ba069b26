package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const fivesimDefaultBaseURL = "https://5sim.net"

// FiveSim rents numbers worldwide through the 5sim v1 API. Prices come back
// per operator; each operator is surfaced as a pool entry.
type FiveSim struct {
	apiKey  string
	baseURL string
	client  http.Client
}

// NewFiveSim creates a FiveSim adapter. If baseURL is empty, the production
// API is used.
func NewFiveSim(apiKey, baseURL string) *FiveSim {
	if baseURL == "" {
		baseURL = fivesimDefaultBaseURL
	}
	return &FiveSim{apiKey: apiKey, baseURL: baseURL}
}

func (p *FiveSim) ID() string { return "fivesim" }

func (p *FiveSim) ListCountries(ctx context.Context) ([]Country, error) {
	body, err := p.get(ctx, "/v1/guest/countries")
	if err != nil {
		return nil, err
	}

	var parsed map[string]struct {
		ISO  map[string]int `json:"iso"`
		Text string         `json:"text_en"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("fivesim: parse country list: %w", err)
	}

	countries := make([]Country, 0, len(parsed))
	for name, c := range parsed {
		code := name
		for iso := range c.ISO {
			code = strings.ToUpper(iso)
			break
		}
		display := c.Text
		if display == "" {
			display = name
		}
		countries = append(countries, Country{Code: code, Name: display})
	}
	// Map iteration order is random; keep the listing stable.
	sort.Slice(countries, func(i, j int) bool { return countries[i].Code < countries[j].Code })
	return countries, nil
}

func (p *FiveSim) ListServices(ctx context.Context, country string) ([]RawOffering, error) {
	body, err := p.get(ctx, "/v1/guest/prices?country="+strings.ToLower(country))
	if err != nil {
		return nil, err
	}

	// Shape: {country: {product: {operator: {cost, count}}}}
	var parsed map[string]map[string]map[string]struct {
		Cost  decimal.Decimal `json:"cost"`
		Count int             `json:"count"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("fivesim: parse prices: %w", err)
	}

	var offerings []RawOffering
	for _, products := range parsed {
		for product, operators := range products {
			for operator, entry := range operators {
				offerings = append(offerings, RawOffering{
					ServiceCode: product,
					DisplayName: product,
					CountryCode: country,
					Price:       entry.Cost,
					Currency:    "USD",
					Available:   entry.Count,
					Pool:        operator,
				})
			}
		}
	}
	sort.Slice(offerings, func(i, j int) bool {
		if offerings[i].ServiceCode != offerings[j].ServiceCode {
			return offerings[i].ServiceCode < offerings[j].ServiceCode
		}
		return offerings[i].Pool < offerings[j].Pool
	})
	return offerings, nil
}

func (p *FiveSim) AssignNumber(ctx context.Context, service, country string, addOns AddOns) (*Assignment, error) {
	if !addOns.Empty() {
		return nil, fmt.Errorf("fivesim: add-ons not supported")
	}

	path := fmt.Sprintf("/v1/user/buy/activation/%s/any/%s", strings.ToLower(country), service)
	body, err := p.get(ctx, path)
	if err != nil {
		if strings.Contains(err.Error(), "no free phones") {
			return nil, fmt.Errorf("fivesim: %w", ErrNoNumbers)
		}
		return nil, err
	}

	var parsed struct {
		ID    int64  `json:"id"`
		Phone string `json:"phone"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("fivesim: parse buy response: %w", err)
	}
	return &Assignment{PhoneNumber: parsed.Phone, Ref: fmt.Sprintf("%d", parsed.ID)}, nil
}

func (p *FiveSim) CheckDelivery(ctx context.Context, ref string) (string, error) {
	body, err := p.get(ctx, "/v1/user/check/"+ref)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Status string `json:"status"`
		SMS    []struct {
			Code string `json:"code"`
		} `json:"sms"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("fivesim: parse check response: %w", err)
	}

	if len(parsed.SMS) > 0 && parsed.SMS[0].Code != "" {
		return parsed.SMS[0].Code, nil
	}
	return "", nil
}

func (p *FiveSim) ReleaseNumber(ctx context.Context, ref string) error {
	_, err := p.get(ctx, "/v1/user/cancel/"+ref)
	return err
}

func (p *FiveSim) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("fivesim: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fivesim: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fivesim: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fivesim: error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

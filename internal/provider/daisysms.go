package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const daisyDefaultBaseURL = "https://daisysms.com"

// DaisySMS rents US numbers via the DaisySMS handler API. It is the only
// provider that honors carrier, area-code, and preferred-number add-ons.
// Catalog and delivery calls use the provider's text protocol; pricing is
// fetched as JSON.
type DaisySMS struct {
	apiKey  string
	baseURL string
	client  http.Client
}

// NewDaisySMS creates a DaisySMS adapter. If baseURL is empty, the production
// API is used (useful for tests that pass an httptest server URL).
func NewDaisySMS(apiKey, baseURL string) *DaisySMS {
	if baseURL == "" {
		baseURL = daisyDefaultBaseURL
	}
	return &DaisySMS{apiKey: apiKey, baseURL: baseURL}
}

func (p *DaisySMS) ID() string { return "daisysms" }

// ListCountries returns the fixed single-country list; DaisySMS serves US
// numbers only.
func (p *DaisySMS) ListCountries(ctx context.Context) ([]Country, error) {
	return []Country{{Code: "US", Name: "United States"}}, nil
}

// ListServices fetches the verification price list. The country argument is
// ignored; every offering is US.
func (p *DaisySMS) ListServices(ctx context.Context, country string) ([]RawOffering, error) {
	body, err := p.call(ctx, url.Values{"action": {"getPricesVerification"}})
	if err != nil {
		return nil, err
	}

	var parsed map[string]struct {
		Name  string          `json:"name"`
		Price decimal.Decimal `json:"price"`
		Count int             `json:"count"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("daisysms: parse price list: %w", err)
	}

	offerings := make([]RawOffering, 0, len(parsed))
	for code, svc := range parsed {
		name := svc.Name
		if name == "" {
			name = code
		}
		offerings = append(offerings, RawOffering{
			ServiceCode: code,
			DisplayName: name,
			CountryCode: "US",
			Price:       svc.Price,
			Currency:    "USD",
			Available:   svc.Count,
		})
	}
	// Map iteration order is random; the catalog contract is stable output.
	sort.Slice(offerings, func(i, j int) bool { return offerings[i].ServiceCode < offerings[j].ServiceCode })
	return offerings, nil
}

func (p *DaisySMS) AssignNumber(ctx context.Context, service, country string, addOns AddOns) (*Assignment, error) {
	params := url.Values{
		"action":  {"getNumber"},
		"service": {service},
	}
	if addOns.Carrier != "" {
		params.Set("carriers", addOns.Carrier)
	}
	if len(addOns.AreaCodes) > 0 {
		params.Set("areas", strings.Join(addOns.AreaCodes, ","))
	}
	if addOns.PreferredNumber != "" {
		params.Set("number", addOns.PreferredNumber)
	}

	body, err := p.call(ctx, params)
	if err != nil {
		return nil, err
	}

	// Success shape: ACCESS_NUMBER:<id>:<phone>
	reply := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(reply, "ACCESS_NUMBER:"):
		parts := strings.SplitN(reply, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("daisysms: malformed getNumber reply %q", reply)
		}
		phone := parts[2]
		if !strings.HasPrefix(phone, "+") {
			phone = "+" + phone
		}
		return &Assignment{PhoneNumber: phone, Ref: parts[1]}, nil
	case reply == "NO_NUMBERS":
		return nil, fmt.Errorf("daisysms: %w", ErrNoNumbers)
	default:
		return nil, fmt.Errorf("daisysms: getNumber failed: %s", reply)
	}
}

func (p *DaisySMS) CheckDelivery(ctx context.Context, ref string) (string, error) {
	body, err := p.call(ctx, url.Values{"action": {"getStatus"}, "id": {ref}})
	if err != nil {
		return "", err
	}

	reply := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(reply, "STATUS_OK:"):
		return strings.TrimPrefix(reply, "STATUS_OK:"), nil
	case reply == "STATUS_WAIT_CODE":
		return "", nil
	case reply == "NO_ACTIVATION":
		return "", fmt.Errorf("daisysms: %w", ErrRefNotFound)
	default:
		return "", fmt.Errorf("daisysms: getStatus failed: %s", reply)
	}
}

func (p *DaisySMS) ReleaseNumber(ctx context.Context, ref string) error {
	// Status 8 marks the activation cancelled.
	body, err := p.call(ctx, url.Values{"action": {"setStatus"}, "id": {ref}, "status": {"8"}})
	if err != nil {
		return err
	}
	reply := strings.TrimSpace(string(body))
	if reply != "ACCESS_CANCEL" {
		return fmt.Errorf("daisysms: setStatus failed: %s", reply)
	}
	return nil
}

func (p *DaisySMS) call(ctx context.Context, params url.Values) ([]byte, error) {
	params.Set("api_key", p.apiKey)
	endpoint := fmt.Sprintf("%s/stubs/handler_api.php?%s", p.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("daisysms: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daisysms: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("daisysms: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("daisysms: error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

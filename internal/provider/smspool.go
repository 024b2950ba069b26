package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const smspoolDefaultBaseURL = "https://api.smspool.net"

// SMSPool rents numbers worldwide. The same service is often stocked in
// several sub-pools at different prices; ListServices returns one entry per
// pool and leaves collapsing to the caller.
type SMSPool struct {
	apiKey  string
	baseURL string
	client  http.Client
}

// NewSMSPool creates an SMSPool adapter. If baseURL is empty, the production
// API is used.
func NewSMSPool(apiKey, baseURL string) *SMSPool {
	if baseURL == "" {
		baseURL = smspoolDefaultBaseURL
	}
	return &SMSPool{apiKey: apiKey, baseURL: baseURL}
}

func (p *SMSPool) ID() string { return "smspool" }

func (p *SMSPool) ListCountries(ctx context.Context) ([]Country, error) {
	body, err := p.post(ctx, "/country/retrieve_all", url.Values{})
	if err != nil {
		return nil, err
	}

	var parsed []struct {
		ShortName string `json:"short_name"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("smspool: parse country list: %w", err)
	}

	countries := make([]Country, 0, len(parsed))
	for _, c := range parsed {
		countries = append(countries, Country{Code: c.ShortName, Name: c.Name})
	}
	return countries, nil
}

func (p *SMSPool) ListServices(ctx context.Context, country string) ([]RawOffering, error) {
	body, err := p.post(ctx, "/request/pricing", url.Values{"country": {country}})
	if err != nil {
		return nil, err
	}

	var parsed []struct {
		Service string          `json:"service"`
		Name    string          `json:"name"`
		Pool    int             `json:"pool"`
		Price   decimal.Decimal `json:"price"`
		Amount  int             `json:"amount"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("smspool: parse pricing: %w", err)
	}

	offerings := make([]RawOffering, 0, len(parsed))
	for _, e := range parsed {
		offerings = append(offerings, RawOffering{
			ServiceCode: e.Service,
			DisplayName: e.Name,
			CountryCode: country,
			Price:       e.Price,
			Currency:    "USD",
			Available:   e.Amount,
			Pool:        strconv.Itoa(e.Pool),
		})
	}
	return offerings, nil
}

func (p *SMSPool) AssignNumber(ctx context.Context, service, country string, addOns AddOns) (*Assignment, error) {
	if !addOns.Empty() {
		return nil, fmt.Errorf("smspool: add-ons not supported")
	}

	body, err := p.post(ctx, "/purchase/sms", url.Values{
		"country": {country},
		"service": {service},
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Success     int    `json:"success"`
		OrderID     string `json:"order_id"`
		PhoneNumber string `json:"phonenumber"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("smspool: parse purchase response: %w", err)
	}
	if parsed.Success != 1 {
		if strings.Contains(strings.ToLower(parsed.Message), "no numbers") {
			return nil, fmt.Errorf("smspool: %w", ErrNoNumbers)
		}
		return nil, fmt.Errorf("smspool: purchase failed: %s", parsed.Message)
	}

	phone := parsed.PhoneNumber
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return &Assignment{PhoneNumber: phone, Ref: parsed.OrderID}, nil
}

func (p *SMSPool) CheckDelivery(ctx context.Context, ref string) (string, error) {
	body, err := p.post(ctx, "/sms/check", url.Values{"orderid": {ref}})
	if err != nil {
		return "", err
	}

	var parsed struct {
		Status int    `json:"status"`
		SMS    string `json:"sms"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("smspool: parse check response: %w", err)
	}

	// Status 3 = delivered; 1 = pending; 6 = refunded/cancelled upstream.
	switch parsed.Status {
	case 3:
		return parsed.SMS, nil
	case 1:
		return "", nil
	default:
		return "", nil
	}
}

func (p *SMSPool) ReleaseNumber(ctx context.Context, ref string) error {
	body, err := p.post(ctx, "/sms/cancel", url.Values{"orderid": {ref}})
	if err != nil {
		return err
	}

	var parsed struct {
		Success int    `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("smspool: parse cancel response: %w", err)
	}
	if parsed.Success != 1 {
		return fmt.Errorf("smspool: cancel failed: %s", parsed.Message)
	}
	return nil
}

func (p *SMSPool) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	form.Set("key", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("smspool: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("smspool: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("smspool: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("smspool: error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

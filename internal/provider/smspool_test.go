package provider_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numlease/numlease/internal/provider"
)

func TestSMSPoolListCountries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/country/retrieve_all", r.URL.Path)
		assert.Equal(t, "key", r.FormValue("key"))

		w.Write([]byte(`[{"short_name":"GB","name":"United Kingdom"},{"short_name":"NG","name":"Nigeria"}]`))
	}))
	defer srv.Close()

	p := provider.NewSMSPool("key", srv.URL)
	countries, err := p.ListCountries(context.Background())
	require.NoError(t, err)
	require.Len(t, countries, 2)
	assert.Equal(t, "GB", countries[0].Code)
	assert.Equal(t, "Nigeria", countries[1].Name)
}

func TestSMSPoolListServicesKeepsPools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/request/pricing", r.URL.Path)
		assert.Equal(t, "GB", r.FormValue("country"))

		w.Write([]byte(`[
			{"service":"whatsapp","name":"WhatsApp","pool":1,"price":"0.45","amount":15},
			{"service":"whatsapp","name":"WhatsApp","pool":4,"price":"0.38","amount":7}
		]`))
	}))
	defer srv.Close()

	p := provider.NewSMSPool("key", srv.URL)
	offerings, err := p.ListServices(context.Background(), "GB")
	require.NoError(t, err)
	require.Len(t, offerings, 2)
	assert.Equal(t, "1", offerings[0].Pool)
	assert.Equal(t, "4", offerings[1].Pool)
	assert.True(t, offerings[1].Price.Equal(decimal.RequireFromString("0.38")))
	assert.Equal(t, "GB", offerings[0].CountryCode)
}

func TestSMSPoolAssignNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/purchase/sms", r.URL.Path)
		assert.Equal(t, "GB", r.FormValue("country"))
		assert.Equal(t, "whatsapp", r.FormValue("service"))

		w.Write([]byte(`{"success":1,"order_id":"ABC123","phonenumber":"447700900123"}`))
	}))
	defer srv.Close()

	p := provider.NewSMSPool("key", srv.URL)
	a, err := p.AssignNumber(context.Background(), "whatsapp", "GB", provider.AddOns{})
	require.NoError(t, err)
	assert.Equal(t, "+447700900123", a.PhoneNumber)
	assert.Equal(t, "ABC123", a.Ref)
}

func TestSMSPoolAssignNumberNoStock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":0,"message":"No numbers available for this pool."}`))
	}))
	defer srv.Close()

	p := provider.NewSMSPool("key", srv.URL)
	_, err := p.AssignNumber(context.Background(), "whatsapp", "GB", provider.AddOns{})
	assert.ErrorIs(t, err, provider.ErrNoNumbers)
}

func TestSMSPoolAssignNumberRejectsAddOns(t *testing.T) {
	p := provider.NewSMSPool("key", "")
	_, err := p.AssignNumber(context.Background(), "whatsapp", "GB", provider.AddOns{Carrier: "tmo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add-ons not supported")
}

func TestSMSPoolCheckDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sms/check", r.URL.Path)
		assert.Equal(t, "ABC123", r.FormValue("orderid"))
		w.Write([]byte(`{"status":3,"sms":"771204"}`))
	}))
	defer srv.Close()

	p := provider.NewSMSPool("key", srv.URL)
	code, err := p.CheckDelivery(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "771204", code)
}

func TestSMSPoolCheckDeliveryPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":1}`))
	}))
	defer srv.Close()

	p := provider.NewSMSPool("key", srv.URL)
	code, err := p.CheckDelivery(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "", code)
}

func TestSMSPoolReleaseNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sms/cancel", r.URL.Path)
		w.Write([]byte(`{"success":1}`))
	}))
	defer srv.Close()

	p := provider.NewSMSPool("key", srv.URL)
	require.NoError(t, p.ReleaseNumber(context.Background(), "ABC123"))
}

func TestSMSPoolHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>Bad Gateway</html>`))
	}))
	defer srv.Close()

	p := provider.NewSMSPool("key", srv.URL)
	_, err := p.ListServices(context.Background(), "GB")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smspool: error 502")
}

func TestSMSPoolNetworkError(t *testing.T) {
	p := provider.NewSMSPool("key", "http://127.0.0.1:1")
	_, err := p.ListCountries(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smspool: send request:")
}

func TestSMSPoolImplementsInterface(t *testing.T) {
	var _ provider.Adapter = (*provider.SMSPool)(nil)
}

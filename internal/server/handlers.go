package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/numlease/numlease/internal/catalog"
	"github.com/numlease/numlease/internal/httputil"
	"github.com/numlease/numlease/internal/order"
	"github.com/numlease/numlease/internal/pricing"
	"github.com/numlease/numlease/internal/provider"
)

// quoteRequest is shared by /quote and /purchase.
type quoteRequest struct {
	Provider string          `json:"provider"`
	Service  string          `json:"service"`
	Country  string          `json:"country"`
	Currency string          `json:"currency"`
	AddOns   provider.AddOns `json:"add_ons"`
}

type purchaseRequest struct {
	quoteRequest
	ExpectedTotal decimal.Decimal `json:"expected_total"`
}

func (q *quoteRequest) validate(w http.ResponseWriter) bool {
	switch {
	case q.Provider == "":
		httputil.WriteError(w, http.StatusBadRequest, "provider is required")
	case q.Service == "":
		httputil.WriteError(w, http.StatusBadRequest, "service is required")
	case q.Currency != "NGN" && q.Currency != "USD":
		httputil.WriteError(w, http.StatusBadRequest, "currency must be NGN or USD")
	default:
		return true
	}
	return false
}

func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	providerID := r.URL.Query().Get("provider")
	if providerID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "provider is required")
		return
	}

	countries, err := s.resolver.Countries(r.Context(), providerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"countries": countries})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	providerID := r.URL.Query().Get("provider")
	if providerID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "provider is required")
		return
	}

	offerings, err := s.resolver.Offerings(r.Context(), providerID, r.URL.Query().Get("country"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"offerings": offerings})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if !req.validate(w) {
		return
	}

	quote, err := s.orders.Quote(r.Context(), req.Provider, req.Service, req.Country, req.Currency, req.AddOns)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, quote)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if !req.validate(w) {
		return
	}

	o, err := s.orders.Purchase(r.Context(), userFromContext(r.Context()), order.PurchaseRequest{
		ProviderID:    req.Provider,
		ServiceCode:   req.Service,
		CountryCode:   req.Country,
		Currency:      req.Currency,
		AddOns:        req.AddOns,
		ExpectedTotal: req.ExpectedTotal,
	})
	if err != nil {
		purchaseFailures.WithLabelValues(failureReason(err)).Inc()
		s.writeDomainError(w, err)
		return
	}

	ordersCreated.WithLabelValues(o.ProviderID).Inc()
	httputil.WriteJSON(w, http.StatusCreated, o)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	list, err := s.orders.Orders(r.Context(), userFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []order.Order{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !httputil.IsValidUUID(id) {
		httputil.WriteError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := s.orders.Get(r.Context(), userFromContext(r.Context()), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !httputil.IsValidUUID(id) {
		httputil.WriteError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := s.orders.Cancel(r.Context(), userFromContext(r.Context()), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	ordersCancelled.Inc()
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	balances, err := s.orders.Balances(r.Context(), userFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	out := make(map[string]string, len(balances))
	for currency, amount := range balances {
		out[currency] = pricing.FromMinorUnits(amount).StringFixed(2)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"balances": out})
}

// writeDomainError maps domain sentinels to HTTP statuses. Every failure
// carries its specific reason; the same message doubles as user-facing
// guidance.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provider.ErrUnknownProvider),
		errors.Is(err, catalog.ErrServiceNotFound),
		errors.Is(err, order.ErrOrderNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pricing.ErrAddOnUnavailable),
		errors.Is(err, pricing.ErrUnsupportedCurrency):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrInsufficientBalance):
		httputil.WriteError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, order.ErrCatalogMismatch),
		errors.Is(err, order.ErrNotCancellable):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, catalog.ErrCatalogUnavailable),
		errors.Is(err, order.ErrAssignmentFailed):
		httputil.WriteError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, order.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, order.ErrCatalogMismatch):
		return "catalog_mismatch"
	case errors.Is(err, order.ErrAssignmentFailed):
		return "assignment_failed"
	case errors.Is(err, catalog.ErrCatalogUnavailable):
		return "catalog_unavailable"
	default:
		return "other"
	}
}

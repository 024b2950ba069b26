// Package poller drives the two background sweeps: asking providers whether
// a code has arrived for each ACTIVE order, and force-expiring orders past
// their hard lifetime. Both are ticker loops with context cancellation; a
// tick with no ACTIVE orders makes no upstream calls.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/numlease/numlease/internal/order"
	"github.com/numlease/numlease/internal/provider"
)

var (
	pollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "numlease_poll_cycles_total",
		Help: "Delivery poll sweeps executed.",
	})
	deliveryChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "numlease_delivery_checks_total",
		Help: "Per-provider delivery checks, by outcome.",
	}, []string{"provider", "outcome"})
	ordersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "numlease_orders_expired_total",
		Help: "Orders force-expired and refunded by the sweep.",
	})
)

// Config holds the poller cadence.
type Config struct {
	DeliveryInterval time.Duration
	ExpiryInterval   time.Duration
}

// Poller runs the delivery and expiry sweeps until stopped.
type Poller struct {
	svc      *order.Service
	registry *provider.Registry
	logger   *slog.Logger
	cfg      Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Poller over the order service.
func New(svc *order.Service, registry *provider.Registry, logger *slog.Logger, cfg Config) *Poller {
	return &Poller{svc: svc, registry: registry, logger: logger, cfg: cfg}
}

// Start launches the sweep goroutines.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(2)
	go p.deliveryLoop(ctx)
	go p.expiryLoop(ctx)

	p.logger.Info("poller started",
		"delivery_interval", p.cfg.DeliveryInterval,
		"expiry_interval", p.cfg.ExpiryInterval,
	)
}

// Stop signals the loops to stop and waits for in-progress sweeps to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("poller stopped")
}

func (p *Poller) deliveryLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.DeliveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.SweepDeliveries(ctx)
		}
	}
}

func (p *Poller) expiryLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := p.svc.ExpireDue(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Error("expiry sweep failed", "error", err)
				continue
			}
			ordersExpired.Add(float64(expired))
		}
	}
}

// SweepDeliveries checks every ACTIVE order once. Exported so tests can run
// a sweep synchronously instead of waiting on the ticker.
func (p *Poller) SweepDeliveries(ctx context.Context) {
	pollCycles.Inc()

	active, err := p.svc.ActiveOrders(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Error("listing active orders failed", "error", err)
		return
	}
	if len(active) == 0 {
		return
	}

	for i := range active {
		o := &active[i]
		info, err := p.registry.Get(o.ProviderID)
		if err != nil {
			p.logger.Error("active order references unknown provider",
				"order", o.ID, "provider", o.ProviderID)
			continue
		}

		code, err := p.checkDelivery(ctx, info, o.ProviderRef)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient read; the next tick retries.
			deliveryChecks.WithLabelValues(o.ProviderID, "error").Inc()
			p.logger.Warn("delivery check failed", "order", o.ID, "provider", o.ProviderID, "error", err)
			continue
		}
		if code == "" {
			deliveryChecks.WithLabelValues(o.ProviderID, "pending").Inc()
			continue
		}

		deliveryChecks.WithLabelValues(o.ProviderID, "delivered").Inc()
		won, err := p.svc.RecordDelivery(ctx, o.ID, code)
		if err != nil {
			p.logger.Error("recording delivery failed", "order", o.ID, "error", err)
			continue
		}
		if !won {
			// Cancel or expiry reached the order first; its refund stands.
			p.logger.Info("delivery arrived after terminal transition", "order", o.ID)
		}
	}
}

func (p *Poller) checkDelivery(ctx context.Context, info provider.Info, ref string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return info.Adapter.CheckDelivery(callCtx, ref)
}

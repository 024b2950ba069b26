package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "numlease_orders_created_total",
		Help: "Orders successfully created, by provider.",
	}, []string{"provider"})
	ordersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "numlease_orders_cancelled_total",
		Help: "Orders voluntarily cancelled and refunded.",
	})
	purchaseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "numlease_purchase_failures_total",
		Help: "Failed purchase attempts, by reason.",
	}, []string{"reason"})
)

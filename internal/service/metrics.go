package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the engine's operational counters.
type Metrics struct {
	OrdersPlaced       prometheus.Counter
	OrdersCanceled     prometheus.Counter
	OrdersExpired      prometheus.Counter
	ExpirationFailures prometheus.Counter
	Fills              prometheus.Counter
	SettlementBatches  prometheus.Counter
	MatchDuration      prometheus.Histogram
	OpenBooks          prometheus.Gauge
}

// NewMetrics registers the engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexbook", Name: "orders_placed_total",
			Help: "Limit orders accepted into a book.",
		}),
		OrdersCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexbook", Name: "orders_canceled_total",
			Help: "Limit orders canceled by their owner or by book deletion.",
		}),
		OrdersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexbook", Name: "orders_expired_total",
			Help: "Limit orders canceled by the expiration scheduler.",
		}),
		ExpirationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexbook", Name: "expiration_failures_total",
			Help: "Expirations whose cancellation path failed.",
		}),
		Fills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexbook", Name: "fills_total",
			Help: "Maker orders fully or partially filled by matching.",
		}),
		SettlementBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dexbook", Name: "settlement_batches_total",
			Help: "Payment batches executed against the asset ledger.",
		}),
		MatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dexbook", Name: "match_duration_seconds",
			Help:    "Latency of one matching pass.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		OpenBooks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dexbook", Name: "open_order_books",
			Help: "Order books currently registered.",
		}),
	}
	reg.MustRegister(
		m.OrdersPlaced, m.OrdersCanceled, m.OrdersExpired, m.ExpirationFailures,
		m.Fills, m.SettlementBatches, m.MatchDuration, m.OpenBooks,
	)
	return m
}

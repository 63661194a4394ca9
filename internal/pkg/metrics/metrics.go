package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "astervol_orders_total",
		Help: "Market orders submitted, by outcome",
	}, []string{"account", "side", "position_side", "status"})

	ExchangeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "astervol_exchange_latency_seconds",
		Help:    "Exchange REST call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	ExchangeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "astervol_exchange_errors_total",
		Help: "Failed exchange calls",
	}, []string{"endpoint", "kind"})

	VolumeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "astervol_volume_usdt_total",
		Help: "Notional volume generated since start",
	})

	FeesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "astervol_fees_usdt_total",
		Help: "Commissions paid since start",
	})

	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "astervol_cycles_total",
		Help: "Pair cycles by result",
	}, []string{"status"})

	ReconcileActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "astervol_reconcile_actions_total",
		Help: "Reconciler outcomes per leg",
	}, []string{"action"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "astervol_http_request_seconds",
		Help:    "Status server request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)

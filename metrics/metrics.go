// Package metrics exposes Prometheus counters and gauges for the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "polygraalx_ticks_total", Help: "Engine ticks processed"},
	)
	SamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "polygraalx_samples_total", Help: "Price samples applied to windows"},
		[]string{"asset"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "polygraalx_signals_total", Help: "Signals emitted"},
		[]string{"asset", "kind"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "polygraalx_orders_total", Help: "Orders sent to the gateway"},
		[]string{"asset", "action", "outcome"},
	)
	ZScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "polygraalx_zscore", Help: "Latest z-score per asset"},
		[]string{"asset"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "polygraalx_open_positions", Help: "Currently open positions"},
	)
	Balance = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "polygraalx_balance_usdc", Help: "Ledger balance in USDC"},
	)
	TotalPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "polygraalx_pnl_usdc", Help: "Cumulative realized pnl in USDC"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, SamplesTotal, SignalsTotal, OrdersTotal,
		ZScore, OpenPositions, Balance, TotalPnL,
	)
}

// Serve starts the metrics endpoint and returns the server for shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Package metrics
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairscope_ticks_ingested_total", Help: "Normalized ticks accepted per instrument"},
		[]string{"instrument"},
	)
	TicksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairscope_ticks_dropped_total", Help: "Ticks dropped at ingestion, by reason"},
		[]string{"instrument", "reason"},
	)
	BarsSealed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pairscope_bars_sealed_total", Help: "Sealed bars per instrument and interval"},
		[]string{"instrument", "interval"},
	)
	SnapshotsComputed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pairscope_snapshots_computed_total", Help: "Analytics snapshots computed"},
	)
	AlertsFired = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pairscope_alerts_fired_total", Help: "Z-score alerts fired"},
	)
	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pairscope_feed_reconnects_total", Help: "Websocket feed reconnect attempts"},
	)
)

func init() {
	prometheus.MustRegister(TicksIngested, TicksDropped, BarsSealed, SnapshotsComputed, AlertsFired, FeedReconnects)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Package telemetry exposes Prometheus metrics for probe mode.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pgping/pkg/logger"
)

var (
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgping_probes_total",
			Help: "Connection probes by outcome (ready, or the error kind)",
		},
		[]string{"outcome"},
	)
	HandshakeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgping_handshake_duration_seconds",
			Help:    "Time to reach ready-for-query on successful probes",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
	LastSuccessTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgping_last_success_timestamp_seconds",
			Help: "Unix time of the last successful probe",
		},
	)
)

// Init registers the metrics and starts the /metrics endpoint on addr.
func Init(addr string) {
	prometheus.MustRegister(ProbesTotal)
	prometheus.MustRegister(HandshakeDuration)
	prometheus.MustRegister(LastSuccessTimestamp)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		logger.Info("telemetry listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("telemetry server failed: %v", err)
		}
	}()
}

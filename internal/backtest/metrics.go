package backtest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts finished runs.
	// Labels: mode, strategy, status (ok, error)
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtester",
		Subsystem: "backtest",
		Name:      "runs_total",
		Help:      "Total backtest runs by outcome",
	}, []string{"mode", "strategy", "status"})

	// runDuration measures wall time per run, fetch included.
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "backtester",
		Subsystem: "backtest",
		Name:      "run_duration_seconds",
		Help:      "Backtest run latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"mode", "strategy"})

	runsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "backtester",
		Subsystem: "backtest",
		Name:      "runs_in_flight",
		Help:      "Backtest runs currently executing",
	})
)

func observeRun(res *Result) {
	status := "ok"
	if res.Err != nil {
		status = "error"
	}
	runsTotal.WithLabelValues(string(res.Mode), string(res.Strategy), status).Inc()
	runDuration.WithLabelValues(string(res.Mode), string(res.Strategy)).Observe(res.Elapsed.Seconds())
}

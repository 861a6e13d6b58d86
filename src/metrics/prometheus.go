package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signalbot_signals_emitted_total", Help: "Signals persisted by the signal engine"},
		[]string{"symbol", "timeframe", "side"},
	)
	SignalsSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signalbot_signals_suppressed_total", Help: "generateSignal calls that produced no signal"},
		[]string{"symbol", "timeframe", "reason"},
	)
	OutcomesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signalbot_outcomes_recorded_total", Help: "Signals moved to a terminal status"},
		[]string{"status"},
	)
	RetrainingCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signalbot_retraining_cycles_total", Help: "Retraining cycles by outcome"},
		[]string{"outcome"},
	)
	PromotedModelVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "signalbot_promoted_model_version", Help: "Id of the promoted model version"},
	)
	PromotedModelMetric = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "signalbot_promoted_model_auc", Help: "Holdout AUC recorded for the promoted model"},
	)
	BacktestsRun = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signalbot_backtests_total", Help: "Completed backtest runs"},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(
		SignalsEmitted,
		SignalsSuppressed,
		OutcomesRecorded,
		RetrainingCycles,
		PromotedModelVersion,
		PromotedModelMetric,
		BacktestsRun,
	)
}

func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// Package metrics регистрирует метрики Prometheus движка выдачи доступа.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PanelRequests вызовы панели по операции и исходу.
	PanelRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "provisioner",
		Name:      "panel_requests_total",
		Help:      "Panel API calls by operation and outcome.",
	}, []string{"op", "outcome"})

	// PanelLatency длительность вызовов панели с учётом повторов.
	PanelLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "provisioner",
		Name:      "panel_request_duration_seconds",
		Help:      "Panel API call latency including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	// Grants выдачи доступа по исходу: created, extended, recreated, failed.
	Grants = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "provisioner",
		Name:      "grants_total",
		Help:      "Access grants by outcome.",
	}, []string{"outcome"})

	// PaymentEvents обработанные платёжные события по результату.
	PaymentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "provisioner",
		Name:      "payment_events_total",
		Help:      "Payment notifications by resulting action.",
	}, []string{"action"})

	// SweepRows строки, обработанные сверкой, по виду и исходу.
	SweepRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "provisioner",
		Name:      "sweep_rows_total",
		Help:      "Rows handled by reconciliation sweeps.",
	}, []string{"sweep", "outcome"})
)

// Outcome нормализует ошибку в метку.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

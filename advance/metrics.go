package advance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	advanceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advance_requests_total",
		Help: "ProcessAdvance outcomes by result kind",
	}, []string{"outcome"})

	gatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "advance_gateway_duration_seconds",
		Help:    "Payment gateway transfer latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"result"})

	reconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advance_reconciled_total",
		Help: "Pending advances resolved by reconciliation",
	}, []string{"action"})
)

func outcomeLabel(err error) string {
	if err == nil {
		return string(StatusDisbursed)
	}
	return string(KindOf(err))
}

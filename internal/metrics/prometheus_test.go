package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.OrdersFailed.Inc()
	prom.Metrics.OrdersFilled.Inc()
	prom.Metrics.OrdersCancelled.Inc()
	prom.Metrics.Liquidations.Inc()
	prom.Metrics.EmergencyCloses.Inc()
	prom.Metrics.Withdrawals.Inc()
	prom.Metrics.WithdrawalFailed.Inc()

	assertCounter(t, prom.ordersPlaced, 1)
	assertCounter(t, prom.ordersFailed, 1)
	assertCounter(t, prom.ordersFilled, 1)
	assertCounter(t, prom.ordersCancelled, 1)
	assertCounter(t, prom.liquidations, 1)
	assertCounter(t, prom.emergencyCloses, 1)
	assertCounter(t, prom.withdrawals, 1)
	assertCounter(t, prom.withdrawalFailed, 1)
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

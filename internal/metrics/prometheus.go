package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "lighter_hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry         *prometheus.Registry
	ordersPlaced     prometheus.Counter
	ordersFailed     prometheus.Counter
	ordersFilled     prometheus.Counter
	ordersCancelled  prometheus.Counter
	liquidations     prometheus.Counter
	emergencyCloses  prometheus.Counter
	withdrawals      prometheus.Counter
	withdrawalFailed prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of limit orders placed.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement failures.",
	})
	ordersFilled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_filled_total",
		Help:      "Total number of orders observed fully filled.",
	})
	ordersCancelled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_cancelled_total",
		Help:      "Total number of orders cancelled.",
	})
	liquidations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "liquidations_total",
		Help:      "Total number of wallet liquidations detected.",
	})
	emergencyCloses := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "emergency_closes_total",
		Help:      "Total number of emergency opposite-side closes.",
	})
	withdrawals := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "withdrawals_total",
		Help:      "Total number of confirmed withdrawals.",
	})
	withdrawalFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "withdrawal_failed_total",
		Help:      "Total number of failed withdrawals.",
	})

	registry.MustRegister(ordersPlaced, ordersFailed, ordersFilled, ordersCancelled,
		liquidations, emergencyCloses, withdrawals, withdrawalFailed)

	m := &Metrics{
		OrdersPlaced:     promCounter{ordersPlaced},
		OrdersFailed:     promCounter{ordersFailed},
		OrdersFilled:     promCounter{ordersFilled},
		OrdersCancelled:  promCounter{ordersCancelled},
		Liquidations:     promCounter{liquidations},
		EmergencyCloses:  promCounter{emergencyCloses},
		Withdrawals:      promCounter{withdrawals},
		WithdrawalFailed: promCounter{withdrawalFailed},
	}

	return &Prometheus{
		Metrics:          m,
		registry:         registry,
		ordersPlaced:     ordersPlaced,
		ordersFailed:     ordersFailed,
		ordersFilled:     ordersFilled,
		ordersCancelled:  ordersCancelled,
		liquidations:     liquidations,
		emergencyCloses:  emergencyCloses,
		withdrawals:      withdrawals,
		withdrawalFailed: withdrawalFailed,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

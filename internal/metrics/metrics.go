package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced     Counter
	OrdersFailed     Counter
	OrdersFilled     Counter
	OrdersCancelled  Counter
	Liquidations     Counter
	EmergencyCloses  Counter
	Withdrawals      Counter
	WithdrawalFailed Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:     n,
		OrdersFailed:     n,
		OrdersFilled:     n,
		OrdersCancelled:  n,
		Liquidations:     n,
		EmergencyCloses:  n,
		Withdrawals:      n,
		WithdrawalFailed: n,
	}
}

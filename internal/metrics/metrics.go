package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the raffle engine's prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	TicketsSold     prometheus.Counter
	Purchases       *prometheus.CounterVec
	CoinsSpent      prometheus.Counter
	Draws           *prometheus.CounterVec
	Cancellations   prometheus.Counter
	Refunds         *prometheus.CounterVec
	CoinsRefunded   prometheus.Counter
	RequestDuration *prometheus.HistogramVec
	SchedulerRuns   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicketsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raffle", Name: "tickets_sold_total",
			Help: "Tickets sold across all raffles.",
		}),
		Purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle", Name: "purchases_total",
			Help: "Purchase attempts by result.",
		}, []string{"result"}),
		CoinsSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raffle", Name: "coins_spent_total",
			Help: "Coins debited for tickets.",
		}),
		Draws: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle", Name: "draws_total",
			Help: "Draw invocations by outcome.",
		}, []string{"outcome"}),
		Cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raffle", Name: "cancellations_total",
			Help: "Raffles cancelled by an administrator.",
		}),
		Refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle", Name: "refunds_total",
			Help: "Per-buyer refund credits by result.",
		}, []string{"result"}),
		CoinsRefunded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raffle", Name: "coins_refunded_total",
			Help: "Coins credited back by cancellations.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		SchedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle", Name: "scheduler_runs_total",
			Help: "Scheduler job runs by job and result.",
		}, []string{"job", "result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.TicketsSold, m.Purchases, m.CoinsSpent, m.Draws, m.Cancellations,
			m.Refunds, m.CoinsRefunded, m.RequestDuration, m.SchedulerRuns,
		)
	}
	return m
}

// PurchaseSucceeded records a completed purchase
func (m *Metrics) PurchaseSucceeded(quantity, cost int64) {
	if m == nil {
		return
	}
	m.Purchases.WithLabelValues("ok").Inc()
	m.TicketsSold.Add(float64(quantity))
	m.CoinsSpent.Add(float64(cost))
}

// PurchaseFailed records a rejected or failed purchase
func (m *Metrics) PurchaseFailed(reason string) {
	if m == nil {
		return
	}
	m.Purchases.WithLabelValues(reason).Inc()
}

// DrawFinished records a draw outcome
func (m *Metrics) DrawFinished(outcome string) {
	if m == nil {
		return
	}
	m.Draws.WithLabelValues(outcome).Inc()
}

// RaffleCancelled records a cancellation and its refunds
func (m *Metrics) RaffleCancelled(refunded, failed int, coins int64) {
	if m == nil {
		return
	}
	m.Cancellations.Inc()
	m.Refunds.WithLabelValues("ok").Add(float64(refunded))
	m.Refunds.WithLabelValues("failed").Add(float64(failed))
	m.CoinsRefunded.Add(float64(coins))
}

// SchedulerRun records one scheduler job execution
func (m *Metrics) SchedulerRun(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SchedulerRuns.WithLabelValues(job, result).Inc()
}

// ObserveRequest records the latency of one HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

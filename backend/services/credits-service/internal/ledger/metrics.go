package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger collectors. A nil *Metrics records nothing.
type Metrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	credits     *prometheus.CounterVec
	forfeited   prometheus.Counter
	resets      prometheus.Counter
	adjustments *prometheus.CounterVec
	reconciles  *prometheus.CounterVec
	sweeps      prometheus.Counter
}

// NewMetrics registers the ledger collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credits",
			Name:      "operations_total",
			Help:      "Ledger operations by outcome reason.",
		}, []string{"operation", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "credits",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		credits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credits",
			Name:      "reserved_credits_total",
			Help:      "Credits placed on hold, by pool.",
		}, []string{"pool"}),
		forfeited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "credits",
			Name:      "bonus_forfeited_total",
			Help:      "Bonus credits forfeited by the rollover cap.",
		}),
		resets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "credits",
			Name:      "cycle_resets_total",
			Help:      "Billing cycle resets applied.",
		}),
		adjustments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credits",
			Name:      "admin_adjustments_total",
			Help:      "Admin bonus adjustments by direction.",
		}, []string{"direction"}),
		reconciles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credits",
			Name:      "reconciliations_total",
			Help:      "Reconciliations by corrective action.",
		}, []string{"action"}),
		sweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "credits",
			Name:      "stale_released_total",
			Help:      "Reservations released by the stale sweep.",
		}),
	}
}

func (m *Metrics) observe(op string, err error, start time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = Reason(err)
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) moved(monthly, bonus int64) {
	if m == nil {
		return
	}
	m.credits.WithLabelValues("monthly").Add(float64(monthly))
	m.credits.WithLabelValues("bonus").Add(float64(bonus))
}

func (m *Metrics) forfeit(n int64) {
	if m == nil {
		return
	}
	m.forfeited.Add(float64(n))
}

func (m *Metrics) cycleReset() {
	if m == nil {
		return
	}
	m.resets.Inc()
}

func (m *Metrics) adjusted(applied int64) {
	if m == nil {
		return
	}
	direction := "credit"
	if applied < 0 {
		direction = "debit"
	}
	m.adjustments.WithLabelValues(direction).Inc()
}

func (m *Metrics) reconciled(action string) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(action).Inc()
}

func (m *Metrics) swept(n int) {
	if m == nil {
		return
	}
	m.sweeps.Add(float64(n))
}

package relay

import "github.com/prometheus/client_golang/prometheus"

// metrics instruments the executor. Collectors are always created so call
// sites stay unconditional; they are only registered when the caller
// supplies a Registerer in Config.
type metrics struct {
	executed prometheus.Counter
	retried  prometheus.Counter
	failed   prometheus.Counter
	pending  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		executed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_transactions_executed_total",
			Help: "Transactions completed by a successful mutation call.",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_transactions_retried_total",
			Help: "Failed attempts that were rescheduled with backoff.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_transactions_failed_total",
			Help: "Transactions dropped after a permanent failure.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_outbox_pending",
			Help: "Transactions currently queued for execution.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.executed, m.retried, m.failed, m.pending)
	}
	return m
}

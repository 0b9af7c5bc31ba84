package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job outcome labels.
const (
	outcomeDone      = "done"
	outcomeFailed    = "failed"
	outcomeRequeued  = "requeued"
	outcomeReleased  = "released"
	outcomeLeaseLost = "lease_lost"
)

// Metrics collects send worker metrics. A nil *Metrics records nothing.
type Metrics struct {
	jobs         *prometheus.CounterVec
	sends        *prometheus.CounterVec
	sendDuration prometheus.Histogram
	recovered    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "phishsense",
				Subsystem: "send_worker",
				Name:      "jobs_total",
				Help:      "Send job runs by outcome.",
			},
			[]string{"outcome"},
		),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "phishsense",
				Subsystem: "send_worker",
				Name:      "messages_total",
				Help:      "Per-recipient send attempts by result.",
			},
			[]string{"result"},
		),
		sendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "phishsense",
				Subsystem: "send_worker",
				Name:      "smtp_send_duration_seconds",
				Help:      "Time spent handing one message to the SMTP relay.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		recovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "phishsense",
				Subsystem: "send_worker",
				Name:      "stale_jobs_total",
				Help:      "Running jobs recovered after their lease expired.",
			},
			[]string{"action"},
		),
	}
	reg.MustRegister(m.jobs, m.sends, m.sendDuration, m.recovered)
	return m
}

func (m *Metrics) jobFinished(outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeSend(start time.Time, err error) {
	if m == nil {
		return
	}
	m.sendDuration.Observe(time.Since(start).Seconds())
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.sends.WithLabelValues(result).Inc()
}

func (m *Metrics) recipientSkipped() {
	if m == nil {
		return
	}
	m.sends.WithLabelValues("skipped").Inc()
}

func (m *Metrics) staleRecovered(requeued, failed int) {
	if m == nil {
		return
	}
	m.recovered.WithLabelValues(outcomeRequeued).Add(float64(requeued))
	m.recovered.WithLabelValues(outcomeFailed).Add(float64(failed))
}

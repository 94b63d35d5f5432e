package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all Prometheus metrics for claim verification and the airdrop
type Registry struct {
	// Verification outcomes by result
	Verifications *prometheus.CounterVec

	// Airdrop outcomes by status and skip/failure reason
	Airdrops *prometheus.CounterVec

	// Executor call latency by result
	ExecutorLatency *prometheus.HistogramVec

	// Disbursement record gauges
	Reserved  prometheus.Gauge
	Finalized prometheus.Gauge
	Cap       prometheus.Gauge

	// Rejected verify attempts from the per-client limiter
	RateLimited prometheus.Counter
}

// NewRegistry creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which tests use for isolation.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		Verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crabdrop_verifications_total",
				Help: "Claim verification attempts by result",
			},
			[]string{"result"},
		),

		Airdrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crabdrop_airdrops_total",
				Help: "Airdrop outcomes by status and reason",
			},
			[]string{"status", "reason"},
		),

		ExecutorLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crabdrop_executor_latency_seconds",
				Help:    "Disbursement executor call latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"result"},
		),

		Reserved: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crabdrop_wallets_reserved",
				Help: "Wallets in the disbursement record, pending or final",
			},
		),

		Finalized: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crabdrop_receipts_finalized",
				Help: "Wallets with a final disbursement receipt",
			},
		),

		Cap: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crabdrop_airdrop_cap",
				Help: "Configured global disbursement cap",
			},
		),

		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crabdrop_verify_rate_limited_total",
				Help: "Verify requests refused by the per-client limiter",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			r.Verifications,
			r.Airdrops,
			r.ExecutorLatency,
			r.Reserved,
			r.Finalized,
			r.Cap,
			r.RateLimited,
		)
	}

	return r
}

// RecordVerification counts one verify call by result
func (r *Registry) RecordVerification(result string) {
	if r == nil {
		return
	}
	r.Verifications.WithLabelValues(result).Inc()
}

// RecordAirdrop counts one airdrop outcome
func (r *Registry) RecordAirdrop(status, reason string) {
	if r == nil {
		return
	}
	r.Airdrops.WithLabelValues(status, reason).Inc()
}

// ObserveExecutor records an executor call duration
func (r *Registry) ObserveExecutor(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.ExecutorLatency.WithLabelValues(result).Observe(d.Seconds())
}

// SetRecordCounts publishes the disbursement record totals
func (r *Registry) SetRecordCounts(reserved, finalized, cap int64) {
	if r == nil {
		return
	}
	r.Reserved.Set(float64(reserved))
	r.Finalized.Set(float64(finalized))
	r.Cap.Set(float64(cap))
}

// RecordRateLimited counts a refused verify attempt
func (r *Registry) RecordRateLimited() {
	if r == nil {
		return
	}
	r.RateLimited.Inc()
}

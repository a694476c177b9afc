// Package metrics exposes prometheus counters for the session pipeline.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "session_client"

// Refresh triggers
const (
	TriggerProactive = "proactive"
	TriggerReactive  = "reactive"
)

// Refresh outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeNoRefresh = "no_refresh_token"
)

type Recorder struct {
	refreshes  *prometheus.CounterVec
	retries    prometheus.Counter
	destroyed  *prometheus.CounterVec
	rejections *prometheus.CounterVec
}

// New creates the counters and registers them with reg. A nil reg skips registration.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access token refresh attempts by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Requests resubmitted after a 401.",
		}),
		destroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_destroyed_total",
			Help:      "Sessions destroyed by reason.",
		}, []string{"reason"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Protected requests refused before sending.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(r.refreshes, r.retries, r.destroyed, r.rejections)
	}
	return r
}

func (r *Recorder) Refresh(trigger, outcome string) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(trigger, outcome).Inc()
}

func (r *Recorder) Retry() {
	if r == nil {
		return
	}
	r.retries.Inc()
}

func (r *Recorder) SessionDestroyed(reason string) {
	if r == nil {
		return
	}
	r.destroyed.WithLabelValues(reason).Inc()
}

func (r *Recorder) Rejected(reason string) {
	if r == nil {
		return
	}
	r.rejections.WithLabelValues(reason).Inc()
}

// Collectors returns the underlying counters, mostly for tests.
func (r *Recorder) Collectors() (refreshes *prometheus.CounterVec, retries prometheus.Counter, destroyed, rejections *prometheus.CounterVec) {
	return r.refreshes, r.retries, r.destroyed, r.rejections
}

package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ListenersActive        = promauto.NewGauge(prometheus.GaugeOpts{Name: "cmdrelay_listeners_active", Help: "Currently registered listener connections"})
	ControlActive          = promauto.NewGauge(prometheus.GaugeOpts{Name: "cmdrelay_control_active", Help: "1 while a control session is current"})
	ControlTakeoversTotal  = promauto.NewCounter(prometheus.CounterOpts{Name: "cmdrelay_control_takeovers_total", Help: "Control sessions evicted by a newer controller"})
	CredentialRotations    = promauto.NewCounter(prometheus.CounterOpts{Name: "cmdrelay_credential_rotations_total", Help: "Control credential rotations"})
	BroadcastLinesTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "cmdrelay_broadcast_lines_total", Help: "Lines fanned out by source"}, []string{"source"})
	FilteredLinesTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "cmdrelay_filtered_lines_total", Help: "Lines not rebroadcast by source and class"}, []string{"source", "class"})
	AuthFailuresTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "cmdrelay_auth_failures_total", Help: "Failed authentications by role"}, []string{"role"})
	ErrorsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "cmdrelay_errors_total", Help: "Errors by type"}, []string{"type"})
	ListenerSessionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "cmdrelay_listener_session_seconds", Help: "Listener session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 20)})
)

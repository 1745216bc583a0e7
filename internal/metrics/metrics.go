// Package metrics holds the Prometheus collectors for the session core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive counts live user sessions in the registry.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lenslink",
		Subsystem: "session",
		Name:      "active_sessions",
		Help:      "Number of active user sessions.",
	})

	// AppSessionsActive counts app sessions by state.
	AppSessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lenslink",
		Subsystem: "session",
		Name:      "active_app_sessions",
		Help:      "Number of app sessions by state.",
	}, []string{"state"})

	// FramesRelayed counts DATA_STREAM frames delivered to apps.
	FramesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lenslink",
		Subsystem: "relay",
		Name:      "frames_relayed_total",
		Help:      "DATA_STREAM frames delivered to apps.",
	})

	// RelayErrors counts per-recipient send failures during fan-out.
	RelayErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lenslink",
		Subsystem: "relay",
		Name:      "relay_errors_total",
		Help:      "Per-recipient send failures during fan-out.",
	})

	// MicStateSent counts MICROPHONE_STATE_CHANGE frames sent upstream.
	MicStateSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lenslink",
		Subsystem: "microphone",
		Name:      "state_changes_total",
		Help:      "MICROPHONE_STATE_CHANGE frames sent upstream.",
	}, []string{"enabled"})

	// PhotoRequests counts photo requests by outcome.
	PhotoRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lenslink",
		Subsystem: "photo",
		Name:      "requests_total",
		Help:      "Photo requests by outcome (responded, timeout, rejected).",
	}, []string{"outcome"})

	// ConnectionErrors counts CONNECTION_ERROR frames by code.
	ConnectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lenslink",
		Subsystem: "session",
		Name:      "connection_errors_total",
		Help:      "CONNECTION_ERROR frames sent to apps, by code.",
	}, []string{"code"})
)

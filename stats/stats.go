// Package stats provides process-wide Prometheus collectors for the
// wallet-adapter node. The web UI exposes them on /metrics.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts sessions that bound a listener and sent
	// HELLO_REQ.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mwanode",
		Subsystem: "session",
		Name:      "started_total",
		Help:      "Number of sessions that began the handshake.",
	})

	// SessionsEstablished counts sessions that completed key agreement.
	SessionsEstablished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mwanode",
		Subsystem: "session",
		Name:      "established_total",
		Help:      "Number of sessions that derived a shared key.",
	})

	// SessionsClosed counts terminated sessions by reason.
	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mwanode",
		Subsystem: "session",
		Name:      "closed_total",
		Help:      "Number of closed sessions, partitioned by close reason.",
	}, []string{"reason"})

	// HandshakeFailures counts handshakes that never reached the
	// established state.
	HandshakeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mwanode",
		Subsystem: "session",
		Name:      "handshake_failures_total",
		Help:      "Number of failed session handshakes.",
	})

	// RequestsSent counts JSON-RPC requests sent over established sessions.
	RequestsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mwanode",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "Number of JSON-RPC requests sent, partitioned by method.",
	}, []string{"method"})

	// DecryptFailures counts fatal inbound packet failures by kind
	// (sequence, authentication, length).
	DecryptFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mwanode",
		Subsystem: "session",
		Name:      "decrypt_failures_total",
		Help:      "Number of fatal packet decrypt failures, partitioned by kind.",
	}, []string{"kind"})

	// DroppedMessages counts non-fatal inbound drops (malformed JSON,
	// unmatched response ids).
	DroppedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mwanode",
		Subsystem: "session",
		Name:      "dropped_messages_total",
		Help:      "Number of dropped inbound messages, partitioned by cause.",
	}, []string{"cause"})
)

// Close reasons used as label values for SessionsClosed.
const (
	ReasonExplicit  = "explicit"
	ReasonTransport = "transport"
	ReasonSequence  = "sequence"
	ReasonAuth      = "authentication"
)

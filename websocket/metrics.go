package websocket

import (
	"sync/atomic"
)

// Metrics tracks statistics for one transport.
//
// All operations are atomic and thread-safe.
type Metrics struct {
	// Message counts
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	framesIgnored    atomic.Uint64

	// Byte counts (payload only, framing overhead excluded)
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	// Error counts
	sendErrors    atomic.Uint64
	receiveErrors atomic.Uint64
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordSent records a sent message.
func (m *Metrics) RecordSent(bytes uint64) {
	m.messagesSent.Add(1)
	m.bytesSent.Add(bytes)
}

// RecordReceived records a received message.
func (m *Metrics) RecordReceived(bytes uint64) {
	m.messagesReceived.Add(1)
	m.bytesReceived.Add(bytes)
}

// IncrementSendErrors increments the send error counter.
func (m *Metrics) IncrementSendErrors() {
	m.sendErrors.Add(1)
}

// IncrementReceiveErrors increments the receive error counter.
func (m *Metrics) IncrementReceiveErrors() {
	m.receiveErrors.Add(1)
}

// IncrementIgnoredFrames increments the ignored-frame counter (ping, pong,
// unknown opcodes).
func (m *Metrics) IncrementIgnoredFrames() {
	m.framesIgnored.Add(1)
}

// Stats is a point-in-time snapshot of the counters.
type Stats struct {
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	FramesIgnored    uint64 `json:"frames_ignored"`
	BytesSent        uint64 `json:"bytes_sent"`
	BytesReceived    uint64 `json:"bytes_received"`
	SendErrors       uint64 `json:"send_errors"`
	ReceiveErrors    uint64 `json:"receive_errors"`
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		MessagesSent:     m.messagesSent.Load(),
		MessagesReceived: m.messagesReceived.Load(),
		FramesIgnored:    m.framesIgnored.Load(),
		BytesSent:        m.bytesSent.Load(),
		BytesReceived:    m.bytesReceived.Load(),
		SendErrors:       m.sendErrors.Load(),
		ReceiveErrors:    m.receiveErrors.Load(),
	}
}

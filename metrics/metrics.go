// Package metrics collects client and supervisor telemetry. Collectors are
// fire-and-forget: recording never blocks, fails, or panics into the caller.
package metrics

import "time"

// Connection event names recorded by the client.
const (
	EventConnect        = "connect"
	EventConnectFailed  = "connect_failed"
	EventDisconnect     = "disconnect"
	EventConnectionLost = "connection_lost"
)

// Collector receives timing and error events from the client and supervisor.
type Collector interface {
	// RecordMessageSent records one outbound message and its send duration.
	RecordMessageSent(msgType string, d time.Duration)

	// RecordConnectionEvent records a connection lifecycle event.
	RecordConnectionEvent(event string, d time.Duration)

	// RecordError records an error occurrence by type.
	RecordError(errType, detail string)
}

type nopCollector struct{}

func (nopCollector) RecordMessageSent(msgType string, d time.Duration)   {}
func (nopCollector) RecordConnectionEvent(event string, d time.Duration) {}
func (nopCollector) RecordError(errType, detail string)                  {}

// NewNopCollector returns a collector that discards everything.
func NewNopCollector() Collector {
	return nopCollector{}
}

// Tee fans every event out to all of its collectors in order.
type Tee []Collector

func (t Tee) RecordMessageSent(msgType string, d time.Duration) {
	for _, c := range t {
		c.RecordMessageSent(msgType, d)
	}
}

func (t Tee) RecordConnectionEvent(event string, d time.Duration) {
	for _, c := range t {
		c.RecordConnectionEvent(event, d)
	}
}

func (t Tee) RecordError(errType, detail string) {
	for _, c := range t {
		c.RecordError(errType, detail)
	}
}

var _ Collector = Tee(nil)

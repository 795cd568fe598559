package metrics

import (
	"fmt"
	"sync"
	"time"
)

const maxRecentErrors = 10

// Summary is an in-memory collector that keeps session totals for the stats
// endpoint and the CLI status command.
type Summary struct {
	mu sync.Mutex

	start time.Time

	totalMessages  int64
	messagesByType map[string]int64
	msgDurTotal    time.Duration
	msgDurCount    int64

	totalConnects int64
	current       int
	connDurTotal  time.Duration
	connDurCount  int64

	totalErrors  int64
	errorsByType map[string]int64
	recentErrors []string
}

// Stats is a point-in-time snapshot of a Summary.
type Stats struct {
	SessionStart  time.Time       `json:"session_start"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Messages      MessageStats    `json:"messages"`
	Connections   ConnectionStats `json:"connections"`
	Errors        ErrorStats      `json:"errors"`
}

type MessageStats struct {
	TotalSent       int64            `json:"total_sent"`
	AverageDuration float64          `json:"average_duration_seconds"`
	ByType          map[string]int64 `json:"by_type"`
}

type ConnectionStats struct {
	Total              int64   `json:"total"`
	Current            int     `json:"current"`
	AverageConnectTime float64 `json:"average_connect_seconds"`
}

type ErrorStats struct {
	Total  int64            `json:"total"`
	ByType map[string]int64 `json:"by_type"`
	Recent []string         `json:"recent,omitempty"`
}

func NewSummary() *Summary {
	return &Summary{
		start:          time.Now(),
		messagesByType: map[string]int64{},
		errorsByType:   map[string]int64{},
	}
}

func (s *Summary) RecordMessageSent(msgType string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalMessages++
	s.messagesByType[msgType]++
	if d > 0 {
		s.msgDurTotal += d
		s.msgDurCount++
	}
}

func (s *Summary) RecordConnectionEvent(event string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch event {
	case EventConnect:
		s.totalConnects++
		s.current++
		if d > 0 {
			s.connDurTotal += d
			s.connDurCount++
		}
	case EventDisconnect, EventConnectionLost:
		if s.current > 0 {
			s.current--
		}
	}
}

func (s *Summary) RecordError(errType, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalErrors++
	s.errorsByType[errType]++
	entry := errType
	if detail != "" {
		entry = fmt.Sprintf("%s: %s", errType, detail)
	}
	s.recentErrors = append(s.recentErrors, entry)
	if len(s.recentErrors) > maxRecentErrors {
		s.recentErrors = s.recentErrors[len(s.recentErrors)-maxRecentErrors:]
	}
}

// Snapshot returns a copy of the current totals.
func (s *Summary) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType := make(map[string]int64, len(s.messagesByType))
	for k, v := range s.messagesByType {
		byType[k] = v
	}
	errsByType := make(map[string]int64, len(s.errorsByType))
	for k, v := range s.errorsByType {
		errsByType[k] = v
	}
	recent := make([]string, len(s.recentErrors))
	copy(recent, s.recentErrors)

	var avgMsg, avgConn float64
	if s.msgDurCount > 0 {
		avgMsg = s.msgDurTotal.Seconds() / float64(s.msgDurCount)
	}
	if s.connDurCount > 0 {
		avgConn = s.connDurTotal.Seconds() / float64(s.connDurCount)
	}

	return Stats{
		SessionStart:  s.start,
		UptimeSeconds: time.Since(s.start).Seconds(),
		Messages: MessageStats{
			TotalSent:       s.totalMessages,
			AverageDuration: avgMsg,
			ByType:          byType,
		},
		Connections: ConnectionStats{
			Total:              s.totalConnects,
			Current:            s.current,
			AverageConnectTime: avgConn,
		},
		Errors: ErrorStats{
			Total:  s.totalErrors,
			ByType: errsByType,
			Recent: recent,
		},
	}
}

var _ Collector = (*Summary)(nil)

package ws

import "time"

type MessageType string

const (
	MsgStatsUpdate MessageType = "stats_update"
	MsgHello       MessageType = "hello"
)

// Envelope is the wire format of every message pushed to observers. The
// broadcaster never inspects Data.
type Envelope struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

type HelloPayload struct {
	ObserverID   string      `json:"observerId"`
	TickInterval string      `json:"tickInterval"`
	MessageType  MessageType `json:"messageType"`
}

const MsgSourceHealth MessageType = "source_health"

type SourceHealthStatus string

const (
	StatusHealthy  SourceHealthStatus = "healthy"
	StatusDegraded SourceHealthStatus = "degraded"
	StatusFailed   SourceHealthStatus = "failed"
)

// SourceHealthPayload is pushed whenever the stats source changes health.
type SourceHealthPayload struct {
	Source              string             `json:"source"`
	Status              SourceHealthStatus `json:"status"`
	ConsecutiveFailures int                `json:"consecutiveFailures"`
	LastError           string             `json:"lastError,omitempty"`
	Timestamp           time.Time          `json:"timestamp"`
}

package capture

import "time"

// EventType names the pipeline events pushed to status observers.
type EventType string

const (
	EventSessionStarted EventType = "session-started"
	EventSessionStopped EventType = "session-stopped"
	EventDesync         EventType = "desync"
	EventRecordFlushed  EventType = "record-flushed"
)

// Event is a status notification for external observers (GUI, websocket
// clients). Events are advisory; dropping them never affects capture.
type Event struct {
	Type   EventType `json:"type"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

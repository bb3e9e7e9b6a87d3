package models

import "time"

// Cycle event types.
const (
	EventCycle         = "CYCLE"
	EventConnectFailed = "CONNECT_FAILED"
	EventError         = "ERROR"
)

// CycleEvent is a single entry of the wake-cycle log.
type CycleEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // CYCLE | CONNECT_FAILED | ERROR
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}

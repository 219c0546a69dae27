package domain

import "time"

// EventType classifies a behavioral event. The set is closed: ingestion
// rejects unknown values before they reach the buffer.
type EventType string

const (
	TypePageView EventType = "page_view"
	TypeClick    EventType = "click"
	TypePurchase EventType = "purchase"
	TypeSignup   EventType = "signup"
	TypeCustom   EventType = "custom"
)

func (t EventType) Valid() bool {
	switch t {
	case TypePageView, TypeClick, TypePurchase, TypeSignup, TypeCustom:
		return true
	}
	return false
}

// Event is a normalized behavioral event. EventID and ReceivedAt are assigned
// by the server; EventID is the idempotency key for storage. Once an event is
// accepted into the buffer it is never mutated, only enqueued, dequeued or
// re-enqueued verbatim.
type Event struct {
	EventID    string         `json:"event_id"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Type       EventType      `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	ReceivedAt time.Time      `json:"received_at"`
}

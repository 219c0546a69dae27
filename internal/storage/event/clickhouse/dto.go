package clickhouse

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/leshachaplin/eventgate/internal/domain"
)

type event struct {
	EventID    string    `ch:"event_id"`
	UserID     string    `ch:"user_id"`
	SessionID  string    `ch:"session_id"`
	EventType  string    `ch:"event_type"`
	Payload    string    `ch:"payload"`
	OccurredAt time.Time `ch:"occurred_at"`
	ReceivedAt time.Time `ch:"received_at"`
}

func rowsFromDomain(evnts []domain.Event) ([]event, error) {
	rows := make([]event, len(evnts))
	for i := range evnts {
		payload, err := json.Marshal(evnts[i].Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload of event %s: %w", evnts[i].EventID, err)
		}
		rows[i] = event{
			EventID:    evnts[i].EventID,
			UserID:     evnts[i].UserID,
			SessionID:  evnts[i].SessionID,
			EventType:  string(evnts[i].Type),
			Payload:    string(payload),
			OccurredAt: evnts[i].OccurredAt,
			ReceivedAt: evnts[i].ReceivedAt,
		}
	}
	return rows, nil
}

func (e event) toDomain() (domain.Event, error) {
	var payload map[string]any
	if e.Payload != "" {
		if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
			return domain.Event{}, fmt.Errorf("decode payload of event %s: %w", e.EventID, err)
		}
	}
	return domain.Event{
		EventID:    e.EventID,
		UserID:     e.UserID,
		SessionID:  e.SessionID,
		Type:       domain.EventType(e.EventType),
		Payload:    payload,
		OccurredAt: e.OccurredAt,
		ReceivedAt: e.ReceivedAt,
	}, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leshachaplin/eventgate/internal/domain"
)

const insertQuery = `INSERT INTO events (event_id, user_id, session_id, event_type, payload, occurred_at, received_at)
SELECT * FROM unnest(
	$1::uuid[],
	$2::text[],
	$3::text[],
	$4::text[],
	$5::jsonb[],
	$6::timestamptz[],
	$7::timestamptz[]
)
ON CONFLICT (event_id) DO NOTHING`

// BulkInsert writes the batch in a single statement. Events whose key is
// already present are skipped by the conflict clause, so the duplicate count
// is exact: batch size minus rows actually written.
func (p *Postgres) BulkInsert(ctx context.Context, events []domain.Event) (int, int, error) {
	if len(events) == 0 {
		return 0, 0, nil
	}

	var (
		ids      = make([]string, len(events))
		users    = make([]string, len(events))
		sessions = make([]string, len(events))
		types    = make([]string, len(events))
		payloads = make([]string, len(events))
		occurred = make([]time.Time, len(events))
		received = make([]time.Time, len(events))
	)
	for i := range events {
		payload, err := json.Marshal(events[i].Payload)
		if err != nil {
			return 0, 0, fmt.Errorf("encode payload of event %s: %w", events[i].EventID, err)
		}
		ids[i] = events[i].EventID
		users[i] = events[i].UserID
		sessions[i] = events[i].SessionID
		types[i] = string(events[i].Type)
		payloads[i] = string(payload)
		occurred[i] = events[i].OccurredAt
		received[i] = events[i].ReceivedAt
	}

	tag, err := p.pool.Exec(ctx, insertQuery, ids, users, sessions, types, payloads, occurred, received)
	if err != nil {
		return 0, 0, err
	}

	inserted := int(tag.RowsAffected())
	return inserted, len(events) - inserted, nil
}

func (p *Postgres) QueryByUser(ctx context.Context, userID string, limit int) ([]domain.Event, error) {
	rows, err := p.pool.Query(ctx, `SELECT event_id::text, user_id, session_id, event_type, payload, occurred_at, received_at
		FROM events
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			ev      domain.Event
			typ     string
			payload []byte
		)
		if err := rows.Scan(&ev.EventID, &ev.UserID, &ev.SessionID, &typ, &payload, &ev.OccurredAt, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of event %s: %w", ev.EventID, err)
		}
		ev.Type = domain.EventType(typ)
		ev.OccurredAt = ev.OccurredAt.UTC()
		ev.ReceivedAt = ev.ReceivedAt.UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountEvents counts events of one type in the half-open window [from, to).
func (p *Postgres) CountEvents(ctx context.Context, eventType domain.EventType, from, to time.Time) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT count(*)
		FROM events
		WHERE event_type = $1 AND occurred_at >= $2 AND occurred_at < $3`,
		string(eventType), from, to).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

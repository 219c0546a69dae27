package clickhouse

import (
	"context"
	"time"

	"github.com/leshachaplin/eventgate/internal/domain"
)

// BulkInsert writes the whole batch in one shot. Duplicate keys collapse at
// merge time, so from the caller's side everything sent counts as inserted.
func (c *Clickhouse) BulkInsert(ctx context.Context, events []domain.Event) (int, int, error) {
	rows, err := rowsFromDomain(events)
	if err != nil {
		return 0, 0, err
	}

	batch, err := c.conn.PrepareBatch(ctx, `INSERT INTO events`)
	if err != nil {
		return 0, 0, err
	}
	for i := 0; i < len(rows); i++ {
		if errAppend := batch.AppendStruct(&rows[i]); errAppend != nil {
			return 0, 0, errAppend
		}
	}
	if err := batch.Send(); err != nil {
		return 0, 0, err
	}
	return len(events), 0, nil
}

func (c *Clickhouse) QueryByUser(ctx context.Context, userID string, limit int) ([]domain.Event, error) {
	var rows []event
	err := c.conn.Select(ctx, &rows, `SELECT event_id, user_id, session_id, event_type, payload, occurred_at, received_at
		FROM events FINAL
		WHERE user_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(rows))
	for i := range rows {
		ev, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// CountEvents counts events of one type in the half-open window [from, to).
func (c *Clickhouse) CountEvents(ctx context.Context, eventType domain.EventType, from, to time.Time) (int64, error) {
	var count uint64
	err := c.conn.QueryRow(ctx, `SELECT count()
		FROM events FINAL
		WHERE event_type = ? AND occurred_at >= ? AND occurred_at < ?`,
		string(eventType), from, to).Scan(&count)
	if err != nil {
		return 0, err
	}
	return int64(count), nil
}

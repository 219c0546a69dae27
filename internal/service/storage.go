package service

import (
	"context"
	"time"

	"github.com/leshachaplin/eventgate/internal/domain"
)

// Storage is the read side of the event store. Writes go through the buffer
// and the flush executor instead of this interface.
type Storage interface {
	QueryByUser(ctx context.Context, userID string, limit int) ([]domain.Event, error)
	CountEvents(ctx context.Context, eventType domain.EventType, from, to time.Time) (int64, error)
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/leshachaplin/eventgate/internal/apierror"
	"github.com/leshachaplin/eventgate/internal/buffer"
	"github.com/leshachaplin/eventgate/internal/service"
)

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	ingestor   service.Ingest
	storage    service.Storage
	statsFn    func() buffer.Snapshot
	pinger     Pinger
	retryAfter string
	logger     zerolog.Logger
}

// NewHandler wires the public API. storage may be nil when the configured
// backend has no read path; query endpoints then answer 501.
func NewHandler(
	ingestor service.Ingest,
	storage service.Storage,
	statsFn func() buffer.Snapshot,
	pinger Pinger,
	flushInterval time.Duration,
	logger zerolog.Logger,
) *Handler {
	retryAfter := int(math.Ceil(flushInterval.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return &Handler{
		ingestor:   ingestor,
		storage:    storage,
		statsFn:    statsFn,
		pinger:     pinger,
		retryAfter: strconv.Itoa(retryAfter),
		logger:     logger,
	}
}

func (h *Handler) error(err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	var apiErr apierror.Error
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, service.ErrSaturated):
		w.Header().Set("Retry-After", h.retryAfter)
		apiErr = apierror.NewAPIError("event buffer is full, retry later", http.StatusTooManyRequests)
	default:
		apiErr = apierror.NewAPIError(err.Error(), http.StatusInternalServerError)
	}

	w.WriteHeader(apiErr.StatusCode())
	if err = json.NewEncoder(w).Encode(apiErr); err != nil {
		h.logger.Error().Err(err).Send()
	}
}

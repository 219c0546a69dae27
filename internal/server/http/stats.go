package http

import (
	"context"
	"net/http"
	"time"
)

// Stats reports a point-in-time snapshot of the buffer.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	if err := encodeJSONResponse(w, http.StatusOK, h.statsFn()); err != nil {
		h.logger.Error().Err(err).Send()
	}
}

// Health answers 204 while the storage backend is reachable and 503 once it
// is not. Readiness stays separate: a full buffer is not unhealthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("health check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

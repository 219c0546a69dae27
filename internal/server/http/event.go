package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/leshachaplin/eventgate/internal/apierror"
	"github.com/leshachaplin/eventgate/internal/service"
)

type eventAccepted struct {
	EventID    string    `json:"event_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// Event admits a single JSON submission. The event is buffered, not yet
// stored, when the 202 goes out.
func (h *Handler) Event(w http.ResponseWriter, r *http.Request) {
	var req service.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(apierror.NewAPIError("invalid JSON body", http.StatusBadRequest), w)
		return
	}

	ev, err := h.ingestor.Ingest(req)
	if err != nil {
		if err == service.ErrSaturated {
			h.logger.Debug().Str("client_ip", getClientIP(r)).Msg("event rejected, buffer saturated")
		}
		h.error(err, w)
		return
	}

	if err := encodeJSONResponse(w, http.StatusAccepted, eventAccepted{
		EventID:    ev.EventID,
		ReceivedAt: ev.ReceivedAt,
	}); err != nil {
		h.logger.Error().Err(err).Send()
	}
}

// EventBatch admits a newline-delimited JSON stream and reports per-line
// outcomes. The summary is the contract: invalid lines never fail the batch,
// and only full saturation, with nothing accepted at all, turns into a 429.
func (h *Handler) EventBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ingestor.IngestStream(r.Body)
	if err != nil {
		h.error(apierror.NewAPIError(err.Error(), http.StatusBadRequest), w)
		return
	}

	status := http.StatusAccepted
	if summary.Rejected > 0 {
		h.logger.Debug().
			Str("client_ip", getClientIP(r)).
			Int("rejected", summary.Rejected).
			Msg("batch lines rejected, buffer saturated")
		w.Header().Set("Retry-After", h.retryAfter)
		if summary.Accepted == 0 {
			status = http.StatusTooManyRequests
		}
	}

	if err := encodeJSONResponse(w, status, summary); err != nil {
		h.logger.Error().Err(err).Send()
	}
}

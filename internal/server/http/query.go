package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"

	"github.com/leshachaplin/eventgate/internal/apierror"
	"github.com/leshachaplin/eventgate/internal/domain"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

type userEventsResponse struct {
	Events []domain.Event `json:"events"`
	Count  int            `json:"count"`
}

type eventCountResponse struct {
	EventType string    `json:"event_type"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Count     int64     `json:"count"`
}

// UserEvents returns a user's history, newest first.
func (h *Handler) UserEvents(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		h.error(apierror.NewAPIError("event queries are not available with the configured storage backend", http.StatusNotImplemented), w)
		return
	}

	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.error(apierror.NewValidationError("invalid query", map[string]interface{}{"userID": "required"}), w)
		return
	}

	limit := defaultQueryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.error(apierror.NewValidationError("invalid query", map[string]interface{}{"limit": "must be a positive integer"}), w)
			return
		}
		limit = parsed
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	events, err := h.storage.QueryByUser(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("query by user failed")
		h.error(apierror.NewAPIError("event query failed", http.StatusInternalServerError), w)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}

	if err := encodeJSONResponse(w, http.StatusOK, userEventsResponse{
		Events: events,
		Count:  len(events),
	}); err != nil {
		h.logger.Error().Err(err).Send()
	}
}

// EventCounts counts events of one type in the half-open window [from, to).
func (h *Handler) EventCounts(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil {
		h.error(apierror.NewAPIError("event queries are not available with the configured storage backend", http.StatusNotImplemented), w)
		return
	}

	details := map[string]interface{}{}
	query := r.URL.Query()

	typ := domain.EventType(query.Get("type"))
	if typ == "" {
		details["type"] = "required"
	} else if !typ.Valid() {
		details["type"] = "unknown event type"
	}

	from, err := time.Parse(time.RFC3339, query.Get("from"))
	if err != nil {
		details["from"] = "must be RFC 3339"
	}
	to, err := time.Parse(time.RFC3339, query.Get("to"))
	if err != nil {
		details["to"] = "must be RFC 3339"
	}
	if len(details) == 0 && !from.Before(to) {
		details["to"] = "must be after from"
	}
	if len(details) > 0 {
		h.error(apierror.NewValidationError("invalid query", details), w)
		return
	}

	count, err := h.storage.CountEvents(r.Context(), typ, from.UTC(), to.UTC())
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", string(typ)).Msg("count events failed")
		h.error(apierror.NewAPIError("event query failed", http.StatusInternalServerError), w)
		return
	}

	if err := encodeJSONResponse(w, http.StatusOK, eventCountResponse{
		EventType: string(typ),
		From:      from.UTC(),
		To:        to.UTC(),
		Count:     count,
	}); err != nil {
		h.logger.Error().Err(err).Send()
	}
}

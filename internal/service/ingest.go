package service

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leshachaplin/eventgate/internal/apierror"
	"github.com/leshachaplin/eventgate/internal/domain"
	"github.com/leshachaplin/eventgate/internal/metrics"
)

// ErrSaturated is returned when the buffer refuses admission. The transport
// layer turns it into backpressure towards the client.
var ErrSaturated = errors.New("event buffer saturated")

const maxLineSize = 1 << 20

type Ingest interface {
	Ingest(req IngestRequest) (domain.Event, error)
	IngestStream(r io.Reader) (IngestSummary, error)
}

// Buffer is the admission side of the event buffer. CanAccept is a pure
// read; the gap between asking and adding is accepted, the threshold is a
// soft limit.
type Buffer interface {
	CanAccept() bool
	Add(ev domain.Event)
}

type IngestRequest struct {
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	OccurredAt string         `json:"occurred_at"`
}

type IngestSummary struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Invalid  int      `json:"invalid"`
	Errors   []string `json:"errors,omitempty"`
}

const maxSummaryErrors = 20

type Ingestor struct {
	buf     Buffer
	metrics *metrics.Metrics
	logger  zerolog.Logger
	nowFn   func() time.Time
}

func NewIngestor(buf Buffer, m *metrics.Metrics, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		buf:     buf,
		metrics: m,
		logger:  logger.With().Str("component", "ingest").Logger(),
		nowFn:   time.Now,
	}
}

// Ingest validates and normalizes a single submission and hands it to the
// buffer. The returned event carries the assigned id and server timestamps.
func (s *Ingestor) Ingest(req IngestRequest) (domain.Event, error) {
	ev, err := s.normalize(req)
	if err != nil {
		s.metrics.RecordInvalid()
		return domain.Event{}, err
	}

	if !s.buf.CanAccept() {
		s.metrics.RecordRejected(1)
		return domain.Event{}, ErrSaturated
	}

	s.buf.Add(ev)
	s.metrics.RecordAccepted(1)
	return ev, nil
}

// IngestStream reads newline-delimited JSON submissions and admits them one
// by one. Bad lines are counted, not fatal; only a broken reader aborts.
func (s *Ingestor) IngestStream(r io.Reader) (IngestSummary, error) {
	var summary IngestSummary

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	scanner.Split(bufio.ScanLines)

	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var req IngestRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Debug().Err(err).Int("line", line).Msg("failed to decode event")
			s.metrics.RecordInvalid()
			summary.Invalid++
			summary.addError(line, err)
			continue
		}

		_, err := s.Ingest(req)
		switch {
		case err == nil:
			summary.Accepted++
		case errors.Is(err, ErrSaturated):
			summary.Rejected++
		default:
			summary.Invalid++
			summary.addError(line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("read event stream: %w", err)
	}
	return summary, nil
}

func (s *Ingestor) normalize(req IngestRequest) (domain.Event, error) {
	details := map[string]interface{}{}
	if req.UserID == "" {
		details["user_id"] = "required"
	}
	typ := domain.EventType(req.Type)
	if req.Type == "" {
		details["type"] = "required"
	} else if !typ.Valid() {
		details["type"] = fmt.Sprintf("unknown event type %q", req.Type)
	}

	receivedAt := s.nowFn().UTC()
	occurredAt := receivedAt
	if req.OccurredAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			details["occurred_at"] = "must be RFC 3339"
		} else {
			occurredAt = parsed.UTC()
		}
	}

	if len(details) > 0 {
		return domain.Event{}, apierror.NewValidationError("invalid event", details)
	}

	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	return domain.Event{
		EventID:    uuid.New().String(),
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Type:       typ,
		Payload:    payload,
		OccurredAt: occurredAt,
		ReceivedAt: receivedAt,
	}, nil
}

func (sum *IngestSummary) addError(line int, err error) {
	if len(sum.Errors) >= maxSummaryErrors {
		return
	}
	sum.Errors = append(sum.Errors, fmt.Sprintf("line %d: %s", line, err))
}

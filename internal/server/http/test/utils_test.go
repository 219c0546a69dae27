package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

type Client struct {
	url  string
	http HTTPClient
}

func NewClient(url string, httpClient HTTPClient) *Client {
	return &Client{
		url:  url,
		http: httpClient,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, wantStatus int, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != wantStatus {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("unexpected status code: %d (%s)", res.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

type eventReq struct {
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id,omitempty"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt string         `json:"occurred_at,omitempty"`
}

type acceptedResp struct {
	EventID    string    `json:"event_id"`
	ReceivedAt time.Time `json:"received_at"`
}

type batchSummary struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Invalid  int      `json:"invalid"`
	Errors   []string `json:"errors"`
}

type storedEvent struct {
	EventID    string         `json:"event_id"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
	ReceivedAt time.Time      `json:"received_at"`
}

type userEventsResp struct {
	Events []storedEvent `json:"events"`
	Count  int           `json:"count"`
}

type eventCountResp struct {
	EventType string    `json:"event_type"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Count     int64     `json:"count"`
}

type apiErrorResp struct {
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details"`
	HTTP    struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"http"`
}

func (c *Client) SendEvent(ctx context.Context, event eventReq) (acceptedResp, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return acceptedResp{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out acceptedResp
	err = c.do(ctx, http.MethodPost, "/v1/events", bytes.NewReader(body), http.StatusAccepted, &out)
	return out, err
}

// SendInvalidEvent submits an event expected to fail and returns the status
// code with the decoded error envelope.
func (c *Client) SendInvalidEvent(ctx context.Context, event eventReq) (int, apiErrorResp, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return 0, apiErrorResp{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/events", bytes.NewReader(body))
	if err != nil {
		return 0, apiErrorResp{}, fmt.Errorf("could not create request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, apiErrorResp{}, fmt.Errorf("could not send request: %w", err)
	}
	defer res.Body.Close()

	var out apiErrorResp
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return res.StatusCode, apiErrorResp{}, fmt.Errorf("failed to decode error body: %w", err)
	}
	return res.StatusCode, out, nil
}

func (c *Client) SendBatch(ctx context.Context, events []eventReq) (batchSummary, error) {
	buf := &bytes.Buffer{}
	for _, event := range events {
		body, err := json.Marshal(event)
		if err != nil {
			return batchSummary{}, fmt.Errorf("failed to marshal request: %w", err)
		}
		buf.Write(body)
		buf.WriteString("\n")
	}

	return c.SendBatchRaw(ctx, buf.Bytes())
}

func (c *Client) SendBatchRaw(ctx context.Context, body []byte) (batchSummary, error) {
	var out batchSummary
	err := c.do(ctx, http.MethodPost, "/v1/events/batch", bytes.NewReader(body), http.StatusAccepted, &out)
	return out, err
}

func (c *Client) UserEvents(ctx context.Context, userID string, limit int) (userEventsResp, error) {
	path := fmt.Sprintf("/v1/users/%s/events", userID)
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}

	var out userEventsResp
	err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) CountEvents(ctx context.Context, eventType string, from, to time.Time) (eventCountResp, error) {
	path := fmt.Sprintf("/v1/metrics/events?type=%s&from=%s&to=%s",
		eventType, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))

	var out eventCountResp
	err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/v1/stats", nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) Metrics(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/metrics", nil)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	return string(raw), nil
}

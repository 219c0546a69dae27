package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

func (i *IntegrationTestSuite) TestBatchIngestion() {
	ctx, cansel := context.WithTimeout(i.ctx, time.Minute)
	defer cansel()

	userID := fmt.Sprintf("batch-user-%d", i.Int63())
	batch := make([]eventReq, 25)
	for j := range batch {
		batch[j] = eventReq{
			UserID:    userID,
			SessionID: "sess-1",
			Type:      "click",
			Payload:   map[string]any{"seq": strconv.Itoa(j)},
		}
	}

	summary, err := i.cli.SendBatch(ctx, batch)
	i.Require().NoError(err)
	i.Require().Equal(25, summary.Accepted)
	i.Require().Zero(summary.Rejected)
	i.Require().Zero(summary.Invalid)

	i.Require().Eventually(func() bool {
		history, err := i.cli.UserEvents(ctx, userID, 0)
		return err == nil && history.Count == 25
	}, time.Second*30, time.Millisecond*250)

	// Broken and invalid lines are reported per line, the rest still lands.
	rawUser := fmt.Sprintf("raw-user-%d", i.Int63())
	raw := fmt.Sprintf("{\"user_id\":%q,\"type\":\"click\"}\n{broken\n{\"user_id\":\"\",\"type\":\"click\"}\n", rawUser)

	summary, err = i.cli.SendBatchRaw(ctx, []byte(raw))
	i.Require().NoError(err)
	i.Require().Equal(1, summary.Accepted)
	i.Require().Zero(summary.Rejected)
	i.Require().Equal(2, summary.Invalid)
	i.Require().Len(summary.Errors, 2)

	i.Require().Eventually(func() bool {
		history, err := i.cli.UserEvents(ctx, rawUser, 0)
		return err == nil && history.Count == 1
	}, time.Second*30, time.Millisecond*250)
}

func (i *IntegrationTestSuite) TestEventCountsByType() {
	ctx, cansel := context.WithTimeout(i.ctx, time.Minute)
	defer cansel()

	userID := fmt.Sprintf("count-user-%d", i.Int63())
	from := time.Date(2001, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	inWindow := 6
	for j := 0; j < inWindow; j++ {
		_, err := i.cli.SendEvent(ctx, eventReq{
			UserID:     userID,
			Type:       "purchase",
			OccurredAt: from.Add(time.Duration(j) * time.Hour).Format(time.RFC3339),
		})
		i.Require().NoError(err)
	}
	// One before the window and one exactly at its end; both must be excluded.
	for _, at := range []time.Time{from.Add(-time.Hour), to} {
		_, err := i.cli.SendEvent(ctx, eventReq{
			UserID:     userID,
			Type:       "purchase",
			OccurredAt: at.Format(time.RFC3339),
		})
		i.Require().NoError(err)
	}

	i.Require().Eventually(func() bool {
		resp, err := i.cli.CountEvents(ctx, "purchase", from, to)
		return err == nil && resp.Count == int64(inWindow)
	}, time.Second*30, time.Millisecond*250)

	resp, err := i.cli.CountEvents(ctx, "purchase", from, to)
	i.Require().NoError(err)
	i.Require().Equal("purchase", resp.EventType)
	i.Require().Equal(int64(inWindow), resp.Count)
}

func (i *IntegrationTestSuite) TestInvalidEventRejected() {
	ctx, cansel := context.WithTimeout(i.ctx, time.Second*30)
	defer cansel()

	status, apiErr, err := i.cli.SendInvalidEvent(ctx, eventReq{Type: "hover"})
	i.Require().NoError(err)
	i.Require().Equal(http.StatusBadRequest, status)
	i.Require().Equal("invalid event", apiErr.Message)
	i.Require().Contains(apiErr.Details, "user_id")
	i.Require().Contains(apiErr.Details, "type")
}

func (i *IntegrationTestSuite) TestMetricsAndStats() {
	ctx, cansel := context.WithTimeout(i.ctx, time.Second*30)
	defer cansel()

	stats, err := i.cli.Stats(ctx)
	i.Require().NoError(err)
	i.Require().EqualValues(50, stats["max_batch_size"])
	i.Require().EqualValues(200, stats["flush_interval_ms"])
	i.Require().EqualValues(10000, stats["backpressure_threshold"])

	metricsText, err := i.cli.Metrics(ctx)
	i.Require().NoError(err)
	i.Require().Contains(metricsText, "eventgate_events_accepted_total")
	i.Require().Contains(metricsText, "eventgate_buffer_queue_length")
	i.Require().Contains(metricsText, "go_goroutines")
}

func (i *IntegrationTestSuite) TestSingleEventRoundTrip() {
	ctx, cansel := context.WithTimeout(i.ctx, time.Minute)
	defer cansel()

	userID := fmt.Sprintf("single-user-%d", i.Int63())
	accepted, err := i.cli.SendEvent(ctx, eventReq{
		UserID:     userID,
		SessionID:  "sess-42",
		Type:       "page_view",
		Payload:    map[string]any{"path": "/pricing", "referrer": "newsletter"},
		OccurredAt: "2024-06-01T10:30:00Z",
	})
	i.Require().NoError(err)
	i.Require().NotEmpty(accepted.EventID)
	i.Require().False(accepted.ReceivedAt.IsZero())

	i.Require().Eventually(func() bool {
		history, err := i.cli.UserEvents(ctx, userID, 0)
		return err == nil && history.Count == 1
	}, time.Second*30, time.Millisecond*250)

	history, err := i.cli.UserEvents(ctx, userID, 0)
	i.Require().NoError(err)
	i.Require().Equal(1, history.Count)

	got := history.Events[0]
	i.Require().Equal(accepted.EventID, got.EventID)
	i.Require().Equal(userID, got.UserID)
	i.Require().Equal("sess-42", got.SessionID)
	i.Require().Equal("page_view", got.Type)
	i.Require().Equal(map[string]any{"path": "/pricing", "referrer": "newsletter"}, got.Payload)
	i.Require().True(got.OccurredAt.Equal(time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)))
}

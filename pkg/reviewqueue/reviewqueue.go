// Package reviewqueue delivers escalated disagreements to the human-review
// webhook. Failed deliveries land in the dead letter queue and are redriven
// by the operator surface.
package reviewqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/validation-cli/internal/metrics"
	"github.com/sells-group/validation-cli/internal/resilience"
)

// DLQStore is the dead-letter persistence the queue needs.
type DLQStore interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
}

// Queue posts review payloads to a webhook.
type Queue struct {
	url        string
	http       *http.Client
	retry      resilience.RetryConfig
	dlq        DLQStore
	maxRetries int
}

// Option configures the queue.
type Option func(*Queue)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(q *Queue) {
		q.http = hc
	}
}

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(q *Queue) {
		q.retry = cfg
	}
}

// WithDeadLetter enables DLQ capture of failed deliveries.
func WithDeadLetter(store DLQStore, maxRetries int) Option {
	return func(q *Queue) {
		q.dlq = store
		q.maxRetries = maxRetries
	}
}

// New creates a review queue for the given webhook URL.
func New(url string, opts ...Option) (*Queue, error) {
	if url == "" {
		return nil, eris.New("reviewqueue: webhook url is required")
	}
	q := &Queue{
		url:        url,
		http:       &http.Client{Timeout: 15 * time.Second},
		retry:      resilience.DefaultRetryConfig(),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Push delivers one payload, retrying transient failures. When delivery
// ultimately fails and a DLQ is configured, the payload is captured for
// redelivery and the original error is still returned.
func (q *Queue) Push(ctx context.Context, id string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "reviewqueue: marshal payload %s", id)
	}

	retryCfg := q.retry
	retryCfg.OnRetry = resilience.RetryLogger("reviewqueue", "push")

	pushErr := resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		return q.post(ctx, body)
	})
	if pushErr == nil {
		return nil
	}

	metrics.RecordReviewPushFailure()
	if q.dlq != nil {
		now := time.Now().UTC()
		entry := resilience.DLQEntry{
			DisagreementID: id,
			Payload:        body,
			Error:          pushErr.Error(),
			ErrorType:      resilience.ClassifyError(pushErr),
			MaxRetries:     q.maxRetries,
			NextRetryAt:    now.Add(time.Minute),
			CreatedAt:      now,
			LastFailedAt:   now,
		}
		if err := q.dlq.EnqueueDLQ(ctx, entry); err != nil {
			zap.L().Error("reviewqueue: dlq enqueue failed",
				zap.String("disagreement_id", id),
				zap.Error(err),
			)
		}
	}
	return eris.Wrapf(pushErr, "reviewqueue: push %s", id)
}

// Redeliver drains due DLQ entries, reposting each payload. Entries that
// succeed are removed; failures increment the retry counter with backoff.
func (q *Queue) Redeliver(ctx context.Context) (delivered, failed int, err error) {
	if q.dlq == nil {
		return 0, 0, nil
	}

	entries, err := q.dlq.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: "transient"})
	if err != nil {
		return 0, 0, eris.Wrap(err, "reviewqueue: dequeue dlq")
	}

	for _, entry := range entries {
		if postErr := q.post(ctx, entry.Payload); postErr != nil {
			failed++
			next := time.Now().UTC().Add(entry.NextBackoff())
			if incErr := q.dlq.IncrementDLQRetry(ctx, entry.ID, next, postErr.Error()); incErr != nil {
				zap.L().Warn("reviewqueue: dlq retry bump failed",
					zap.String("id", entry.ID),
					zap.Error(incErr),
				)
			}
			continue
		}
		if rmErr := q.dlq.RemoveDLQ(ctx, entry.ID); rmErr != nil {
			zap.L().Warn("reviewqueue: dlq remove failed",
				zap.String("id", entry.ID),
				zap.Error(rmErr),
			)
		}
		delivered++
	}

	if delivered+failed > 0 {
		zap.L().Info("reviewqueue: redelivery pass complete",
			zap.Int("delivered", delivered),
			zap.Int("failed", failed),
		)
	}
	return delivered, failed, nil
}

func (q *Queue) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "reviewqueue: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "reviewqueue: post")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("webhook returned %d", resp.StatusCode)
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(err, resp.StatusCode)
	}
	return err
}

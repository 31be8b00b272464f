package resilience

import (
	"encoding/json"
	"time"
)

// DLQEntry represents a failed review-queue delivery that can be retried
// later. Escalations are persisted as escalated even when the webhook push
// fails; the entry keeps the payload until redelivery succeeds or retries
// are exhausted.
type DLQEntry struct {
	ID             string          `json:"id"`
	DisagreementID string          `json:"disagreement_id"`
	Payload        json.RawMessage `json:"payload"`
	Error          string          `json:"error"`
	ErrorType      string          `json:"error_type"` // "transient" or "permanent"
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	NextRetryAt    time.Time       `json:"next_retry_at"`
	CreatedAt      time.Time       `json:"created_at"`
	LastFailedAt   time.Time       `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// NextBackoff computes the redelivery delay for the entry's retry count:
// exponential from one minute, capped at one hour.
func (e *DLQEntry) NextBackoff() time.Duration {
	delay := time.Minute
	for i := 0; i < e.RetryCount && delay < time.Hour; i++ {
		delay *= 2
	}
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/validation-cli/internal/model"
	"github.com/sells-group/validation-cli/internal/resilience"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the validation pipeline.
// Workflows are persisted as complete snapshots so a suspension can outlive
// the process that created it; a single-row update is what makes an
// iteration publish atomic.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *model.ValidationWorkflow) error
	UpdateWorkflow(ctx context.Context, wf *model.ValidationWorkflow) error
	GetWorkflow(ctx context.Context, id string) (*model.ValidationWorkflow, error)
	ListWorkflows(ctx context.Context, filter model.WorkflowFilter) ([]model.ValidationWorkflow, error)

	// Disagreements
	CreateDisagreement(ctx context.Context, d *model.Disagreement) error
	UpdateDisagreement(ctx context.Context, d *model.Disagreement) error
	GetDisagreement(ctx context.Context, id string) (*model.Disagreement, error)
	ListDisagreements(ctx context.Context, filter model.DisagreementFilter) ([]model.Disagreement, error)

	// Learning events
	CreateLearningEvent(ctx context.Context, event model.LearningEvent) error
	ListLearningEvents(ctx context.Context, filter model.LearningEventFilter) ([]model.LearningEvent, error)
	MarkEventsProcessed(ctx context.Context, ids []string) error

	// Insights and retraining
	CreateInsight(ctx context.Context, insight *model.Insight) error
	ListInsights(ctx context.Context, limit int) ([]model.Insight, error)
	CreateRetrainingRequest(ctx context.Context, req *model.RetrainingRequest) error
	ListRetrainingRequests(ctx context.Context, limit int) ([]model.RetrainingRequest, error)

	// Dead letter queue for failed review deliveries
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

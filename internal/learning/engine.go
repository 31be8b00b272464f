// Package learning accumulates validation and disagreement outcomes as
// immutable events, aggregates them into insights, and issues rate-limited
// retraining requests to an external training system.
package learning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/validation-cli/internal/config"
	"github.com/sells-group/validation-cli/internal/metrics"
	"github.com/sells-group/validation-cli/internal/model"
)

// ErrRetrainingRateLimited is returned when a retraining trigger exceeds the
// configured hourly budget.
var ErrRetrainingRateLimited = eris.New("learning: retraining rate limit exceeded")

// Store is the persistence surface the engine needs.
type Store interface {
	CreateLearningEvent(ctx context.Context, event model.LearningEvent) error
	ListLearningEvents(ctx context.Context, filter model.LearningEventFilter) ([]model.LearningEvent, error)
	MarkEventsProcessed(ctx context.Context, ids []string) error
	CreateInsight(ctx context.Context, insight *model.Insight) error
	ListInsights(ctx context.Context, limit int) ([]model.Insight, error)
	CreateRetrainingRequest(ctx context.Context, req *model.RetrainingRequest) error
}

// Engine is the continuous learning engine.
type Engine struct {
	cfg     config.LearningConfig
	store   Store
	limiter *rate.Limiter
	now     func() time.Time
}

// NewEngine creates a learning engine. The store is required.
func NewEngine(cfg config.LearningConfig, store Store) (*Engine, error) {
	if store == nil {
		return nil, eris.New("learning: store is required")
	}
	perHour := cfg.RetrainingPerHour
	if perHour <= 0 {
		perHour = 1
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(perHour/3600.0), 1),
		now:     time.Now,
	}, nil
}

// WithNow sets a fixed time for testing.
func (e *Engine) WithNow(t time.Time) *Engine {
	e.now = func() time.Time { return t }
	return e
}

// RecordEvent persists an immutable learning event. Events are never mutated
// after this point; ProcessBatch only flips the processed marker.
func (e *Engine) RecordEvent(ctx context.Context, event model.LearningEvent) error {
	if event.Type == "" {
		return eris.New("learning: event type is required")
	}
	if event.SourceID == "" {
		return eris.New("learning: event source id is required")
	}
	if event.Impact < -1.0 || event.Impact > 1.0 {
		return eris.Errorf("learning: impact %.2f outside [-1.0, 1.0]", event.Impact)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now().UTC()
	}
	return eris.Wrap(e.store.CreateLearningEvent(ctx, event), "learning: record event")
}

// cluster groups events sharing a source type and category.
type cluster struct {
	sourceType string
	category   string
	events     []model.LearningEvent
	sumImpact  float64
}

// ProcessBatch consumes the accumulated unprocessed events: clusters them by
// (source type, category), computes aggregate impact per cluster, and emits
// an Insight for every cluster whose event count and average impact magnitude
// both clear the configured thresholds.
func (e *Engine) ProcessBatch(ctx context.Context) (*model.BatchResult, error) {
	events, err := e.store.ListLearningEvents(ctx, model.LearningEventFilter{
		Unprocessed: true,
		Limit:       e.cfg.BatchSize,
	})
	if err != nil {
		return nil, eris.Wrap(err, "learning: list unprocessed events")
	}

	result := &model.BatchResult{
		NextBatchAt: e.now().UTC().Add(e.cfg.BatchInterval),
	}
	if len(events) == 0 {
		return result, nil
	}

	clusters := make(map[string]*cluster)
	for _, ev := range events {
		key := string(ev.Type) + "|" + ev.Category
		c, ok := clusters[key]
		if !ok {
			c = &cluster{sourceType: string(ev.Type), category: ev.Category}
			clusters[key] = c
		}
		c.events = append(c.events, ev)
		c.sumImpact += ev.Impact
	}

	keys := make([]string, 0, len(clusters))
	for k := range clusters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var processedIDs []string
	for _, key := range keys {
		c := clusters[key]
		avg := c.sumImpact / float64(len(c.events))

		if len(c.events) >= e.cfg.MinClusterEvents && math.Abs(avg) >= e.cfg.MinClusterImpact {
			insight := e.buildInsight(c, avg)
			if err := e.store.CreateInsight(ctx, insight); err != nil {
				zap.L().Error("learning: insight create failed",
					zap.String("category", c.category),
					zap.Error(err),
				)
				result.Errors++
			} else {
				result.InsightsGenerated++
			}
		}

		for _, ev := range c.events {
			processedIDs = append(processedIDs, ev.ID)
		}
	}

	if err := e.store.MarkEventsProcessed(ctx, processedIDs); err != nil {
		return nil, eris.Wrap(err, "learning: mark processed")
	}
	result.Processed = len(processedIDs)
	metrics.RecordInsights(result.InsightsGenerated)

	zap.L().Info("learning: batch processed",
		zap.Int("events", result.Processed),
		zap.Int("insights", result.InsightsGenerated),
		zap.Int("errors", result.Errors),
	)

	return result, nil
}

// RetrainingOptions bound an explicit retraining trigger.
type RetrainingOptions struct {
	Priority        model.RetrainingPriority
	ValidationSplit float64
	MaxEpochs       int
	InsightIDs      []string
}

// TriggerRetraining records a retraining request for an external training
// system. Explicit and rate-limited; insights never retrain anything on
// their own.
func (e *Engine) TriggerRetraining(ctx context.Context, targetModel string, opts RetrainingOptions) (*model.RetrainingRequest, error) {
	if targetModel == "" {
		return nil, eris.New("learning: target model is required")
	}
	switch opts.Priority {
	case model.RetrainingPriorityLow, model.RetrainingPriorityNormal, model.RetrainingPriorityHigh:
	case "":
		opts.Priority = model.RetrainingPriorityNormal
	default:
		return nil, eris.Errorf("learning: unknown priority %q", opts.Priority)
	}
	if opts.ValidationSplit <= 0 || opts.ValidationSplit > 0.5 {
		return nil, eris.Errorf("learning: validation split %.2f outside (0, 0.5]", opts.ValidationSplit)
	}
	if opts.MaxEpochs < 1 || opts.MaxEpochs > e.cfg.MaxEpochs {
		return nil, eris.Errorf("learning: epochs must be in [1, %d]", e.cfg.MaxEpochs)
	}

	if !e.limiter.Allow() {
		return nil, ErrRetrainingRateLimited
	}

	req := &model.RetrainingRequest{
		ID:              uuid.New().String(),
		TargetModel:     targetModel,
		Priority:        opts.Priority,
		ValidationSplit: opts.ValidationSplit,
		MaxEpochs:       opts.MaxEpochs,
		InsightIDs:      opts.InsightIDs,
		RequestedAt:     e.now().UTC(),
	}
	if err := e.store.CreateRetrainingRequest(ctx, req); err != nil {
		return nil, eris.Wrap(err, "learning: create retraining request")
	}

	zap.L().Info("learning: retraining requested",
		zap.String("target_model", targetModel),
		zap.String("priority", string(req.Priority)),
		zap.Int("max_epochs", req.MaxEpochs),
	)

	return req, nil
}

// buildInsight turns a qualifying cluster into an Insight with a confidence
// that grows with the evidence count and a direction-aware recommendation.
func (e *Engine) buildInsight(c *cluster, avg float64) *model.Insight {
	count := len(c.events)
	confidence := math.Min(0.99, float64(count)/(float64(count)+5)) * math.Min(1, math.Abs(avg)+0.5)

	var action string
	if avg < 0 {
		action = fmt.Sprintf("Recurring negative outcomes for %s/%s: tighten the %s check or queue targeted retraining.",
			c.sourceType, c.category, c.category)
	} else {
		action = fmt.Sprintf("Consistently positive outcomes for %s/%s: current thresholds are holding, consider relaxing manual review.",
			c.sourceType, c.category)
	}

	return &model.Insight{
		ID:                uuid.New().String(),
		SourceType:        c.sourceType,
		Category:          c.category,
		EventCount:        count,
		AvgImpact:         math.Round(avg*1000) / 1000,
		Confidence:        math.Round(confidence*1000) / 1000,
		RecommendedAction: action,
		CreatedAt:         e.now().UTC(),
	}
}

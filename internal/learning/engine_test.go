package learning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/validation-cli/internal/config"
	"github.com/sells-group/validation-cli/internal/model"
)

// fakeStore is an in-memory learning store. Guarded by a mutex because the
// scheduler exercises it from the cron goroutine.
type fakeStore struct {
	mu         sync.Mutex
	events     []model.LearningEvent
	insights   []model.Insight
	retraining []model.RetrainingRequest
}

func (f *fakeStore) CreateLearningEvent(_ context.Context, ev model.LearningEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) ListLearningEvents(_ context.Context, filter model.LearningEventFilter) ([]model.LearningEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.LearningEvent
	for _, ev := range f.events {
		if filter.Unprocessed && ev.Processed {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) MarkEventsProcessed(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i := range f.events {
		if set[f.events[i].ID] {
			f.events[i].Processed = true
		}
	}
	return nil
}

func (f *fakeStore) CreateInsight(_ context.Context, in *model.Insight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insights = append(f.insights, *in)
	return nil
}

func (f *fakeStore) ListInsights(_ context.Context, limit int) ([]model.Insight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Insight, len(f.insights))
	copy(out, f.insights)
	return out, nil
}

func (f *fakeStore) CreateRetrainingRequest(_ context.Context, req *model.RetrainingRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retraining = append(f.retraining, *req)
	return nil
}

func testCfg() config.LearningConfig {
	return config.LearningConfig{
		BatchInterval:     5 * time.Minute,
		BatchSize:         500,
		MinClusterEvents:  3,
		MinClusterImpact:  0.3,
		RetrainingPerHour: 2,
		MaxEpochs:         10,
	}
}

func testEngine(t *testing.T) (*Engine, *fakeStore) {
	t.Helper()
	st := &fakeStore{}
	e, err := NewEngine(testCfg(), st)
	require.NoError(t, err)
	return e.WithNow(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)), st
}

func TestRecordEvent_FillsDefaults(t *testing.T) {
	e, st := testEngine(t)

	err := e.RecordEvent(context.Background(), model.LearningEvent{
		Type:     model.LearningEventValidationOutcome,
		SourceID: "wf-1",
		Category: "approved",
		Impact:   0.5,
	})
	require.NoError(t, err)

	require.Len(t, st.events, 1)
	assert.NotEmpty(t, st.events[0].ID)
	assert.False(t, st.events[0].CreatedAt.IsZero())
	assert.False(t, st.events[0].Processed)
}

func TestRecordEvent_Validation(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	assert.Error(t, e.RecordEvent(ctx, model.LearningEvent{SourceID: "x", Impact: 0}))
	assert.Error(t, e.RecordEvent(ctx, model.LearningEvent{Type: model.LearningEventEscalation, Impact: 0}))
	assert.Error(t, e.RecordEvent(ctx, model.LearningEvent{Type: model.LearningEventEscalation, SourceID: "x", Impact: 1.5}))
	assert.Error(t, e.RecordEvent(ctx, model.LearningEvent{Type: model.LearningEventEscalation, SourceID: "x", Impact: -1.5}))
}

func seedEvents(t *testing.T, e *Engine, n int, evType model.LearningEventType, category string, impact float64) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, e.RecordEvent(context.Background(), model.LearningEvent{
			Type:     evType,
			SourceID: "src",
			Category: category,
			Impact:   impact,
		}))
	}
}

func TestProcessBatch_EmitsInsightForQualifyingCluster(t *testing.T) {
	e, st := testEngine(t)

	seedEvents(t, e, 4, model.LearningEventEscalation, "severity_threshold", -0.5)

	result, err := e.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, result.Processed)
	assert.Equal(t, 1, result.InsightsGenerated)
	assert.Zero(t, result.Errors)

	require.Len(t, st.insights, 1)
	in := st.insights[0]
	assert.Equal(t, "escalation", in.SourceType)
	assert.Equal(t, "severity_threshold", in.Category)
	assert.Equal(t, 4, in.EventCount)
	assert.InDelta(t, -0.5, in.AvgImpact, 0.001)
	assert.Contains(t, in.RecommendedAction, "tighten")

	// Every event is marked processed, insight or not.
	for _, ev := range st.events {
		assert.True(t, ev.Processed)
	}
}

func TestProcessBatch_BelowThresholdsNoInsight(t *testing.T) {
	e, st := testEngine(t)

	// Too few events in the cluster.
	seedEvents(t, e, 2, model.LearningEventEscalation, "issue_count", -0.9)
	// Enough events but average impact below the bar.
	seedEvents(t, e, 5, model.LearningEventValidationOutcome, "approved", 0.1)

	result, err := e.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, result.Processed)
	assert.Zero(t, result.InsightsGenerated)
	assert.Empty(t, st.insights)
}

func TestProcessBatch_PositiveClusterRecommendsRelaxing(t *testing.T) {
	e, st := testEngine(t)

	seedEvents(t, e, 5, model.LearningEventDisagreementResolved, "accept_validator", 0.6)

	_, err := e.ProcessBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, st.insights, 1)
	assert.Contains(t, st.insights[0].RecommendedAction, "relaxing")
}

func TestProcessBatch_SecondRunSeesNothing(t *testing.T) {
	e, _ := testEngine(t)

	seedEvents(t, e, 4, model.LearningEventEscalation, "severity_threshold", -0.5)

	_, err := e.ProcessBatch(context.Background())
	require.NoError(t, err)

	result, err := e.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
	assert.Zero(t, result.InsightsGenerated)
}

func TestProcessBatch_ConfidenceGrowsWithEvidence(t *testing.T) {
	e, st := testEngine(t)
	seedEvents(t, e, 3, model.LearningEventEscalation, "small", -0.6)
	seedEvents(t, e, 20, model.LearningEventEscalation, "large", -0.6)

	_, err := e.ProcessBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, st.insights, 2)
	byCategory := map[string]model.Insight{}
	for _, in := range st.insights {
		byCategory[in.Category] = in
	}
	assert.Greater(t, byCategory["large"].Confidence, byCategory["small"].Confidence)
}

func TestTriggerRetraining(t *testing.T) {
	e, st := testEngine(t)

	req, err := e.TriggerRetraining(context.Background(), "generator-v2", RetrainingOptions{
		Priority:        model.RetrainingPriorityHigh,
		ValidationSplit: 0.2,
		MaxEpochs:       5,
		InsightIDs:      []string{"in-1"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "generator-v2", req.TargetModel)
	assert.Equal(t, model.RetrainingPriorityHigh, req.Priority)
	require.Len(t, st.retraining, 1)
}

func TestTriggerRetraining_DefaultsPriority(t *testing.T) {
	e, _ := testEngine(t)

	req, err := e.TriggerRetraining(context.Background(), "generator-v2", RetrainingOptions{
		ValidationSplit: 0.1,
		MaxEpochs:       1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RetrainingPriorityNormal, req.Priority)
}

func TestTriggerRetraining_Validation(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	_, err := e.TriggerRetraining(ctx, "", RetrainingOptions{ValidationSplit: 0.2, MaxEpochs: 5})
	assert.Error(t, err)

	_, err = e.TriggerRetraining(ctx, "m", RetrainingOptions{ValidationSplit: 0.6, MaxEpochs: 5})
	assert.Error(t, err)

	_, err = e.TriggerRetraining(ctx, "m", RetrainingOptions{ValidationSplit: 0.2, MaxEpochs: 99})
	assert.Error(t, err)

	_, err = e.TriggerRetraining(ctx, "m", RetrainingOptions{Priority: "urgent", ValidationSplit: 0.2, MaxEpochs: 5})
	assert.Error(t, err)
}

func TestTriggerRetraining_RateLimited(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()
	opts := RetrainingOptions{ValidationSplit: 0.2, MaxEpochs: 5}

	_, err := e.TriggerRetraining(ctx, "m", opts)
	require.NoError(t, err)

	// Burst of one: the second immediate trigger must be rejected.
	_, err = e.TriggerRetraining(ctx, "m", opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrainingRateLimited)
}

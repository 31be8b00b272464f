package disagreement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/validation-cli/internal/config"
	"github.com/sells-group/validation-cli/internal/model"
)

// fakeStore is an in-memory disagreement store.
type fakeStore struct {
	disagreements map[string]*model.Disagreement
}

func newFakeStore() *fakeStore {
	return &fakeStore{disagreements: make(map[string]*model.Disagreement)}
}

func (f *fakeStore) CreateDisagreement(_ context.Context, d *model.Disagreement) error {
	cp := *d
	f.disagreements[d.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateDisagreement(_ context.Context, d *model.Disagreement) error {
	if _, ok := f.disagreements[d.ID]; !ok {
		return errors.New("not found")
	}
	cp := *d
	f.disagreements[d.ID] = &cp
	return nil
}

func (f *fakeStore) GetDisagreement(_ context.Context, id string) (*model.Disagreement, error) {
	d, ok := f.disagreements[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *d
	return &cp, nil
}

func (f *fakeStore) ListDisagreements(_ context.Context, filter model.DisagreementFilter) ([]model.Disagreement, error) {
	var out []model.Disagreement
	for _, d := range f.disagreements {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !d.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

type fakeQueue struct {
	pushed []model.Disagreement
	err    error
}

func (f *fakeQueue) Push(_ context.Context, d *model.Disagreement) error {
	if f.err != nil {
		return f.err
	}
	f.pushed = append(f.pushed, *d)
	return nil
}

type fakeRecorder struct {
	events []model.LearningEvent
}

func (f *fakeRecorder) RecordEvent(_ context.Context, ev model.LearningEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func testCfg() config.DisagreementConfig {
	return config.DisagreementConfig{
		ConfidenceDelta:     0.3,
		SeverityThreshold:   model.SeverityHigh,
		IssueCountThreshold: 3,
		PendingTimeout:      48 * time.Hour,
	}
}

func testHandler(t *testing.T) (*Handler, *fakeStore, *fakeQueue, *fakeRecorder) {
	t.Helper()
	st := newFakeStore()
	q := &fakeQueue{}
	rec := &fakeRecorder{}
	h, err := NewHandler(testCfg(), st, q, rec)
	require.NoError(t, err)
	return h.WithNow(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)), st, q, rec
}

func passingFactors() model.ConfidenceFactors {
	return model.ConfidenceFactors{
		Accuracy: 90, Bias: 90, Clarity: 90, Consistency: 90, Compliance: 90,
	}
}

func testWorkflow() *model.ValidationWorkflow {
	return &model.ValidationWorkflow{ID: "wf-1", ArtifactID: "art-1"}
}

func TestDetect_ConfidenceDelta(t *testing.T) {
	h, _, _, _ := testHandler(t)

	// Validator computes 0.90, generator claimed 0.50: delta 0.40 > 0.3.
	node := model.Node{ID: "n1", Content: "claim", GeneratorConfidence: 0.5}

	d, err := h.Detect(context.Background(), testWorkflow(), node, passingFactors(), nil, model.DefaultWeights())
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, model.DisagreementTypeConfidenceDelta, d.Type)
	assert.Equal(t, model.DisagreementStatusPending, d.Status)
	assert.Equal(t, 0.5, d.Generator.Confidence)
	assert.InDelta(t, 0.9, d.Validator.Confidence, 0.001)
}

func TestDetect_SeverityThreshold(t *testing.T) {
	h, _, _, _ := testHandler(t)

	node := model.Node{ID: "n1", Content: "claim", GeneratorConfidence: 0.88}
	issues := []model.Issue{
		{NodeID: "n1", Category: model.FactorBias, Severity: model.SeverityHigh, Description: "bias indicator"},
	}

	d, err := h.Detect(context.Background(), testWorkflow(), node, passingFactors(), issues, model.DefaultWeights())
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, model.DisagreementTypeSeverity, d.Type)
	assert.Equal(t, model.SeverityHigh, d.Severity)
	assert.Contains(t, d.Validator.Evidence, "bias indicator")
}

func TestDetect_IssueCount(t *testing.T) {
	h, _, _, _ := testHandler(t)

	node := model.Node{ID: "n1", Content: "claim", GeneratorConfidence: 0.88}
	var issues []model.Issue
	for i := 0; i < 4; i++ {
		issues = append(issues, model.Issue{NodeID: "n1", Category: model.FactorClarity, Severity: model.SeverityLow})
	}

	d, err := h.Detect(context.Background(), testWorkflow(), node, passingFactors(), issues, model.DefaultWeights())
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, model.DisagreementTypeIssueCount, d.Type)
}

func TestDetect_NoTrigger(t *testing.T) {
	h, _, _, _ := testHandler(t)

	node := model.Node{ID: "n1", Content: "claim", GeneratorConfidence: 0.88}
	issues := []model.Issue{
		{NodeID: "n1", Category: model.FactorClarity, Severity: model.SeverityMedium},
	}

	d, err := h.Detect(context.Background(), testWorkflow(), node, passingFactors(), issues, model.DefaultWeights())
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestDetect_CriticalEscalatesImmediately(t *testing.T) {
	h, _, q, rec := testHandler(t)

	node := model.Node{ID: "n1", Content: "claim", GeneratorConfidence: 0.88}
	issues := []model.Issue{
		{NodeID: "n1", Category: model.FactorCompliance, Severity: model.SeverityCritical, Description: "regulated marker"},
	}

	d, err := h.Detect(context.Background(), testWorkflow(), node, passingFactors(), issues, model.DefaultWeights())
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, model.DisagreementStatusEscalated, d.Status)
	require.Len(t, q.pushed, 1)
	assert.Equal(t, d.ID, q.pushed[0].ID)

	require.Len(t, rec.events, 1)
	assert.Equal(t, model.LearningEventEscalation, rec.events[0].Type)
	assert.Equal(t, -0.5, rec.events[0].Impact)
}

func TestResolve(t *testing.T) {
	h, st, _, rec := testHandler(t)

	node := model.Node{ID: "n1", Content: "claim", GeneratorConfidence: 0.5}
	d, err := h.Detect(context.Background(), testWorkflow(), node, passingFactors(), nil, model.DefaultWeights())
	require.NoError(t, err)

	resolved, err := h.Resolve(context.Background(), d.ID, model.Resolution{
		Method:      model.ResolutionAcceptValidator,
		Explanation: "validator evidence is conclusive",
		Approver:    "reviewer-1",
	})
	require.NoError(t, err)

	assert.Equal(t, model.DisagreementStatusResolved, resolved.Status)
	require.NotNil(t, resolved.Resolution)

	stored, err := st.GetDisagreement(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DisagreementStatusResolved, stored.Status)

	require.Len(t, rec.events, 1)
	assert.Equal(t, model.LearningEventDisagreementResolved, rec.events[0].Type)
	assert.Equal(t, 0.6, rec.events[0].Impact)
}

func TestResolve_ImpactByMethod(t *testing.T) {
	tests := []struct {
		method model.ResolutionMethod
		impact float64
	}{
		{model.ResolutionAcceptValidator, 0.6},
		{model.ResolutionMerged, 0.3},
		{model.ResolutionAcceptGenerator, -0.3},
		{model.ResolutionManualOverride, -0.6},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			h, _, _, rec := testHandler(t)
			node := model.Node{ID: "n1", Content: "claim", GeneratorConfidence: 0.5}
			d, err := h.Detect(context.Background(), testWorkflow(), node, passingFactors(), nil, model.DefaultWeights())
			require.NoError(t, err)

			_, err = h.Resolve(context.Background(), d.ID, model.Resolution{
				Method:      tt.method,
				Explanation: "settled",
			})
			require.NoError(t, err)
			require.Len(t, rec.events, 1)
			assert.Equal(t, tt.impact, rec.events[0].Impact)
		})
	}
}

func TestResolve_RequiresExplanation(t *testing.T) {
	h, _, _, _ := testHandler(t)
	_, err := h.Resolve(context.Background(), "whatever", model.Resolution{Method: model.ResolutionMerged})
	require.Error(t, err)
}

func TestResolve_AlreadyResolved(t *testing.T) {
	h, _, _, _ := testHandler(t)

	node := model.Node{ID: "n1", Content: "claim", GeneratorConfidence: 0.5}
	d, err := h.Detect(context.Background(), testWorkflow(), node, passingFactors(), nil, model.DefaultWeights())
	require.NoError(t, err)

	res := model.Resolution{Method: model.ResolutionMerged, Explanation: "done"}
	_, err = h.Resolve(context.Background(), d.ID, res)
	require.NoError(t, err)

	_, err = h.Resolve(context.Background(), d.ID, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestEscalate_ThenResolve(t *testing.T) {
	h, _, q, _ := testHandler(t)

	node := model.Node{ID: "n1", Content: "claim", GeneratorConfidence: 0.5}
	d, err := h.Detect(context.Background(), testWorkflow(), node, passingFactors(), nil, model.DefaultWeights())
	require.NoError(t, err)

	escalated, err := h.Escalate(context.Background(), d.ID, "reviewer requested")
	require.NoError(t, err)
	assert.Equal(t, model.DisagreementStatusEscalated, escalated.Status)
	assert.Equal(t, "reviewer requested", escalated.EscalationReason)
	assert.Len(t, q.pushed, 1)

	// Escalated leaves that state only through resolution.
	resolved, err := h.Resolve(context.Background(), d.ID, model.Resolution{
		Method:      model.ResolutionManualOverride,
		Explanation: "human override",
	})
	require.NoError(t, err)
	assert.Equal(t, model.DisagreementStatusResolved, resolved.Status)
}

func TestEscalate_RequiresPending(t *testing.T) {
	h, _, _, _ := testHandler(t)

	node := model.Node{ID: "n1", Content: "claim", GeneratorConfidence: 0.5}
	d, err := h.Detect(context.Background(), testWorkflow(), node, passingFactors(), nil, model.DefaultWeights())
	require.NoError(t, err)

	_, err = h.Escalate(context.Background(), d.ID, "first")
	require.NoError(t, err)

	_, err = h.Escalate(context.Background(), d.ID, "second")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestExpirePending(t *testing.T) {
	h, st, q, _ := testHandler(t)

	node := model.Node{ID: "n1", Content: "claim", GeneratorConfidence: 0.5}
	d, err := h.Detect(context.Background(), testWorkflow(), node, passingFactors(), nil, model.DefaultWeights())
	require.NoError(t, err)

	// Age the disagreement past the pending timeout.
	aged := st.disagreements[d.ID]
	aged.CreatedAt = aged.CreatedAt.Add(-72 * time.Hour)

	n, err := h.ExpirePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, q.pushed, 1)

	stored, err := st.GetDisagreement(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DisagreementStatusEscalated, stored.Status)
}

func TestEscalate_QueueFailureStillPersists(t *testing.T) {
	h, st, q, _ := testHandler(t)
	q.err = errors.New("webhook down")

	node := model.Node{ID: "n1", Content: "claim", GeneratorConfidence: 0.5}
	d, err := h.Detect(context.Background(), testWorkflow(), node, passingFactors(), nil, model.DefaultWeights())
	require.NoError(t, err)

	_, err = h.Escalate(context.Background(), d.ID, "reviewer requested")
	require.NoError(t, err)

	stored, err := st.GetDisagreement(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DisagreementStatusEscalated, stored.Status)
}

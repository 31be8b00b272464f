// Package evaluation provides the independent validator-side AI capability:
// scoring content against criteria with a model that is never the one that
// generated it.
package evaluation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/validation-cli/internal/metrics"
	"github.com/sells-group/validation-cli/internal/resilience"
	"github.com/sells-group/validation-cli/pkg/anthropic"
)

const systemPrompt = `You are an independent content evaluator. Score the supplied content
against the stated criteria on a 0-100 scale and list concrete issues you find.
Respond with JSON only: {"score": <number>, "issues": ["<issue>", ...]}`

// Provider evaluates content with an Anthropic model, rate-limited and
// guarded by a circuit breaker. It satisfies the scorer's Evaluator interface.
type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
	breaker   *resilience.CircuitBreaker
	retry     resilience.RetryConfig
}

// Option configures the provider.
type Option func(*Provider)

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(p *Provider) {
		p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(p *Provider) {
		p.retry = cfg
	}
}

// WithBreaker overrides the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *Provider) {
		p.breaker = cb
	}
}

// NewProvider creates an evaluation provider.
func NewProvider(client anthropic.Client, model string, maxTokens int64, opts ...Option) (*Provider, error) {
	if client == nil {
		return nil, eris.New("evaluation: client is required")
	}
	if model == "" {
		return nil, eris.New("evaluation: model is required")
	}
	p := &Provider{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		limiter:   rate.NewLimiter(5, 1),
		breaker:   resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// verdict is the JSON shape the evaluator model must return.
type verdict struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues"`
}

// Evaluate scores content against criteria. The returned score is clamped to
// [0, 100]. Unreachable service or exhausted retries surface as an
// EvaluationUnavailable error so callers can fall back to heuristics.
func (p *Provider) Evaluate(ctx context.Context, content string, criteria string) (float64, []string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, nil, eris.Wrap(err, "evaluation: rate limit wait")
	}

	start := time.Now()
	retryCfg := p.retry
	retryCfg.OnRetry = resilience.RetryLogger("evaluation", "evaluate")

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return p.client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     p.model,
				MaxTokens: p.maxTokens,
				System:    []anthropic.SystemBlock{{Text: systemPrompt}},
				Messages: []anthropic.Message{
					{Role: "user", Content: "Criteria: " + criteria + "\n\nContent:\n" + content},
				},
			})
		})
	})
	metrics.RecordExternalCall("evaluation", time.Since(start).Seconds(), err)
	if err != nil {
		return 0, nil, resilience.EvaluationUnavailable(err)
	}

	resp.Usage.LogCost(p.model, "evaluation")

	v, err := parseVerdict(resp.Text())
	if err != nil {
		zap.L().Warn("evaluation: unparseable model response", zap.Error(err))
		return 0, nil, eris.Wrap(err, "evaluation: parse verdict")
	}
	return clamp(v.Score), v.Issues, nil
}

// parseVerdict extracts the JSON verdict from the model's text, tolerating
// surrounding prose or code fences.
func parseVerdict(text string) (*verdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.Errorf("no JSON object in %q", truncate(text, 80))
	}

	var v verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return nil, eris.Wrap(err, "unmarshal verdict")
	}
	return &v, nil
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

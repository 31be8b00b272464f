// Package generation wraps the generator-side AI: the model that produced an
// artifact and the one that receives feedback plans for revision. It is
// deliberately separate from evaluation; the two capabilities never share a
// model or a client.
package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/validation-cli/internal/metrics"
	"github.com/sells-group/validation-cli/internal/resilience"
	"github.com/sells-group/validation-cli/pkg/anthropic"
)

const reviseSystemPrompt = `You revise analytical content to address reviewer feedback.
Apply every instruction, preserve factual claims that were not flagged, and
return only the revised content with no preamble.`

// Client is the generator-side capability: producing content and applying
// revision feedback.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
	breaker   *resilience.CircuitBreaker
	retry     resilience.RetryConfig
}

// Option configures the client.
type Option func(*Client)

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithBreaker overrides the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// NewClient creates a generation client.
func NewClient(client anthropic.Client, model string, maxTokens int64, opts ...Option) (*Client, error) {
	if client == nil {
		return nil, eris.New("generation: client is required")
	}
	if model == "" {
		return nil, eris.New("generation: model is required")
	}
	c := &Client{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		limiter:   rate.NewLimiter(5, 1),
		breaker:   resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate produces content from a prompt. Failures surface as
// GenerationUnavailable so the workflow suspends instead of failing.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, "generate", nil, prompt)
}

// ApplyFeedback asks the generator to revise content according to the given
// instructions, ordered most important first.
func (c *Client) ApplyFeedback(ctx context.Context, content string, instructions []string) (string, error) {
	if len(instructions) == 0 {
		return content, nil
	}

	var b strings.Builder
	b.WriteString("Revise the following content to address each instruction.\n\nInstructions:\n")
	for i, inst := range instructions {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, inst)
	}
	b.WriteString("\nContent:\n")
	b.WriteString(content)

	return c.call(ctx, "apply_feedback", []anthropic.SystemBlock{{Text: reviseSystemPrompt}}, b.String())
}

func (c *Client) call(ctx context.Context, phase string, system []anthropic.SystemBlock, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "generation: rate limit wait")
	}

	start := time.Now()
	retryCfg := c.retry
	retryCfg.OnRetry = resilience.RetryLogger("generation", phase)

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return c.client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     c.model,
				MaxTokens: c.maxTokens,
				System:    system,
				Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
			})
		})
	})
	metrics.RecordExternalCall("generation", time.Since(start).Seconds(), err)
	if err != nil {
		return "", resilience.GenerationUnavailable(err)
	}

	resp.Usage.LogCost(c.model, phase)
	return strings.TrimSpace(resp.Text()), nil
}

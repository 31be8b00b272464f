package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/validation-cli/internal/disagreement"
	"github.com/sells-group/validation-cli/internal/feedback"
	"github.com/sells-group/validation-cli/internal/learning"
	"github.com/sells-group/validation-cli/internal/model"
	"github.com/sells-group/validation-cli/internal/reeval"
	"github.com/sells-group/validation-cli/internal/scorer"
	"github.com/sells-group/validation-cli/internal/store"
	"github.com/sells-group/validation-cli/internal/workflow"
	anthropicpkg "github.com/sells-group/validation-cli/pkg/anthropic"
	"github.com/sells-group/validation-cli/pkg/evaluation"
	"github.com/sells-group/validation-cli/pkg/reviewqueue"
)

// env holds the wired pipeline for one command invocation.
type env struct {
	Store         store.Store
	Orchestrator  *workflow.Orchestrator
	Learning      *learning.Engine
	Disagreements *disagreement.Handler
	Queue         *reviewqueue.Queue // nil when no webhook is configured
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "init postgres store")
		}
		return st, nil
	default:
		st, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "init sqlite store")
		}
		return st, nil
	}
}

// initEnv wires the full pipeline: store, evaluator, scorer, feedback,
// disagreements, learning, orchestrator.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	lex, err := scorer.LoadLexicon(cfg.Validation.LexiconPath)
	if err != nil {
		st.Close()
		return nil, err
	}

	// The evaluator is optional: without an API key the scorer runs on
	// heuristics alone.
	var evaluator scorer.Evaluator
	if cfg.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		evaluator, err = evaluation.NewProvider(client, cfg.Anthropic.EvaluatorModel, cfg.Anthropic.MaxTokens,
			evaluation.WithRateLimit(cfg.Anthropic.RequestsPerSec),
		)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	sc, err := scorer.New(cfg.Validation, lex, evaluator)
	if err != nil {
		st.Close()
		return nil, err
	}
	re, err := reeval.New(sc)
	if err != nil {
		st.Close()
		return nil, err
	}
	fb := feedback.NewGenerator(cfg.Validation.Weights)

	eng, err := learning.NewEngine(cfg.Learning, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	var queue *reviewqueue.Queue
	var rq disagreement.ReviewQueue = logOnlyQueue{}
	if cfg.ReviewQueue.WebhookURL != "" {
		queue, err = reviewqueue.New(cfg.ReviewQueue.WebhookURL,
			reviewqueue.WithDeadLetter(st, 5),
		)
		if err != nil {
			st.Close()
			return nil, err
		}
		rq = queueAdapter{queue}
	}

	dh, err := disagreement.NewHandler(cfg.Disagreement, st, rq, eng)
	if err != nil {
		st.Close()
		return nil, err
	}

	orch, err := workflow.New(cfg.Validation, st, sc, re, fb, dh, eng)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &env{
		Store:         st,
		Orchestrator:  orch,
		Learning:      eng,
		Disagreements: dh,
		Queue:         queue,
	}, nil
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

// queueAdapter bridges the webhook queue to the disagreement handler's
// ReviewQueue surface.
type queueAdapter struct {
	q *reviewqueue.Queue
}

func (a queueAdapter) Push(ctx context.Context, d *model.Disagreement) error {
	return a.q.Push(ctx, d.ID, d)
}

// logOnlyQueue stands in when no webhook is configured. Escalations are
// still persisted; reviewers find them through the disagreements commands.
type logOnlyQueue struct{}

func (logOnlyQueue) Push(ctx context.Context, d *model.Disagreement) error {
	zap.L().Warn("no review queue configured; escalation not delivered",
		zap.String("disagreement_id", d.ID),
		zap.String("workflow_id", d.WorkflowID),
	)
	return nil
}

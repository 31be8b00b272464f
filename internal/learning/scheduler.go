package learning

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Scheduler runs ProcessBatch on the configured interval. Batch processing is
// deliberately periodic rather than per-event; events accumulate between runs.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron
}

// NewScheduler wires the engine's batch interval into a cron runner.
func NewScheduler(engine *Engine) (*Scheduler, error) {
	if engine == nil {
		return nil, eris.New("learning: engine is required")
	}
	s := &Scheduler{
		engine: engine,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}

	spec := fmt.Sprintf("@every %s", engine.cfg.BatchInterval)
	if _, err := s.cron.AddFunc(spec, s.runBatch); err != nil {
		return nil, eris.Wrapf(err, "learning: schedule %q", spec)
	}
	return s, nil
}

// Start begins the periodic batch runs.
func (s *Scheduler) Start() {
	s.cron.Start()
	zap.L().Info("learning: batch scheduler started",
		zap.Duration("interval", s.engine.cfg.BatchInterval),
	)
}

// Stop halts scheduling and waits for an in-flight batch to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	zap.L().Info("learning: batch scheduler stopped")
}

func (s *Scheduler) runBatch() {
	ctx, cancel := context.WithTimeout(context.Background(), s.engine.cfg.BatchInterval)
	defer cancel()

	if _, err := s.engine.ProcessBatch(ctx); err != nil {
		zap.L().Error("learning: scheduled batch failed", zap.Error(err))
	}
}

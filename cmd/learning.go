package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/validation-cli/internal/learning"
	"github.com/sells-group/validation-cli/internal/model"
	"github.com/sells-group/validation-cli/internal/store"
)

var (
	insightsLimit   int
	retrainPriority string
	retrainSplit    float64
	retrainEpochs   int
	retrainInsights []string
	importFile      string
)

var learningCmd = &cobra.Command{
	Use:   "learning",
	Short: "Operate the continuous learning engine",
}

var learningProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one learning batch now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Learning.ProcessBatch(ctx)
		if err != nil {
			return eris.Wrap(err, "process learning batch")
		}

		zap.L().Info("learning batch complete",
			zap.Int("processed", result.Processed),
			zap.Int("insights", result.InsightsGenerated),
			zap.Int("errors", result.Errors),
		)
		return printJSON(result)
	},
}

var learningWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run learning batches on the configured interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sched, err := learning.NewScheduler(env.Learning)
		if err != nil {
			return err
		}
		sched.Start()
		zap.L().Info("learning scheduler running",
			zap.Duration("interval", cfg.Learning.BatchInterval),
		)

		<-ctx.Done()
		sched.Stop()
		return nil
	},
}

var learningInsightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "List generated insights, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		insights, err := env.Store.ListInsights(ctx, insightsLimit)
		if err != nil {
			return eris.Wrap(err, "list insights")
		}
		return printJSON(insights)
	},
}

var learningRetrainCmd = &cobra.Command{
	Use:   "retrain <target-model>",
	Short: "Request retraining of a model (rate limited)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		req, err := env.Learning.TriggerRetraining(ctx, args[0], learning.RetrainingOptions{
			Priority:        model.RetrainingPriority(retrainPriority),
			ValidationSplit: retrainSplit,
			MaxEpochs:       retrainEpochs,
			InsightIDs:      retrainInsights,
		})
		if err != nil {
			return eris.Wrap(err, "trigger retraining")
		}

		zap.L().Info("retraining requested",
			zap.String("request_id", req.ID),
			zap.String("target_model", req.TargetModel),
			zap.String("priority", string(req.Priority)),
		)
		return printJSON(req)
	},
}

var learningImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-load historical learning events from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(importFile)
		if err != nil {
			return eris.Wrapf(err, "read events %s", importFile)
		}
		var events []model.LearningEvent
		if err := json.Unmarshal(raw, &events); err != nil {
			return eris.Wrapf(err, "parse events %s", importFile)
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Postgres gets the bulk path; sqlite inserts one at a time.
		if pg, ok := env.Store.(*store.PostgresStore); ok {
			n, err := pg.ImportLearningEvents(ctx, events)
			if err != nil {
				return eris.Wrap(err, "import events")
			}
			zap.L().Info("events imported", zap.Int64("count", n))
			return nil
		}

		n := 0
		for _, e := range events {
			if err := env.Store.CreateLearningEvent(ctx, e); err != nil {
				zap.L().Warn("event import failed",
					zap.String("event_id", e.ID),
					zap.Error(err),
				)
				continue
			}
			n++
		}
		zap.L().Info("events imported", zap.Int("count", n))
		return nil
	},
}

func init() {
	learningInsightsCmd.Flags().IntVar(&insightsLimit, "limit", 50, "max insights to return")

	learningRetrainCmd.Flags().StringVar(&retrainPriority, "priority", "normal", "low, normal, or high")
	learningRetrainCmd.Flags().Float64Var(&retrainSplit, "validation-split", 0.2, "validation split in (0, 0.5]")
	learningRetrainCmd.Flags().IntVar(&retrainEpochs, "max-epochs", 5, "max training epochs")
	learningRetrainCmd.Flags().StringSliceVar(&retrainInsights, "insight", nil, "insight ids motivating the request (repeatable)")

	learningImportCmd.Flags().StringVar(&importFile, "file", "", "events JSON file (required)")
	_ = learningImportCmd.MarkFlagRequired("file")

	learningCmd.AddCommand(
		learningProcessCmd,
		learningWatchCmd,
		learningInsightsCmd,
		learningRetrainCmd,
		learningImportCmd,
	)
	rootCmd.AddCommand(learningCmd)
}

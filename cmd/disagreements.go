package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/validation-cli/internal/model"
)

var (
	dStatus      string
	dSeverity    string
	dWorkflow    string
	dLimit       int
	dMethod      string
	dExplanation string
	dApprover    string
	dContent     string
	dNotes       string
	dReason      string
)

var disagreementsCmd = &cobra.Command{
	Use:   "disagreements",
	Short: "Review and settle generator/validator disagreements",
}

var disagreementsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List disagreements",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ds, err := env.Disagreements.List(ctx, model.DisagreementFilter{
			Status:     model.DisagreementStatus(dStatus),
			Severity:   model.Severity(dSeverity),
			WorkflowID: dWorkflow,
			Limit:      dLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list disagreements")
		}
		return printJSON(ds)
	},
}

var disagreementsResolveCmd = &cobra.Command{
	Use:   "resolve <disagreement-id>",
	Short: "Resolve a pending or escalated disagreement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		d, err := env.Disagreements.Resolve(ctx, args[0], model.Resolution{
			Method:        model.ResolutionMethod(dMethod),
			FinalContent:  dContent,
			Explanation:   dExplanation,
			Approver:      dApprover,
			LearningNotes: dNotes,
		})
		if err != nil {
			return eris.Wrapf(err, "resolve disagreement %s", args[0])
		}
		return printJSON(d)
	},
}

var disagreementsEscalateCmd = &cobra.Command{
	Use:   "escalate <disagreement-id>",
	Short: "Escalate a pending disagreement to human review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		d, err := env.Disagreements.Escalate(ctx, args[0], dReason)
		if err != nil {
			return eris.Wrapf(err, "escalate disagreement %s", args[0])
		}
		return printJSON(d)
	},
}

var disagreementsExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Escalate pending disagreements past the policy timeout",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Disagreements.ExpirePending(ctx)
		if err != nil {
			return eris.Wrap(err, "expire pending disagreements")
		}

		zap.L().Info("pending expiry pass complete", zap.Int("escalated", n))
		return nil
	},
}

var disagreementsRedeliverCmd = &cobra.Command{
	Use:   "redeliver",
	Short: "Redrive failed review-queue deliveries from the dead letter queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Queue == nil {
			return eris.New("no review queue webhook configured")
		}

		delivered, failed, err := env.Queue.Redeliver(ctx)
		if err != nil {
			return eris.Wrap(err, "redeliver dlq")
		}

		zap.L().Info("dlq redelivery complete",
			zap.Int("delivered", delivered),
			zap.Int("failed", failed),
		)
		return nil
	},
}

func init() {
	disagreementsListCmd.Flags().StringVar(&dStatus, "status", "", "filter by status")
	disagreementsListCmd.Flags().StringVar(&dSeverity, "severity", "", "minimum severity")
	disagreementsListCmd.Flags().StringVar(&dWorkflow, "workflow", "", "filter by workflow id")
	disagreementsListCmd.Flags().IntVar(&dLimit, "limit", 50, "max disagreements to return")

	disagreementsResolveCmd.Flags().StringVar(&dMethod, "method", "", "resolution method: accept_generator, accept_validator, merged, manual_override (required)")
	disagreementsResolveCmd.Flags().StringVar(&dExplanation, "explanation", "", "why this resolution is correct (required)")
	disagreementsResolveCmd.Flags().StringVar(&dApprover, "approver", "", "who approved the resolution")
	disagreementsResolveCmd.Flags().StringVar(&dContent, "content", "", "final content after resolution")
	disagreementsResolveCmd.Flags().StringVar(&dNotes, "notes", "", "notes for the learning engine")
	_ = disagreementsResolveCmd.MarkFlagRequired("method")
	_ = disagreementsResolveCmd.MarkFlagRequired("explanation")

	disagreementsEscalateCmd.Flags().StringVar(&dReason, "reason", "", "escalation reason (required)")
	_ = disagreementsEscalateCmd.MarkFlagRequired("reason")

	disagreementsCmd.AddCommand(
		disagreementsListCmd,
		disagreementsResolveCmd,
		disagreementsEscalateCmd,
		disagreementsExpireCmd,
		disagreementsRedeliverCmd,
	)
	rootCmd.AddCommand(disagreementsCmd)
}

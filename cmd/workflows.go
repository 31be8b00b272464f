package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/validation-cli/internal/model"
)

var (
	workflowsStatus   string
	workflowsArtifact string
	workflowsLimit    int
	cancelReason      string
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Inspect and manage validation workflows",
}

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		wfs, err := env.Orchestrator.List(ctx, model.WorkflowFilter{
			Status:     model.WorkflowStatus(workflowsStatus),
			ArtifactID: workflowsArtifact,
			Limit:      workflowsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list workflows")
		}
		return printJSON(wfs)
	},
}

var workflowsShowCmd = &cobra.Command{
	Use:   "show <workflow-id>",
	Short: "Show one workflow with its full iteration history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		wf, err := env.Orchestrator.Get(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "get workflow %s", args[0])
		}
		return printJSON(wf)
	},
}

var workflowsCancelCmd = &cobra.Command{
	Use:   "cancel <workflow-id>",
	Short: "Cancel a non-terminal workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		wf, err := env.Orchestrator.Cancel(ctx, args[0], cancelReason)
		if err != nil {
			return eris.Wrapf(err, "cancel workflow %s", args[0])
		}

		zap.L().Info("workflow cancelled",
			zap.String("workflow_id", wf.ID),
			zap.String("reason", cancelReason),
		)
		return printJSON(wf)
	},
}

var workflowsExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Escalate suspended workflows past the revision timeout",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Orchestrator.ExpireRevisions(ctx)
		if err != nil {
			return eris.Wrap(err, "expire revisions")
		}

		zap.L().Info("revision expiry pass complete", zap.Int("escalated", n))
		return nil
	},
}

func init() {
	workflowsListCmd.Flags().StringVar(&workflowsStatus, "status", "", "filter by status")
	workflowsListCmd.Flags().StringVar(&workflowsArtifact, "artifact", "", "filter by artifact id")
	workflowsListCmd.Flags().IntVar(&workflowsLimit, "limit", 50, "max workflows to return")
	workflowsCancelCmd.Flags().StringVar(&cancelReason, "reason", "", "cancellation reason (required)")
	_ = workflowsCancelCmd.MarkFlagRequired("reason")

	workflowsCmd.AddCommand(workflowsListCmd, workflowsShowCmd, workflowsCancelCmd, workflowsExpireCmd)
	rootCmd.AddCommand(workflowsCmd)
}

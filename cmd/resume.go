package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var resumeFile string

var resumeCmd = &cobra.Command{
	Use:   "resume <workflow-id>",
	Short: "Resume a suspended workflow with revised content",
	Long:  "Re-extracts the revised artifact, rescores only the changed nodes and their dependents, and carries every untouched node's prior score.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		artifact, err := readArtifact(resumeFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		wf, err := env.Orchestrator.Resume(ctx, args[0], artifact)
		if err != nil {
			return eris.Wrapf(err, "resume workflow %s", args[0])
		}

		zap.L().Info("resume complete",
			zap.String("workflow_id", wf.ID),
			zap.String("status", string(wf.Status)),
			zap.Int("iteration", wf.Iteration),
			zap.Float64("confidence", wf.FinalConfidence),
		)

		return printJSON(wf)
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeFile, "file", "", "revised artifact JSON file (required)")
	_ = resumeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(resumeCmd)
}

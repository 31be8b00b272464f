package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/validation-cli/internal/extractor"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a generated artifact",
	Long:  "Decomposes the artifact into nodes, scores every node, and either approves the artifact or suspends the workflow with feedback plans for revision.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		artifact, err := readArtifact(validateFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		wf, err := env.Orchestrator.Start(ctx, artifact)
		if err != nil {
			return eris.Wrap(err, "start validation")
		}

		zap.L().Info("validation complete",
			zap.String("workflow_id", wf.ID),
			zap.String("status", string(wf.Status)),
			zap.Float64("confidence", wf.FinalConfidence),
			zap.Int("failing_nodes", len(wf.FailingNodes)),
		)

		return printJSON(wf)
	},
}

func readArtifact(path string) (*extractor.Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read artifact %s", path)
	}
	var artifact extractor.Artifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, eris.Wrapf(err, "parse artifact %s", path)
	}
	return &artifact, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	validateCmd.Flags().StringVar(&validateFile, "file", "", "artifact JSON file (required)")
	_ = validateCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(validateCmd)
}

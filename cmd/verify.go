package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/artifact"
)

func newVerifyCmd() *cobra.Command {
	var failOnCorrupt bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Checks every stored artifact and lists the corrupt ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			report, err := rt.app.Verify(cmd.Context(), artifact.Validator{})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, key := range report.Corrupt {
				fmt.Fprintln(out, key)
			}
			rt.logger.Info("verify finished",
				zap.Int("checked", report.Checked),
				zap.Int("corrupt", len(report.Corrupt)),
			)
			if failOnCorrupt && len(report.Corrupt) > 0 {
				return fmt.Errorf("%d of %d artifacts are corrupt", len(report.Corrupt), report.Checked)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failOnCorrupt, "fail-on-corrupt", false, "exit non-zero when a corrupt artifact is found")
	return cmd
}

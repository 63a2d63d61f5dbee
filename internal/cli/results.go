package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newImportCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Write an exam's scores into the academic record",
		Long: "Writes every submitted score of the exam into the matching report-card cell.\n" +
			"Re-running overwrites the same cells, so it is safe after fixing a skipped student.",
		RunE: func(cmd *cobra.Command, args []string) error {
			examID, _ := cmd.Flags().GetString("exam-id")
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return errNoPostgres
			}
			svc, err := buildServices(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			report, err := svc.ledger.ImportToAcademicRecord(cmd.Context(), examID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			return report.Err()
		},
	}
	cmd.Flags().String("exam-id", "", "exam to import (required)")
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func newExportCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an exam's results as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			examID, _ := cmd.Flags().GetString("exam-id")
			output, _ := cmd.Flags().GetString("output")
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return errNoPostgres
			}
			svc, err := buildServices(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			var w io.Writer = cmd.OutOrStdout()
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				w = f
			}
			return svc.ledger.ExportCSV(cmd.Context(), examID, w)
		},
	}
	f := cmd.Flags()
	f.String("exam-id", "", "exam to export (required)")
	f.StringP("output", "o", "-", "output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

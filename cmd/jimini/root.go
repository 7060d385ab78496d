package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jglowsoap/jimini/internal/audit"
	"github.com/jglowsoap/jimini/internal/rules"
	"github.com/jglowsoap/jimini/internal/sarif"
)

const version = "0.9.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jimini",
		Short:         "Inline AI policy gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newLintCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newSARIFCmd())
	return root
}

func newLintCmd() *cobra.Command {
	var rulesPath string
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Validate a rules document without installing it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := rules.Lint(rulesPath)
			if err != nil {
				return &exitCodeError{code: exitRuleLoad, err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules OK\n", rulesPath, set.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "rules.yaml", "path to the rules document")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var auditPath string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit chain integrity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := audit.Verify(auditPath)
			if err != nil {
				return &exitCodeError{code: exitError, err: err}
			}
			out, _ := json.Marshal(res)
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !res.Valid {
				return &exitCodeError{code: exitChainInvalid,
					err: fmt.Errorf("audit chain broken at record %d", res.BreakIndex)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&auditPath, "audit", "audit.jsonl", "path to the audit log")
	return cmd
}

func newSARIFCmd() *cobra.Command {
	var auditPath, date string
	cmd := &cobra.Command{
		Use:   "sarif",
		Short: "Export one day of block/flag decisions as SARIF",
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := sarif.Export(auditPath, date, version)
			if err != nil {
				return &exitCodeError{code: exitError, err: err}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
	cmd.Flags().StringVar(&auditPath, "audit", "audit.jsonl", "path to the audit log")
	cmd.Flags().StringVar(&date, "date", "", "date prefix (YYYY-MM-DD)")
	return cmd
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

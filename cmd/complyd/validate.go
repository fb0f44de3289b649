package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	decision "complyd/internal/decision/models"
	evidence "complyd/internal/evidence/models"
	"complyd/internal/validation/models"
)

var validateFlags struct {
	urls     []string
	policies []string
	timeout  time.Duration
	format   string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate evidence once and print the decision",
	Long: `Run a single validation in-process and print the decision.

Examples:
  # Let the policy catalog pick applicable policies
  complyd validate --url https://ci.example.com/build/42/report.json

  # Validate against explicit policies, JSON output for CI
  complyd validate --url https://ci.example.com/report --policy POL-101 --policy POL-201 --format json`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringSliceVarP(&validateFlags.urls, "url", "u", nil, "evidence URL (repeatable)")
	validateCmd.Flags().StringSliceVarP(&validateFlags.policies, "policy", "p", nil, "explicit policy ID (repeatable)")
	validateCmd.Flags().DurationVar(&validateFlags.timeout, "timeout", 10*time.Minute, "give up waiting after this long")
	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json")
	_ = validateCmd.MarkFlagRequired("url")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	runID, err := a.validation.Submit(ctx, models.SubmitRequest{
		EvidenceRef:       evidence.Ref{URLs: validateFlags.urls},
		ExplicitPolicyIDs: validateFlags.policies,
	})
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, validateFlags.timeout)
	defer cancel()
	res, err := a.validation.Wait(waitCtx, runID)
	if err != nil {
		_, _ = a.validation.Cancel(context.Background(), runID)
		return fmt.Errorf("run %s did not finish: %w", runID, err)
	}

	if validateFlags.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(cmd.OutOrStdout(), res)
	if res.State != models.StateCompleted {
		return fmt.Errorf("run ended %s", res.State)
	}
	if res.Decision.OverallStatus == decision.OverallNonCompliant {
		return fmt.Errorf("evidence is non-compliant")
	}
	return nil
}

func printResult(w io.Writer, res models.Result) {
	fmt.Fprintf(w, "Run %s: %s\n", res.RunID, res.State)
	if res.Error != "" {
		color.New(color.FgRed).Fprintf(w, "  error: %s\n", res.Error)
	}
	if res.Decision != nil {
		statusColor(string(res.Decision.OverallStatus)).Fprintf(w, "Decision: %s", res.Decision.OverallStatus)
		fmt.Fprintf(w, " (confidence %.4f)\n", res.Decision.Confidence)
		for _, gap := range res.Decision.Gaps {
			color.New(color.FgYellow).Fprintf(w, "  gap: %s\n", gap)
		}
	}
	for _, v := range res.Verdicts {
		statusColor(string(v.Status)).Fprintf(w, "  %-24s %-22s", v.RuleID, v.Status)
		fmt.Fprintf(w, " %.2f  %s\n", v.Confidence, v.Rationale)
	}
}

func statusColor(status string) *color.Color {
	switch status {
	case string(decision.OverallCompliant):
		return color.New(color.FgGreen, color.Bold)
	case string(decision.OverallNonCompliant):
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgYellow)
	}
}

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"complyd/internal/policy/catalogfile"
	"complyd/internal/policy/models"
	policysvc "complyd/internal/policy/service"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Inspect policy catalog files",
}

var policiesLintCmd = &cobra.Command{
	Use:   "lint <catalog.yaml>",
	Short: "Validate a policy catalog file",
	Long: `Parse a catalog file and check that every active policy yields a valid rule
graph: no dangling parent references and no dependency cycles.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lintCatalog(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	policiesCmd.AddCommand(policiesLintCmd)
	rootCmd.AddCommand(policiesCmd)
}

func lintCatalog(w io.Writer, path string) error {
	catalog, err := catalogfile.Load(path)
	if err != nil {
		color.New(color.FgRed).Fprintf(w, "✗ %s\n", path)
		return err
	}
	snap := models.NewSnapshot(catalog.Policies, catalog.Rules, time.Now())

	failed := 0
	for _, p := range catalog.Policies {
		rs, err := policysvc.LoadRulesIn(models.Resolution{Policies: []models.Descriptor{p}, Snapshot: snap})
		if err != nil {
			failed++
			color.New(color.FgRed).Fprintf(w, "✗ %s: %v\n", p.PolicyID, err)
			continue
		}
		mark := color.New(color.FgGreen).Sprint("✓")
		if p.Status != models.StatusActive {
			mark = color.New(color.FgYellow).Sprint("-")
		}
		fmt.Fprintf(w, "%s %s %s (%s, %d rules)\n", mark, p.PolicyID, p.Name, p.Status, rs.Len())
	}
	for _, ref := range policysvc.CrossReferences(activeOnly(catalog.Policies)) {
		color.New(color.FgYellow).Fprintf(w, "! category %s covered by %v\n", ref.Category, ref.Policies)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d policies invalid", failed, len(catalog.Policies))
	}
	return nil
}

func activeOnly(ps []models.Descriptor) []models.Descriptor {
	var out []models.Descriptor
	for _, p := range ps {
		if p.Status == models.StatusActive {
			out = append(out, p)
		}
	}
	return out
}

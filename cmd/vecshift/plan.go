package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var planJSON bool

func init() {
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print the plan as JSON")
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a migration run would do without writing",
	Long: `Inspect the source and target and print the per-collection plan:
record and batch counts, the mapped schema and what would happen to
existing target collections. Nothing is written.

Examples:
  # Plan a full run
  vecshift plan --config vecshift.yaml

  # Plan a subset as JSON
  vecshift plan --collections articles --json`,
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := buildRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	return printPlan(ctx, rt)
}

func printPlan(ctx context.Context, rt *runtime) error {
	plan, err := rt.orchestrator.Plan(ctx)
	if err != nil {
		return err
	}

	if planJSON {
		return writeJSON(os.Stdout, plan)
	}

	fmt.Printf("Plan for run %s (%s mode)\n", plan.RunID, plan.Mode)
	fmt.Printf("  %d collections, %d records, %d batches\n",
		len(plan.Collections), plan.TotalRecords, plan.TotalBatches)

	for _, coll := range plan.Collections {
		fmt.Printf("\n  %s -> %s: %s\n", coll.Collection, coll.Target, coll.Action)
		if coll.Err != "" {
			fmt.Printf("    error: %s\n", coll.Err)
			continue
		}
		fmt.Printf("    %d records in %d batches, dim %d\n", coll.Records, coll.Batches, coll.Dim)
		if len(coll.Fields) > 0 {
			fmt.Printf("    fields: %s\n", strings.Join(coll.Fields, ", "))
		}
		for _, warning := range coll.Warnings {
			fmt.Printf("    warning: %s\n", warning)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

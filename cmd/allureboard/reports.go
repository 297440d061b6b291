package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	reportsFlags remoteFlags
	reportsJSON  bool
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List test runs with their summaries",
	Long: `List every run with per-status counts. Without --server the runs are
read and summarized directly from the configured storage.`,
	Args: cobra.NoArgs,
	RunE: runReports,
}

func init() {
	rootCmd.AddCommand(reportsCmd)
	reportsFlags.register(reportsCmd)
	reportsCmd.Flags().BoolVar(&reportsFlags.refresh, "refresh", false,
		"ask the API server to bypass its cache")
	reportsCmd.Flags().BoolVar(&reportsJSON, "json", false, "print JSON")
}

func runReports(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	src, err := openSource(ctx, &reportsFlags)
	if err != nil {
		return err
	}

	snapshot, err := src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetching reports: %w", err)
	}

	if reportsJSON {
		return printJSON(snapshot)
	}

	fmt.Print(renderSnapshot(snapshot))

	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

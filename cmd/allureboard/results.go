package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	resultsFlags remoteFlags
	resultsJSON  bool
)

var resultsCmd = &cobra.Command{
	Use:   "results RUN_ID",
	Short: "List the test results of one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsFlags.register(resultsCmd)
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "print JSON")
}

func runResults(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	src, err := openSource(ctx, &resultsFlags)
	if err != nil {
		return err
	}

	results, err := src.Results(ctx, args[0])
	if err != nil {
		return fmt.Errorf("fetching results of %s: %w", args[0], err)
	}

	if resultsJSON {
		return printJSON(results)
	}

	fmt.Print(renderResults(args[0], results))

	return nil
}

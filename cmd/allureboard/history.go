package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	historyFlags remoteFlags
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history HISTORY_ID",
	Short: "Show the outcome of one test across runs",
	Long: `Show every indexed outcome of the test with the given Allure history id.
Needs --server pointing at an API server with indexing enabled.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyFlags.register(historyCmd)
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	historyFlags.resolve()

	if historyFlags.server == "" {
		return errors.New("test history is served by the API index (use --server)")
	}

	c, err := openClient(ctx, &historyFlags)
	if err != nil {
		return err
	}

	results, err := c.History(ctx, args[0])
	if err != nil {
		return fmt.Errorf("fetching history of %s: %w", args[0], err)
	}

	if historyJSON {
		return printJSON(results)
	}

	fmt.Print(renderHistory(args[0], results))

	return nil
}

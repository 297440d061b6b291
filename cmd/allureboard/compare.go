package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	compareFlags remoteFlags
	compareJSON  bool
)

var compareCmd = &cobra.Command{
	Use:   "compare RUN_ID_1 RUN_ID_2",
	Short: "Compare two runs",
	Long: `Show how each status count moved from the first run to the second.
Growth in total and passed tests is an improvement; growth in failed,
broken or skipped tests is a regression.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareFlags.register(compareCmd)
	compareCmd.Flags().BoolVar(&compareJSON, "json", false, "print JSON")
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	src, err := openSource(ctx, &compareFlags)
	if err != nil {
		return err
	}

	cmp, err := src.Compare(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("comparing runs: %w", err)
	}

	if compareJSON {
		return printJSON(cmp)
	}

	fmt.Print(renderComparison(cmp))

	return nil
}

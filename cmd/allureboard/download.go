package main

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	downloadFlags  remoteFlags
	downloadOutput string
)

var downloadCmd = &cobra.Command{
	Use:   "download RUN_ID",
	Short: "Download the raw files of a run as a ZIP archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadFlags.register(downloadCmd)
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "",
		"output file (default RUN_ID.zip)")
}

func runDownload(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	runID := args[0]

	output := downloadOutput
	if output == "" {
		output = runID + ".zip"
	}

	src, err := openSource(ctx, &downloadFlags)
	if err != nil {
		return err
	}

	f, err := os.Create(output) //nolint:gosec // user-chosen output path
	if err != nil {
		return fmt.Errorf("creating %s: %w", output, err)
	}

	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing %s: %w", output, cerr)
		}

		if err != nil {
			_ = os.Remove(output)
		}
	}()

	if _, err = src.Download(ctx, runID, f); err != nil {
		return fmt.Errorf("downloading %s: %w", runID, err)
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", output, err)
	}

	log.WithFields(logrus.Fields{
		"run_id": runID,
		"file":   output,
		"size":   units.HumanSize(float64(info.Size())),
	}).Info("Archive written")

	return nil
}

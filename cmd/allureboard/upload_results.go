package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/allureboard/pkg/config"
	"github.com/ethpandaops/allureboard/pkg/storage"
	"github.com/ethpandaops/allureboard/pkg/upload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	uploadResultDir   string
	uploadRunID       string
	uploadAccessKeyID string
	uploadSecretKey   string
	uploadSkipCheck   bool
)

var uploadResultsCmd = &cobra.Command{
	Use:   "upload-results",
	Short: "Upload an allure-results directory as a new run",
	Long: `Upload a local allure-results directory to the configured storage as
{prefix}/{run-id}/. Credentials given as flags take precedence over the
config file and the environment.`,
	Args: cobra.NoArgs,
	RunE: runUploadResults,
}

func init() {
	rootCmd.AddCommand(uploadResultsCmd)
	uploadResultsCmd.Flags().StringVar(&uploadResultDir, "result-dir", "",
		"Path to the allure-results directory to upload")
	uploadResultsCmd.Flags().StringVar(&uploadRunID, "run-id", "",
		"Run id to upload as (default: timestamp plus random suffix)")
	uploadResultsCmd.Flags().StringVar(&uploadAccessKeyID, "access-key-id", "",
		"S3 access key id")
	uploadResultsCmd.Flags().StringVar(&uploadSecretKey, "secret-access-key", "",
		"S3 secret access key")
	uploadResultsCmd.Flags().BoolVar(&uploadSkipCheck, "skip-preflight", false,
		"Skip the storage write test")

	_ = uploadResultsCmd.MarkFlagRequired("result-dir")
}

func runUploadResults(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	info, err := os.Stat(uploadResultDir)
	if err != nil {
		return fmt.Errorf("result dir: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("result dir %s is not a directory", uploadResultDir)
	}

	runID := uploadRunID
	if runID == "" {
		runID = upload.NewRunID(time.Now())
	}

	if !storage.ValidRunID(runID) {
		return fmt.Errorf("%w: %q", storage.ErrInvalidRunID, runID)
	}

	explicit := &config.S3Credentials{
		AccessKeyID:     uploadAccessKeyID,
		SecretAccessKey: uploadSecretKey,
	}

	uploader, err := upload.NewUploader(log, &cfg.Storage, &cfg.Reports, explicit)
	if err != nil {
		return fmt.Errorf("creating uploader: %w", err)
	}

	ctx := cmd.Context()

	if !uploadSkipCheck {
		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("preflight check: %w", err)
		}
	}

	log.WithFields(logrus.Fields{
		"dir":    filepath.Clean(uploadResultDir),
		"run_id": runID,
	}).Info("Uploading results")

	res, err := uploader.Upload(ctx, uploadResultDir, runID)
	if err != nil {
		return fmt.Errorf("uploading results: %w", err)
	}

	if res.Results == 0 {
		log.WithField("suffix", cfg.Reports.ResultSuffix).
			Warn("No result files found in upload; the run will show zero tests")
	}

	fmt.Printf("uploaded %d files (%s) as %s\n",
		res.Files, units.HumanSize(float64(res.Bytes)), res.Prefix)

	return nil
}

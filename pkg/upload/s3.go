package upload

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/docker/go-units"
	"github.com/ethpandaops/allureboard/pkg/config"
	"github.com/ethpandaops/allureboard/pkg/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log         logrus.FieldLogger
	cfg         *config.StorageConfig
	client      *s3.Client
	suffix      string
	concurrency int
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates a new S3 uploader from the given configuration.
func NewS3Uploader(
	log logrus.FieldLogger,
	cfg *config.StorageConfig,
	reportsCfg *config.ReportsConfig,
	creds config.S3Credentials,
) Uploader {
	concurrency := config.DefaultConcurrency
	if reportsCfg != nil && reportsCfg.Concurrency > 0 {
		concurrency = reportsCfg.Concurrency
	}

	return &s3Uploader{
		log:         log.WithField("component", "s3-uploader"),
		cfg:         cfg,
		client:      storage.NewS3Client(&cfg.S3, creds),
		suffix:      resultSuffix(reportsCfg),
		concurrency: concurrency,
	}
}

// Preflight verifies S3 connectivity by writing a small test object.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("allureboard write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.S3.Bucket),
		Key:         aws.String(".allureboard-write-test"),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.S3.Bucket, err)
	}

	return nil
}

// Upload uploads all files below localDir in parallel.
func (u *s3Uploader) Upload(ctx context.Context, localDir, runID string) (*Result, error) {
	if err := checkRunID(runID); err != nil {
		return nil, err
	}

	files, err := collectFiles(localDir)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	var written atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	for _, f := range files {
		g.Go(func() error {
			key := runKey(u.cfg.Prefix, runID, f.rel)

			if err := u.uploadFile(gCtx, f.path, key); err != nil {
				return fmt.Errorf("uploading %s: %w", f.rel, err)
			}

			written.Add(f.size)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:   runID,
		Prefix:  storage.RunPrefix(u.cfg.Prefix, runID),
		Files:   len(files),
		Results: countResults(files, u.suffix),
		Bytes:   written.Load(),
	}

	u.log.WithFields(logrus.Fields{
		"files":    res.Files,
		"results":  res.Results,
		"size":     units.HumanSize(float64(res.Bytes)),
		"bucket":   u.cfg.S3.Bucket,
		"prefix":   res.Prefix,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Upload completed")

	return res, nil
}

// uploadFile uploads a single file to S3.
func (u *s3Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath) //nolint:gosec // walked from the upload dir
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.S3.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(detectContentType(localPath)),
	}

	if u.cfg.S3.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(u.cfg.S3.StorageClass)
	}

	if u.cfg.S3.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(u.cfg.S3.ACL)
	}

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.S3.Bucket,
	}).Debug("Uploading file")

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject: %w", err)
	}

	return nil
}

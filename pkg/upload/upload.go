package upload

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethpandaops/allureboard/pkg/config"
	"github.com/ethpandaops/allureboard/pkg/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Uploader publishes a local allure-results directory as a run.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Upload copies every file below localDir to {prefix}/{runID}/,
	// keeping relative paths.
	Upload(ctx context.Context, localDir, runID string) (*Result, error)
}

// Result summarizes an upload.
type Result struct {
	RunID   string
	Prefix  string
	Files   int
	Results int
	Bytes   int64
}

// NewUploader creates the Uploader for the enabled storage backend. The
// reports config supplies the result suffix and the upload concurrency.
func NewUploader(
	log logrus.FieldLogger,
	cfg *config.StorageConfig,
	reportsCfg *config.ReportsConfig,
	explicit *config.S3Credentials,
) (Uploader, error) {
	switch {
	case cfg.S3.Enabled:
		creds, err := cfg.S3.ResolveCredentials(explicit)
		if err != nil {
			return nil, err
		}

		return NewS3Uploader(log, cfg, reportsCfg, creds), nil
	case cfg.Local.Enabled:
		return NewLocalUploader(log, cfg, reportsCfg), nil
	default:
		return nil, fmt.Errorf("no storage backend configured")
	}
}

// NewRunID returns a sortable run id for uploads that do not name one.
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// localFile is one file to upload.
type localFile struct {
	path string
	rel  string
	size int64
}

// collectFiles lists regular files below dir in lexical order.
func collectFiles(dir string) ([]localFile, error) {
	var files []localFile

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		files = append(files, localFile{
			path: p,
			rel:  filepath.ToSlash(rel),
			size: info.Size(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory %s: %w", dir, err)
	}

	return files, nil
}

// runKey builds the object key of rel inside a run.
func runKey(prefix, runID, rel string) string {
	return storage.RunPrefix(strings.Trim(prefix, "/"), runID) + rel
}

// checkRunID rejects ids that cannot be a single run folder.
func checkRunID(runID string) error {
	if !storage.ValidRunID(runID) {
		return fmt.Errorf("%w: %q", storage.ErrInvalidRunID, runID)
	}

	return nil
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "application/octet-stream"
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}

	return ct
}

// resultSuffix returns the configured result file suffix or the default.
func resultSuffix(reportsCfg *config.ReportsConfig) string {
	if reportsCfg == nil || reportsCfg.ResultSuffix == "" {
		return config.DefaultResultSuffix
	}

	return reportsCfg.ResultSuffix
}

// countResults counts files that the record reader will parse.
func countResults(files []localFile, suffix string) int {
	n := 0

	for _, f := range files {
		if strings.HasSuffix(f.rel, suffix) {
			n++
		}
	}

	return n
}

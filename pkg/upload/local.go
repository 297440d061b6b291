package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/allureboard/pkg/config"
	"github.com/ethpandaops/allureboard/pkg/storage"
	"github.com/sirupsen/logrus"
)

// localUploader copies runs into the local storage root.
type localUploader struct {
	log    logrus.FieldLogger
	cfg    *config.StorageConfig
	suffix string
}

var _ Uploader = (*localUploader)(nil)

// NewLocalUploader creates an Uploader writing below cfg.Local.Root.
func NewLocalUploader(
	log logrus.FieldLogger,
	cfg *config.StorageConfig,
	reportsCfg *config.ReportsConfig,
) Uploader {
	return &localUploader{
		log:    log.WithField("component", "local-uploader"),
		cfg:    cfg,
		suffix: resultSuffix(reportsCfg),
	}
}

// Preflight checks that the storage root is a writable directory.
func (u *localUploader) Preflight(_ context.Context) error {
	if err := os.MkdirAll(u.cfg.Local.Root, 0o755); err != nil {
		return fmt.Errorf("creating storage root: %w", err)
	}

	f, err := os.CreateTemp(u.cfg.Local.Root, ".allureboard-write-test-*")
	if err != nil {
		return fmt.Errorf("writing to %s: %w", u.cfg.Local.Root, err)
	}

	_ = f.Close()

	return os.Remove(f.Name())
}

// Upload copies every file below localDir into the run folder.
func (u *localUploader) Upload(_ context.Context, localDir, runID string) (*Result, error) {
	if err := checkRunID(runID); err != nil {
		return nil, err
	}

	files, err := collectFiles(localDir)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	var written int64

	for _, f := range files {
		dst := filepath.Join(u.cfg.Local.Root,
			filepath.FromSlash(runKey(u.cfg.Prefix, runID, f.rel)))

		n, err := copyFile(f.path, dst)
		if err != nil {
			return nil, fmt.Errorf("copying %s: %w", f.rel, err)
		}

		written += n
	}

	res := &Result{
		RunID:   runID,
		Prefix:  storage.RunPrefix(u.cfg.Prefix, runID),
		Files:   len(files),
		Results: countResults(files, u.suffix),
		Bytes:   written,
	}

	u.log.WithFields(logrus.Fields{
		"files":    res.Files,
		"results":  res.Results,
		"size":     units.HumanSize(float64(res.Bytes)),
		"root":     u.cfg.Local.Root,
		"prefix":   res.Prefix,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Upload completed")

	return res, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src) //nolint:gosec // walked from the upload dir
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}

	out, err := os.Create(dst) //nolint:gosec // below the storage root
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}

	return n, err
}

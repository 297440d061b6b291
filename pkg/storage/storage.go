package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/ethpandaops/allureboard/pkg/config"
)

// ErrInvalidRunID is returned for run ids that could escape the run prefix.
var ErrInvalidRunID = errors.New("invalid run id")

// Object describes one stored file.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Name returns the object's base filename.
func (o Object) Name() string {
	return path.Base(o.Key)
}

// Reader provides read access to report bundles laid out as
// {prefix}/{runId}/... in a backend (S3 or the local filesystem).
type Reader interface {
	// ListRunIDs returns the first-level folder names under the prefix in
	// backend listing order.
	ListRunIDs(ctx context.Context) ([]string, error)

	// ListRunObjects returns every object below {prefix}/{runID}/,
	// recursively, in backend listing order.
	ListRunObjects(ctx context.Context, runID string) ([]Object, error)

	// GetObject reads a whole object.
	// Returns (nil, nil) when the key does not exist.
	GetObject(ctx context.Context, key string) ([]byte, error)

	// OpenObject opens a stream over an object. The caller closes it.
	OpenObject(ctx context.Context, key string) (io.ReadCloser, error)
}

// NewReader creates the Reader for the enabled backend. For S3, explicit
// credentials take precedence over the configured ones.
func NewReader(
	cfg *config.StorageConfig, explicit *config.S3Credentials,
) (Reader, error) {
	switch {
	case cfg.S3.Enabled:
		creds, err := cfg.S3.ResolveCredentials(explicit)
		if err != nil {
			return nil, err
		}

		return NewS3Reader(cfg, creds), nil
	case cfg.Local.Enabled:
		return NewLocalReader(cfg), nil
	default:
		return nil, errors.New("no storage backend configured")
	}
}

// ValidRunID reports whether id is a single, clean path segment.
func ValidRunID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}

	return !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

// RunPrefix returns the key prefix of a run, with a trailing slash.
func RunPrefix(prefix, runID string) string {
	if prefix == "" {
		return runID + "/"
	}

	return prefix + "/" + runID + "/"
}

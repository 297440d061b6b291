package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/allureboard/pkg/config"
)

// Compile-time interface check.
var _ Reader = (*localReader)(nil)

// localReader mirrors the bucket layout on disk: keys are slash separated
// paths relative to root.
type localReader struct {
	root   string
	prefix string
}

// NewLocalReader creates a Reader backed by a local directory.
func NewLocalReader(cfg *config.StorageConfig) Reader {
	return &localReader{
		root:   filepath.Clean(cfg.Local.Root),
		prefix: strings.Trim(cfg.Prefix, "/"),
	}
}

// ListRunIDs returns directory names under {root}/{prefix}, sorted by name.
func (r *localReader) ListRunIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.root, filepath.FromSlash(r.prefix)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading reports directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}

	return ids, nil
}

// ListRunObjects walks {root}/{prefix}/{runID} in lexical order.
func (r *localReader) ListRunObjects(
	ctx context.Context, runID string,
) ([]Object, error) {
	if !ValidRunID(runID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}

	runDir := filepath.Join(
		r.root, filepath.FromSlash(strings.TrimSuffix(RunPrefix(r.prefix, runID), "/")),
	)

	var objects []Object

	err := filepath.WalkDir(runDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}

		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		objects = append(objects, Object{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})

		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("walking run directory %s: %w", runDir, err)
	}

	return objects, nil
}

// GetObject reads {root}/{key}.
// Returns (nil, nil) when the file does not exist.
func (r *localReader) GetObject(
	_ context.Context, key string,
) ([]byte, error) {
	p, err := r.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p) //nolint:gosec // resolved under root
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading file %s: %w", p, err)
	}

	return data, nil
}

// OpenObject opens {root}/{key} for streaming.
func (r *localReader) OpenObject(
	_ context.Context, key string,
) (io.ReadCloser, error) {
	p, err := r.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p) //nolint:gosec // resolved under root
	if err != nil {
		return nil, fmt.Errorf("opening file %s: %w", p, err)
	}

	return f, nil
}

// resolve maps a key to a path under root, rejecting empty, absolute,
// unclean or traversal keys. Dots inside a file name are fine.
func (r *localReader) resolve(key string) (string, error) {
	if key == "" || path.IsAbs(key) || path.Clean(key) != key ||
		strings.Contains(key, `\`) {
		return "", fmt.Errorf("key %q is not allowed", key)
	}

	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("key %q is not allowed", key)
		}
	}

	return filepath.Join(r.root, filepath.FromSlash(key)), nil
}

package reports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/allureboard/pkg/storage"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
)

// ErrNoFiles is returned when a run has nothing to archive.
var ErrNoFiles = errors.New("no files found for run")

// ArchiveStats describes a written archive.
type ArchiveStats struct {
	Files   int
	Skipped int
	Bytes   int64
}

// ArchiveBuilder streams the raw files of a run into a ZIP archive.
type ArchiveBuilder struct {
	log    logrus.FieldLogger
	reader storage.Reader
}

// NewArchiveBuilder creates an ArchiveBuilder over reader.
func NewArchiveBuilder(
	log logrus.FieldLogger, reader storage.Reader,
) *ArchiveBuilder {
	return &ArchiveBuilder{
		log:    log.WithField("component", "archive"),
		reader: reader,
	}
}

// Archive is a planned download: the objects are listed, nothing has been
// read or written yet.
type Archive struct {
	RunID   string
	Objects []storage.Object

	builder *ArchiveBuilder
}

// Plan lists the objects of runID. It returns ErrNoFiles when there is
// nothing to archive, so callers can fail before writing any response.
func (b *ArchiveBuilder) Plan(ctx context.Context, runID string) (*Archive, error) {
	objects, err := b.reader.ListRunObjects(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("listing run %q: %w", runID, err)
	}

	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFiles, runID)
	}

	return &Archive{RunID: runID, Objects: objects, builder: b}, nil
}

// Filename is the suggested download name.
func (a *Archive) Filename() string {
	return a.RunID + ".zip"
}

// WriteTo streams every object into a ZIP written to w, one entry at a
// time and in listing order, compressed at flate.BestSpeed. Entries are
// named by base filename. An object that cannot be opened is logged and
// left out; a read failure mid-copy is logged and leaves that entry
// truncated. Only failures of w itself are returned.
func (a *Archive) WriteTo(ctx context.Context, w io.Writer) (ArchiveStats, error) {
	var stats ArchiveStats

	log := a.builder.log.WithField("run_id", a.RunID)
	start := time.Now()

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	names := newEntryNames()

	for _, obj := range a.Objects {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		n, err := a.writeEntry(ctx, zw, obj, names)
		stats.Bytes += n

		var werr *writeError
		switch {
		case errors.As(err, &werr):
			return stats, werr.err
		case err != nil:
			stats.Skipped++

			log.WithError(err).
				WithField("key", obj.Key).
				Warn("Omitting file from archive")
		default:
			stats.Files++
		}
	}

	if err := zw.Close(); err != nil {
		return stats, fmt.Errorf("finishing archive: %w", err)
	}

	log.WithFields(logrus.Fields{
		"files":    stats.Files,
		"skipped":  stats.Skipped,
		"size":     units.HumanSize(float64(stats.Bytes)),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Archive streamed")

	return stats, nil
}

// writeError marks failures of the archive output, which end the stream.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }

func (a *Archive) writeEntry(
	ctx context.Context,
	zw *zip.Writer,
	obj storage.Object,
	names *entryNames,
) (int64, error) {
	body, err := a.builder.reader.OpenObject(ctx, obj.Key)
	if err != nil {
		return 0, err
	}

	defer func() { _ = body.Close() }()

	hdr := &zip.FileHeader{
		Name:     names.next(obj.Name()),
		Method:   zip.Deflate,
		Modified: obj.LastModified,
	}

	entry, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, &writeError{fmt.Errorf("creating entry %q: %w", hdr.Name, err)}
	}

	n, err := io.Copy(entry, body)
	if err != nil {
		// Cannot tell a failed source read from a failed write here, so
		// keep going: a broken client connection fails the next entry.
		return n, fmt.Errorf("copying %q: %w", obj.Key, err)
	}

	return n, nil
}

// entryNames keeps archive entry names unique: a second "log.txt" becomes
// "log_2.txt".
type entryNames struct {
	seen map[string]int
}

func newEntryNames() *entryNames {
	return &entryNames{seen: make(map[string]int, 16)}
}

func (e *entryNames) next(name string) string {
	e.seen[name]++

	n := e.seen[name]
	if n == 1 {
		return name
	}

	ext := path.Ext(name)
	candidate := strings.TrimSuffix(name, ext) + "_" + strconv.Itoa(n) + ext

	// The suffixed name may itself collide with a real file name.
	if _, taken := e.seen[candidate]; taken {
		return e.next(candidate)
	}

	e.seen[candidate] = 1

	return candidate
}

package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethpandaops/allureboard/pkg/allure"
	"github.com/ethpandaops/allureboard/pkg/storage"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// fileConcurrency bounds parallel result-file fetches within one run.
const fileConcurrency = 8

// RunFiles is what the record reader found for one run.
type RunFiles struct {
	// Records are the parsed results in storage listing order.
	Records []allure.TestResult

	// Candidates counts the result files seen, parsed or not.
	Candidates int

	// Objects counts every object under the run prefix.
	Objects int
}

// RecordReader lists a run's result files and parses them.
type RecordReader struct {
	log    logrus.FieldLogger
	reader storage.Reader
	suffix string
}

// NewRecordReader creates a RecordReader that treats keys ending in suffix
// as result files.
func NewRecordReader(
	log logrus.FieldLogger, reader storage.Reader, suffix string,
) *RecordReader {
	return &RecordReader{
		log:    log.WithField("component", "record-reader"),
		reader: reader,
		suffix: suffix,
	}
}

// Read lists every object of runID, fetches the result files and parses
// them. A file that cannot be fetched or parsed is logged and skipped; only
// a listing failure is returned as an error.
func (r *RecordReader) Read(ctx context.Context, runID string) (*RunFiles, error) {
	objects, err := r.reader.ListRunObjects(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("listing run %q: %w", runID, err)
	}

	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		if strings.HasSuffix(o.Key, r.suffix) {
			keys = append(keys, o.Key)
		}
	}

	// Each slot is written by exactly one goroutine so listing order
	// survives the parallel fetch.
	parsed := make([]*allure.TestResult, len(keys))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(fileConcurrency)

	for i, key := range keys {
		g.Go(func() error {
			rec, err := r.readRecord(gCtx, key)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}

				r.log.WithError(err).
					WithField("run_id", runID).
					WithField("key", key).
					Warn("Skipping unreadable result file")

				return nil
			}

			rec.RunID = runID
			rec.Key = key
			parsed[i] = rec

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reading run %q: %w", runID, err)
	}

	files := &RunFiles{
		Records:    make([]allure.TestResult, 0, len(keys)),
		Candidates: len(keys),
		Objects:    len(objects),
	}

	for _, rec := range parsed {
		if rec != nil {
			files.Records = append(files.Records, *rec)
		}
	}

	return files, nil
}

func (r *RecordReader) readRecord(
	ctx context.Context, key string,
) (*allure.TestResult, error) {
	data, err := r.reader.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}

	if data == nil {
		return nil, fmt.Errorf("object vanished")
	}

	return ParseRecord(data)
}

// ParseRecord decodes one result file. Objects without both a name and a
// status field are rejected.
func ParseRecord(data []byte) (*allure.TestResult, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing json: %w", err)
	}

	if raw["name"] == nil || raw["status"] == nil {
		return nil, fmt.Errorf("result has no name or status")
	}

	var rec allure.TestResult

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rec,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}

	return &rec, nil
}

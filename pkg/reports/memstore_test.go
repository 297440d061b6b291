package reports_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/allureboard/pkg/storage"
)

// memStore is an in-memory storage.Reader over the "reports" prefix.
// Keys listed in failOpen cannot be opened or fetched; run ids listed in
// failList fail to list.
type memStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failOpen map[string]bool
	failList map[string]bool
	gets     int
}

var _ storage.Reader = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		objects:  make(map[string][]byte, 16),
		failOpen: make(map[string]bool),
		failList: make(map[string]bool),
	}
}

func (m *memStore) put(key, content string) *memStore {
	m.objects[key] = []byte(content)

	return m
}

func (m *memStore) keys() []string {
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func (m *memStore) ListRunIDs(_ context.Context) ([]string, error) {
	if m.failList["*"] {
		return nil, errors.New("bucket unreachable")
	}

	var ids []string

	seen := make(map[string]bool)

	for _, k := range m.keys() {
		rest, ok := strings.CutPrefix(k, "reports/")
		if !ok {
			continue
		}

		id, _, found := strings.Cut(rest, "/")
		if !found || seen[id] {
			continue
		}

		seen[id] = true
		ids = append(ids, id)
	}

	return ids, nil
}

func (m *memStore) ListRunObjects(_ context.Context, runID string) ([]storage.Object, error) {
	if !storage.ValidRunID(runID) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidRunID, runID)
	}

	if m.failList[runID] {
		return nil, fmt.Errorf("listing %s: access denied", runID)
	}

	prefix := storage.RunPrefix("reports", runID)

	var objects []storage.Object

	for _, k := range m.keys() {
		if strings.HasPrefix(k, prefix) {
			objects = append(objects, storage.Object{
				Key:          k,
				Size:         int64(len(m.objects[k])),
				LastModified: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			})
		}
	}

	return objects, nil
}

func (m *memStore) GetObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	m.gets++
	m.mu.Unlock()

	if m.failOpen[key] {
		return nil, fmt.Errorf("getting %s: timeout", key)
	}

	data, ok := m.objects[key]
	if !ok {
		return nil, nil
	}

	return data, nil
}

func (m *memStore) OpenObject(_ context.Context, key string) (io.ReadCloser, error) {
	if m.failOpen[key] {
		return nil, fmt.Errorf("opening %s: timeout", key)
	}

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("opening %s: NoSuchKey", key)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func result(name, status string) string {
	return fmt.Sprintf(
		`{"uuid":"%s","name":"%s","fullName":"suite.%s","status":"%s","start":1000,"stop":2000}`,
		name, name, name, status,
	)
}

// seedRun writes n result files per status for runID.
func seedRun(m *memStore, runID string, counts map[string]int) {
	i := 0

	for _, status := range []string{"passed", "failed", "broken", "skipped"} {
		for range counts[status] {
			name := fmt.Sprintf("%s-%02d", status, i)
			m.put(fmt.Sprintf("reports/%s/%s-result.json", runID, name), result(name, status))
			i++
		}
	}
}

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/allureboard/pkg/allure"
	"github.com/ethpandaops/allureboard/pkg/reports"
	"github.com/ethpandaops/allureboard/pkg/storage"
	"github.com/go-chi/chi/v5"
)

// errorResponse is a standard error payload. Details and Timestamp are set
// for upstream failures.
type errorResponse struct {
	Error     string     `json:"error"`
	Details   string     `json:"details,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeUpstreamError reports a storage or index failure.
func (s *server) writeUpstreamError(w http.ResponseWriter, msg string, err error) {
	now := s.now().UTC()

	s.log.WithError(err).Error(msg)

	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:     msg,
		Details:   err.Error(),
		Timestamp: &now,
	})
}

// --- Public handlers ---

type healthResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Message:   "Allure dashboard API is running",
		Timestamp: s.now().UTC(),
	})
}

// --- Auth handlers ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleLogin checks the account credentials and returns a bearer token.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "invalid request body"})

		return
	}

	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "email and password are required"})

		return
	}

	user, err := s.auth.checkCredentials(req.Email, req.Password)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: errInvalidCredentials.Error()})

		return
	}

	token, expires, err := s.auth.issue(user)
	if err != nil {
		s.log.WithError(err).Error("Failed to issue token")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{Error: "internal error"})

		return
	}

	s.log.WithField("user", user.Email).Info("User logged in")

	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires.UTC()})
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type dashboardResponse struct {
	Message string       `json:"message"`
	User    userResponse `json:"user"`
}

// handleDashboard greets the authenticated user.
func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{Error: "access token required"})

		return
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		Message: "Welcome to the dashboard",
		User:    userResponse{ID: user.ID, Email: user.Email},
	})
}

// --- Report handlers ---

// handleReports returns the cached catalog; ?refresh=true bypasses the
// staleness window.
func (s *server) handleReports(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "true"

	snapshot, err := s.cache.Get(r.Context(), force)
	if err != nil {
		s.writeUpstreamError(w, "failed to fetch reports", err)

		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

type cacheStatusResponse struct {
	Status      string     `json:"status"`
	State       string     `json:"state"`
	LastFetched *time.Time `json:"lastFetched"`
	Stale       bool       `json:"stale"`
	Error       string     `json:"error,omitempty"`
}

// handleReportsStatus describes the report cache without fetching.
func (s *server) handleReportsStatus(w http.ResponseWriter, _ *http.Request) {
	entry := s.cache.Peek()

	resp := cacheStatusResponse{
		Status: s.cache.Status(),
		State:  string(entry.State),
		Stale:  s.cache.Stale(),
	}

	if !entry.LastFetched.IsZero() {
		t := entry.LastFetched.UTC()
		resp.LastFetched = &t
	}

	if entry.Err != nil {
		resp.Error = entry.Err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleClearCache empties the report cache.
func (s *server) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	s.cache.Clear()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runResultsResponse struct {
	RunID   string              `json:"runId"`
	Results []allure.TestResult `json:"results"`
}

// handleRunResults lists the parsed result files of one run.
func (s *server) handleRunResults(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if !storage.ValidRunID(runID) {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "valid runId is required"})

		return
	}

	results, err := s.runResults(r, runID)

	switch {
	case errors.Is(err, reports.ErrRunNotFound):
		writeJSON(w, http.StatusNotFound,
			errorResponse{Error: "run not found"})

		return
	case err != nil:
		s.writeUpstreamError(w, "failed to read run results", err)

		return
	}

	writeJSON(w, http.StatusOK, runResultsResponse{RunID: runID, Results: results})
}

// runResults prefers the index when it has rows for the run.
func (s *server) runResults(r *http.Request, runID string) ([]allure.TestResult, error) {
	if s.indexSource != nil {
		results, err := s.indexSource.Results(r.Context(), runID)
		if err != nil {
			return nil, err
		}

		if len(results) > 0 {
			return results, nil
		}
	}

	results, err := s.catalog.Records(r.Context(), runID)
	if err != nil {
		return nil, err
	}

	if results == nil {
		results = []allure.TestResult{}
	}

	return results, nil
}

type testHistoryResponse struct {
	HistoryID string              `json:"historyId"`
	Results   []allure.TestResult `json:"results"`
}

// handleTestHistory lists the outcomes of one test across indexed runs.
func (s *server) handleTestHistory(w http.ResponseWriter, r *http.Request) {
	if s.indexSource == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{Error: "test history requires indexing to be enabled"})

		return
	}

	historyID := chi.URLParam(r, "historyId")
	if historyID == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "historyId is required"})

		return
	}

	results, err := s.indexSource.History(r.Context(), historyID)
	if err != nil {
		s.writeUpstreamError(w, "failed to read test history", err)

		return
	}

	writeJSON(w, http.StatusOK, testHistoryResponse{
		HistoryID: historyID,
		Results:   results,
	})
}

// handleCompare compares two runs from the cached catalog.
func (s *server) handleCompare(w http.ResponseWriter, r *http.Request) {
	run1 := r.URL.Query().Get("run1")
	run2 := r.URL.Query().Get("run2")

	if run1 == "" || run2 == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "run1 and run2 are required"})

		return
	}

	snapshot, err := s.cache.Get(r.Context(), false)
	if err != nil {
		s.writeUpstreamError(w, "failed to fetch reports", err)

		return
	}

	a, okA := snapshot.Find(run1)
	b, okB := snapshot.Find(run2)

	if !okA || !okB {
		writeJSON(w, http.StatusNotFound,
			errorResponse{Error: "run not found"})

		return
	}

	comparison, _ := allure.Compare(&a.Summary, &b.Summary)

	writeJSON(w, http.StatusOK, comparison)
}

// handleDownload streams a run's raw files as a ZIP archive. Errors before
// the first byte are JSON; after that the download can only end truncated.
func (s *server) handleDownload(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(chi.URLParam(r, "runId"))
	if runID == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "runId is required"})

		return
	}

	archive, err := s.archives.Plan(r.Context(), runID)

	switch {
	case errors.Is(err, storage.ErrInvalidRunID):
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "invalid runId"})

		return
	case errors.Is(err, reports.ErrNoFiles):
		writeJSON(w, http.StatusNotFound,
			errorResponse{Error: "no files found for run"})

		return
	case err != nil:
		s.writeUpstreamError(w, "failed to create archive", err)

		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		`attachment; filename="`+archive.Filename()+`"`)
	w.WriteHeader(http.StatusOK)

	stats, err := archive.WriteTo(r.Context(), w)
	if err != nil {
		s.log.WithError(err).
			WithField("run_id", runID).
			WithField("written", units.HumanSize(float64(stats.Bytes))).
			Warn("Archive stream aborted")
	}
}

// handleRunFile streams one raw file of a run, e.g. an attachment.
func (s *server) handleRunFile(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	name := chi.URLParam(r, "*")

	if !storage.ValidRunID(runID) || !validFilePath(name) {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "valid runId and file path are required"})

		return
	}

	key := storage.RunPrefix(s.cfg.Storage.Prefix, runID) + name

	body, err := s.reader.OpenObject(r.Context(), key)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Debug("File not served")

		writeJSON(w, http.StatusNotFound,
			errorResponse{Error: "file not found"})

		return
	}

	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", contentTypeOf(name))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("File stream aborted")
	}
}

// validFilePath rejects empty, absolute and non-canonical relative paths.
func validFilePath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return false
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}

	return !strings.Contains(p, `\`)
}

func contentTypeOf(name string) string {
	switch {
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".txt"), strings.HasSuffix(name, ".log"):
		return "text/plain; charset=utf-8"
	case strings.HasSuffix(name, ".png"):
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

package client_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/allureboard/pkg/allure"
	"github.com/ethpandaops/allureboard/pkg/cache"
	"github.com/ethpandaops/allureboard/pkg/client"
	"github.com/ethpandaops/allureboard/pkg/reports"
)

const testToken = "token-123"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeAPI mimics the server routes the client uses.
func fakeAPI(t *testing.T) (*httptest.Server, *int) {
	t.Helper()

	reportCalls := 0

	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			switch r.Header.Get("Authorization") {
			case "":
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "access token required"})
			case "Bearer " + testToken:
				next(w, r)
			default:
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid or expired token"})
			}
		}
	}

	a := &allure.RunSummary{RunID: "run-A", Statistic: allure.Statistic{Total: 10, Passed: 7, Failed: 2, Broken: 1}}
	b := &allure.RunSummary{RunID: "run-B", Statistic: allure.Statistic{Total: 10, Passed: 5, Failed: 3, Broken: 2}}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}

		_ = json.NewDecoder(r.Body).Decode(&req)

		if req.Email != "admin@example.com" || req.Password != "pw" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid email or password"})

			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"token": testToken})
	})

	mux.HandleFunc("GET /dashboard", authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Welcome to the dashboard",
			"user":    map[string]string{"id": "u1", "email": "admin@example.com"},
		})
	}))

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "up", "timestamp": time.Now()})
	})

	mux.HandleFunc("GET /api/reports", authed(func(w http.ResponseWriter, r *http.Request) {
		reportCalls++

		if r.URL.Query().Get("refresh") == "true" {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to fetch reports", "details": "bucket unreachable",
			})

			return
		}

		writeJSON(w, http.StatusOK, reports.NewSnapshot([]reports.Entry{
			{RunID: "run-A", Summary: *a},
			{RunID: "run-B", Summary: *b},
		}, time.Now()))
	}))

	mux.HandleFunc("GET /api/compare", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("run2") != "run-B" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})

			return
		}

		cmp, _ := allure.Compare(a, b)
		writeJSON(w, http.StatusOK, cmp)
	}))

	mux.HandleFunc("GET /api/reports/{runId}/results", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"runId":   r.PathValue("runId"),
			"results": []allure.TestResult{{Name: "t1", Status: allure.StatusPassed}},
		})
	}))

	mux.HandleFunc("GET /api/tests/{historyId}/history", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("historyId") != "h-login" {
			writeJSON(w, http.StatusOK, map[string]any{"historyId": r.PathValue("historyId"), "results": []any{}})

			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"historyId": "h-login",
			"results": []allure.TestResult{
				{Name: "login", Status: allure.StatusPassed, RunID: "run-A"},
				{Name: "login", Status: allure.StatusFailed, RunID: "run-B"},
			},
		})
	}))

	mux.HandleFunc("DELETE /api/reports/cache", authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))

	mux.HandleFunc("GET /api/reports/status", authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "Just updated", "state": "ready", "stale": false})
	}))

	mux.HandleFunc("GET /api/download-report/{runId}", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("runId") != "run-A" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no files found for run"})

			return
		}

		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write([]byte("PK-fake-zip"))
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, &reportCalls
}

func setupClient(t *testing.T) (*client.Client, *int) {
	t.Helper()

	srv, calls := fakeAPI(t)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return client.New(log, srv.URL+"/"), calls
}

func TestClient_LoginFlow(t *testing.T) {
	c, _ := setupClient(t)
	ctx := context.Background()

	_, err := c.Dashboard(ctx)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, client.StatusCode(err))

	_, err = c.Login(ctx, "admin@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, client.StatusCode(err))
	assert.Contains(t, err.Error(), "invalid email or password")

	token, err := c.Login(ctx, "admin@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, testToken, token)
	assert.Equal(t, testToken, c.Token())

	dash, err := c.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", dash.User.Email)

	c.Logout()
	assert.Empty(t, c.Token())
}

func TestClient_ReportsAndCompare(t *testing.T) {
	c, _ := setupClient(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "admin@example.com", "pw")
	require.NoError(t, err)

	snapshot, err := c.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot.Reports, 2)
	assert.Equal(t, 7, snapshot.Reports[0].Summary.Statistic.Passed)
	assert.Equal(t, 20, snapshot.Summary.TotalTests)

	cmp, err := c.Compare(ctx, "run-A", "run-B")
	require.NoError(t, err)
	assert.Equal(t, allure.Statistic{Passed: -2, Failed: 1, Broken: 1}, cmp.Differences)
	require.Len(t, cmp.Changes, len(allure.Categories))

	_, err = c.Compare(ctx, "run-A", "run-X")
	assert.Equal(t, http.StatusNotFound, client.StatusCode(err))

	results, err := c.Results(ctx, "run-A")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, allure.StatusPassed, results[0].Status)

	history, err := c.History(ctx, "h-login")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "run-B", history[1].RunID)
	assert.Equal(t, allure.StatusFailed, history[1].Status)

	history, err = c.History(ctx, "h-unknown")
	require.NoError(t, err)
	assert.Empty(t, history)

	status, err := c.CacheStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ready", status.State)

	require.NoError(t, c.ClearCache(ctx))

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
}

func TestClient_RefreshError(t *testing.T) {
	c, _ := setupClient(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "admin@example.com", "pw")
	require.NoError(t, err)

	_, err = c.Refresh(ctx)
	require.Error(t, err)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "bucket unreachable", apiErr.Details)
}

func TestClient_Download(t *testing.T) {
	c := client.New(logrus.New(), "http://unused", client.WithToken(testToken))
	assert.Equal(t, testToken, c.Token())

	c2, _ := setupClient(t)
	_, err := c2.Login(context.Background(), "admin@example.com", "pw")
	require.NoError(t, err)

	var buf bytes.Buffer

	n, err := c2.Download(context.Background(), "run-A", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len("PK-fake-zip")), n)
	assert.Equal(t, "PK-fake-zip", buf.String())

	_, err = c2.Download(context.Background(), "run-Z", &buf)
	assert.Equal(t, http.StatusNotFound, client.StatusCode(err))
}

func TestClient_AsCacheFetcher(t *testing.T) {
	c, calls := setupClient(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "admin@example.com", "pw")
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	rc := cache.New(log, c, time.Minute)

	_, err = rc.Get(ctx, false)
	require.NoError(t, err)

	_, err = rc.Get(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
}

func TestClient_DownloadOutlivesRequestTimeout(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/download-report/{runId}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.WriteHeader(http.StatusOK)

		flusher, _ := w.(http.Flusher)

		for range 5 {
			_, _ = w.Write([]byte("x"))

			if flusher != nil {
				flusher.Flush()
			}

			select {
			case <-time.After(100 * time.Millisecond):
			case <-r.Context().Done():
				return
			}
		}
	})

	mux.HandleFunc("GET /api/reports", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"reports": []any{}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	c := client.New(log, srv.URL, client.WithRequestTimeout(150*time.Millisecond))

	var buf bytes.Buffer

	n, err := c.Download(context.Background(), "run-A", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "xxxxx", buf.String())

	_, err = c.Fetch(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apihandlers "github.com/anstrom/inventorama/internal/api/handlers"
	"github.com/anstrom/inventorama/internal/auth"
	"github.com/anstrom/inventorama/internal/config"
	"github.com/anstrom/inventorama/internal/db"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/metrics"
	"github.com/anstrom/inventorama/internal/models"
	"github.com/anstrom/inventorama/internal/probe"
	"github.com/anstrom/inventorama/internal/scanning"
	"github.com/anstrom/inventorama/internal/scheduler"
)

type testEnv struct {
	server  *Server
	manager *scanning.Manager
	http    *httptest.Server
}

func unreachable() probe.Prober {
	return probe.Func(func(context.Context, string, time.Duration) (bool, error) {
		return false, nil
	})
}

// blockingProber holds every probe until the run is cancelled.
func blockingProber() probe.Prober {
	return probe.Func(func(ctx context.Context, _ string, _ time.Duration) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
}

func newTestEnv(t *testing.T, prober probe.Prober, opts ...Option) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Scan.Capabilities = []string{"none"}
	cfg.Scan.MaxConcurrency = 4

	orch := scanning.NewOrchestrator(prober, nil, logging.NewNop())
	manager := scanning.NewManager(orch, logging.NewNop())

	opts = append([]Option{WithVersion("test")}, opts...)
	srv, err := New(cfg, manager, logging.NewNop(), opts...)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		manager.Cancel()
		_ = srv.websocket.Close()
		ts.Close()
	})
	return &testEnv{server: srv, manager: manager, http: ts}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func waitForRun(t *testing.T, m *scanning.Manager) scanning.Summary {
	t.Helper()
	run, ok := m.Current()
	require.True(t, ok)
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	return run.Wait()
}

func TestNewRequiresManager(t *testing.T) {
	_, err := New(config.Default(), nil, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, unreachable())

	resp := env.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[apihandlers.HealthResponse](t, resp)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "test", body.Version)
	assert.Equal(t, "not configured", body.Checks["database"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestStartScanAndGetCurrent(t *testing.T) {
	env := newTestEnv(t, unreachable())

	resp := env.do(t, http.MethodPost, "/api/v1/scans", `{"input":"10.0.0.1"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started := decode[apihandlers.ScanResponse](t, resp)
	assert.NotEmpty(t, started.ID)
	assert.Equal(t, 1, started.Progress.Total)

	waitForRun(t, env.manager)

	resp = env.do(t, http.MethodGet, "/api/v1/scans/current", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	current := decode[apihandlers.ScanResponse](t, resp)

	assert.Equal(t, started.ID, current.ID)
	assert.False(t, current.Running)
	require.NotNil(t, current.Summary)
	assert.Equal(t, 1, current.Summary.Count(models.StatusNotReachable))
	require.Len(t, current.Records, 1)
	assert.Equal(t, "10.0.0.1", current.Records[0].Address)
	assert.Equal(t, models.StatusNotReachable, current.Records[0].Status)
	assert.Equal(t, "Host not reachable", current.Records[0].Detail)
	assert.InDelta(t, 1.0, current.Progress.Fraction, 0.0001)
}

func TestStartScanSegmentWithLines(t *testing.T) {
	env := newTestEnv(t, unreachable())

	resp := env.do(t, http.MethodPost, "/api/v1/scans",
		`{"kind":"list","lines":["10.0.0.1","10.0.0.999","10.0.1"]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	summary := waitForRun(t, env.manager)
	assert.Equal(t, 1+1+256, summary.Total)
	assert.Equal(t, 1, summary.Count(models.StatusInvalid))
}

func TestStartScanRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, unreachable())

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"input":`},
		{"unknown field", `{"input":"10.0.0.1","ports":[22]}`},
		{"missing input", `{}`},
		{"unknown kind", `{"input":"10.0.0.1","kind":"range"}`},
		{"unknown capability", `{"input":"10.0.0.1","capabilities":["bios"]}`},
		{"concurrency too high", `{"input":"10.0.0.1","max_concurrency":100000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/v1/scans", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decode[apihandlers.ErrorResponse](t, resp)
			assert.NotEmpty(t, body.Error)
		})
	}

	_, ok := env.manager.Current()
	assert.False(t, ok, "no run should have started")
}

func TestStartScanUnsupportedContentType(t *testing.T) {
	env := newTestEnv(t, unreachable())

	req, err := http.NewRequest(http.MethodPost, env.http.URL+"/api/v1/scans", strings.NewReader("10.0.0.1"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestSingleActiveRunAndCancel(t *testing.T) {
	env := newTestEnv(t, blockingProber())

	resp := env.do(t, http.MethodPost, "/api/v1/scans", `{"input":"10.0.0"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/scans", `{"input":"10.0.1.1"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/scans/current", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[apihandlers.ScanResponse](t, resp).Running)

	resp = env.do(t, http.MethodDelete, "/api/v1/scans/current", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	summary := waitForRun(t, env.manager)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 256, summary.Total)
	assert.Equal(t, 256, summary.Count(models.StatusCancelled))

	resp = env.do(t, http.MethodDelete, "/api/v1/scans/current", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCurrentWithoutRun(t *testing.T) {
	env := newTestEnv(t, unreachable())

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/scans/current", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/v1/scans/current", "").StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, unreachable(), WithMetrics(metrics.NewPrometheusMetrics()))

	env.do(t, http.MethodGet, "/api/v1/health", "")

	resp := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `inventorama_api_requests_total{method="GET",path="/api/v1/health",status="200"} 1`)
}

func TestMetricsEndpointDisabled(t *testing.T) {
	env := newTestEnv(t, unreachable())
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/metrics", "").StatusCode)
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t, unreachable())

	req, err := http.NewRequest(http.MethodGet, env.http.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHistoryEndpoint(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	database := &db.DB{DB: sqlx.NewDb(conn, "postgres")}

	env := newTestEnv(t, unreachable(), WithDatabase(database))

	scanned := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	mock.ExpectQuery("FROM scan_records").
		WithArgs("10.0.0.5", 5).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "run_id", "address", "status", "scanned_at", "hostname", "last_logged_user",
			"machine_type", "machine_sku", "installed_software", "ram_size", "windows_version",
			"windows_release", "detail", "recorded_at",
		}).AddRow(1, "7f1c1a38-43f4-4e4e-9b8e-6f3a3f0b9d11", "10.0.0.5", "Complete", scanned,
			"WS-01", "N/A", "N/A", "N/A", "N/A", "N/A", "N/A", "N/A", "N/A", scanned))

	resp := env.do(t, http.MethodGet, "/api/v1/hosts/10.0.0.5/history?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[struct {
		Address string            `json:"address"`
		Records []db.StoredRecord `json:"records"`
	}](t, resp)
	assert.Equal(t, "10.0.0.5", body.Address)
	require.Len(t, body.Records, 1)
	assert.Equal(t, "WS-01", body.Records[0].Hostname)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodGet, "/api/v1/hosts/10.0.0.999/history", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodGet, "/api/v1/hosts/10.0.0.5/history?limit=x", "").StatusCode)
}

func TestHistoryEndpointWithoutDatabase(t *testing.T) {
	env := newTestEnv(t, unreachable())
	assert.Equal(t, http.StatusNotFound,
		env.do(t, http.MethodGet, "/api/v1/hosts/10.0.0.5/history", "").StatusCode)
}

func TestWebSocketStreamsTransitions(t *testing.T) {
	env := newTestEnv(t, unreachable())

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	resp := env.do(t, http.MethodPost, "/api/v1/scans", `{"input":"10.0.0.7"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var statuses []models.Status
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg struct {
			Type string            `json:"type"`
			Data models.ScanRecord `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "record", msg.Type)
		assert.Equal(t, "10.0.0.7", msg.Data.Address)
		statuses = append(statuses, msg.Data.Status)
		if msg.Data.Status.IsTerminal() {
			break
		}
	}
	assert.Equal(t, models.StatusNotReachable, statuses[len(statuses)-1])
	assert.Contains(t, statuses, models.StatusProbing)
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t, unreachable())

	resp := env.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "inventorama", body["service"])
}

func TestRequestBodyLimit(t *testing.T) {
	env := newTestEnv(t, unreachable())
	require.Equal(t, int64(1<<20), env.server.config.API.MaxRequestSize)

	large := `{"input":"10.0.0.1","lines":["` + strings.Repeat("1", 2<<20) + `"]}`
	resp, err := http.Post(env.http.URL+"/api/v1/scans", "application/json", bytes.NewBufferString(large))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScheduleEndpoints(t *testing.T) {
	cfg := config.Default()
	cfg.Scan.Capabilities = []string{"none"}
	cfg.Schedule = config.ScheduleConfig{Enabled: true, Cron: "@hourly", Input: "10.0.0.1,10.0.0.2", Kind: "list"}
	settings, err := cfg.ScanSettings()
	require.NoError(t, err)

	manager := scanning.NewManager(scanning.NewOrchestrator(unreachable(), nil, logging.NewNop()), logging.NewNop())
	sched, err := scheduler.New(cfg.Schedule, settings, manager, logging.NewNop())
	require.NoError(t, err)
	defer sched.Stop()

	srv, err := New(cfg, manager, logging.NewNop(), WithScheduler(sched))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	env := &testEnv{server: srv, manager: manager, http: ts}

	resp := env.do(t, http.MethodGet, "/api/v1/schedule", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[scheduler.Status](t, resp)
	assert.True(t, status.Enabled)
	assert.Equal(t, "@hourly", status.Cron)
	assert.True(t, status.NextRun.After(time.Now()))

	resp = env.do(t, http.MethodPost, "/api/v1/schedule/run", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started := decode[apihandlers.ScanResponse](t, resp)
	assert.Equal(t, 2, started.Progress.Total)

	summary := waitForRun(t, manager)
	assert.Equal(t, started.ID, summary.ID)
	assert.Equal(t, 2, summary.Count(models.StatusNotReachable))
}

func TestScheduleEndpointsWithoutScheduler(t *testing.T) {
	env := newTestEnv(t, unreachable())
	resp := env.do(t, http.MethodGet, "/api/v1/schedule", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthenticationRequiresKey(t *testing.T) {
	generated, err := auth.GenerateAPIKey()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Scan.Capabilities = []string{"none"}
	cfg.API.Auth = config.AuthConfig{Enabled: true, KeyHashes: []string{generated.Hash}}

	manager := scanning.NewManager(scanning.NewOrchestrator(unreachable(), nil, logging.NewNop()), logging.NewNop())
	srv, err := New(cfg, manager, logging.NewNop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.websocket.Close()

	get := func(path, key string) int {
		req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		require.NoError(t, err)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get("/api/v1/health", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/scans/current", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/scans/current", "ik_wrongwrongwrongwrongwrong"))
	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/ws", ""))
	assert.Equal(t, http.StatusNotFound, get("/api/v1/scans/current", generated.Key))
}

func TestAuthenticationRejectsPlainKeys(t *testing.T) {
	cfg := config.Default()
	cfg.API.Auth = config.AuthConfig{Enabled: true, KeyHashes: []string{"ik_notahash"}}
	manager := scanning.NewManager(scanning.NewOrchestrator(unreachable(), nil, logging.NewNop()), logging.NewNop())

	_, err := New(cfg, manager, logging.NewNop())
	assert.Error(t, err)
}

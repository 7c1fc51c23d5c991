package web

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyops/txctl/internal/readiness"
	"github.com/skyops/txctl/internal/supervisor"
)

func testServer(t *testing.T) (*Server, *supervisor.Manifest, string) {
	t.Helper()
	stateDir := t.TempDir()
	manifest := supervisor.NewManifest(stateDir)
	return New(0, manifest, readiness.NewGate(zerolog.Nop()), zerolog.Nop()), manifest, stateDir
}

func TestAPIRunsEmpty(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var views []runView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Empty(t, views)
}

func TestAPIRunsReportsProcessState(t *testing.T) {
	srv, manifest, _ := testServer(t)
	require.NoError(t, manifest.Add(supervisor.Run{ID: "run-alive", Name: "serve", PID: os.Getpid(), StartedAt: time.Now()}))
	require.NoError(t, manifest.Add(supervisor.Run{ID: "run-dead", Name: "train", PID: 1 << 22, StartedAt: time.Now()}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var views []runView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.True(t, views[0].Running)
	assert.False(t, views[1].Running)
}

func TestAPILogTail(t *testing.T) {
	srv, manifest, stateDir := testServer(t)

	logPath := filepath.Join(stateDir, "serve.log")
	require.NoError(t, os.WriteFile(logPath, []byte("one\ntwo\nthree\n"), 0o644))
	require.NoError(t, manifest.Add(supervisor.Run{ID: "run-1", Name: "serve", PID: os.Getpid(), LogPath: logPath, StartedAt: time.Now()}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/run-1/log?lines=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		ID    string   `json:"id"`
		Lines []string `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "run-1", payload.ID)
	assert.Equal(t, []string{"two", "three"}, payload.Lines)
}

func TestAPILogUnknownRun(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/nope/log", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartReportsBusyPort(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() {
		_ = listener.Close()
	}()
	port := listener.Addr().(*net.TCPAddr).Port

	manifest := supervisor.NewManifest(t.TempDir())
	srv := New(port, manifest, readiness.NewGate(zerolog.Nop()), zerolog.Nop())

	err = srv.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
}

func TestStartAndStop(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	manifest := supervisor.NewManifest(t.TempDir())
	srv := New(port, manifest, readiness.NewGate(zerolog.Nop()), zerolog.Nop())

	require.NoError(t, srv.Start())
	srv.Stop()
}

func TestDashboardRenders(t *testing.T) {
	srv, manifest, _ := testServer(t)
	require.NoError(t, manifest.Add(supervisor.Run{ID: "run-1", Name: "serve", Model: "Qwen/Qwen2.5-7B-Instruct", Port: 8000, PID: os.Getpid(), StartedAt: time.Now()}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "txctl runs")
	assert.Contains(t, rec.Body.String(), "Qwen/Qwen2.5-7B-Instruct")
}

package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MegAtonBoom/bookkeeper/config"
	"github.com/MegAtonBoom/bookkeeper/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemCollector_Collect(t *testing.T) {
	dir := t.TempDir()
	sc := NewSystemCollector([]string{dir, "/definitely/missing/dir"}, 20*time.Millisecond, testutil.DiscardLogger())
	sc.Collect()

	v := sc.diskUsage.Get(dir)
	require.NotNil(t, v, "disk usage is published per directory")
	var pct float64
	require.NoError(t, json.Unmarshal([]byte(v.String()), &pct))
	assert.GreaterOrEqual(t, pct, 0.0)
	assert.LessOrEqual(t, pct, 100.0)
	assert.Nil(t, sc.diskUsage.Get("/definitely/missing/dir"))

	sc.Start()
	sc.Stop()
	sc.Stop()

	// Collectors share the published variables.
	assert.Same(t, sc.diskUsage, NewSystemCollector(nil, time.Second, nil).diskUsage)
}

func TestMetricsServer_Endpoints(t *testing.T) {
	cfg := &config.DebugConfig{PProfEnabled: true, MetricsEnabled: true}
	ms := NewMetricsServer(cfg, testutil.DiscardLogger())

	for path, want := range map[string]int{
		"/metrics":      http.StatusOK,
		"/debug/pprof/": http.StatusOK,
		"/viz/":         http.StatusOK,
		"/nothing":      http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	var vars map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vars))
	assert.Contains(t, vars, "memstats")
}

func TestMetricsServer_DisabledEndpoints(t *testing.T) {
	ms := NewMetricsServer(&config.DebugConfig{}, nil)
	rec := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsServer_ServeAndStop(t *testing.T) {
	ms := NewMetricsServer(&config.DebugConfig{MetricsEnabled: true}, testutil.DiscardLogger())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- ms.Serve(ln) }()

	url := "http://" + ln.Addr().String() + "/metrics"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	second, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Error(t, ms.Serve(second), "a running server refuses a second listener")

	ms.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestMetricsServer_HandleStatus(t *testing.T) {
	ms := NewMetricsServer(&config.DebugConfig{}, testutil.DiscardLogger())
	ms.HandleStatus("/debug/bookie", func() (any, error) {
		return []map[string]int64{{"current_journal": 42}}, nil
	})
	ms.HandleStatus("/debug/broken", func() (any, error) {
		return nil, errors.New("bookie is shut down")
	})

	rec := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/bookie", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `[{"current_journal": 42}]`, rec.Body.String())

	rec = httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/bookie", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	ms.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/broken", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "shut down")
}

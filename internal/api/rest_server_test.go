package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/annel0/amr-mesh/internal/config"
	"github.com/annel0/amr-mesh/internal/mesh"
	"github.com/annel0/amr-mesh/internal/simulation"
	"github.com/annel0/amr-mesh/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, store storage.SnapshotStore) (*RestServer, *simulation.Driver) {
	t.Helper()
	cfg := config.Default()
	cfg.Delivery = config.DeliveryConfig{Mode: "random", Seed: 3}

	reg := prometheus.NewRegistry()
	rt, err := simulation.NewRuntimeFromConfig(cfg, nil, mesh.NewMetrics(reg))
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { rt.Close() })

	driver := simulation.NewDriver(rt, store)
	return NewRestServer(Config{Driver: driver, Registry: reg}), driver
}

func do(t *testing.T, rs *RestServer, method, path string) (*httptest.ResponseRecorder, GenericResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	rs.Handler().ServeHTTP(w, req)

	var resp GenericResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

// decodeData перекладывает поле Data ответа в типизированную структуру
func decodeData(t *testing.T, resp GenericResponse, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestHealth(t *testing.T) {
	rs, _ := newTestServer(t, nil)
	w, _ := do(t, rs, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Trace-Id"))
}

func TestAdaptAndMesh(t *testing.T) {
	rs, _ := newTestServer(t, storage.NewMemoryStore())

	w, resp := do(t, rs, http.MethodPost, "/api/adapt")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)
	var report mesh.CycleReport
	decodeData(t, resp, &report)
	assert.Equal(t, 0, report.Cycle)
	assert.Equal(t, 21, report.Blocks)

	w, resp = do(t, rs, http.MethodGet, "/api/mesh")
	require.Equal(t, http.StatusOK, w.Code)
	var snap mesh.Snapshot
	decodeData(t, resp, &snap)
	assert.Len(t, snap.Blocks, 21)
	assert.Equal(t, []int{1, 4, 16}, snap.CountByLevel())

	w, resp = do(t, rs, http.MethodGet, "/api/mesh/summary")
	require.Equal(t, http.StatusOK, w.Code)
	var summary MeshSummary
	decodeData(t, resp, &summary)
	assert.Equal(t, 0, summary.Cycle)
	assert.Equal(t, 21, summary.Blocks)
	assert.False(t, summary.Busy)
	assert.Equal(t, "closed", summary.Boundary)
	require.NotNil(t, summary.LastReport)
	assert.Equal(t, report, *summary.LastReport)
}

func TestCycles(t *testing.T) {
	rs, _ := newTestServer(t, storage.NewMemoryStore())

	for i := 0; i < 2; i++ {
		w, _ := do(t, rs, http.MethodPost, "/api/adapt")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, resp := do(t, rs, http.MethodGet, "/api/cycles")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Cycles []int `json:"cycles"`
		Total  int   `json:"total"`
	}
	decodeData(t, resp, &list)
	assert.Equal(t, []int{0, 1}, list.Cycles)
	assert.Equal(t, 2, list.Total)

	w, resp = do(t, rs, http.MethodGet, "/api/cycles/1")
	require.Equal(t, http.StatusOK, w.Code)
	var rec storage.Record
	decodeData(t, resp, &rec)
	assert.Equal(t, 1, rec.Cycle)
	assert.Len(t, rec.Snapshot.Blocks, 21)

	w, resp = do(t, rs, http.MethodGet, "/api/cycles/latest")
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, resp, &rec)
	assert.Equal(t, 1, rec.Cycle)

	w, _ = do(t, rs, http.MethodGet, "/api/cycles/42")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = do(t, rs, http.MethodGet, "/api/cycles/abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
}

func TestCyclesWithoutStore(t *testing.T) {
	rs, _ := newTestServer(t, nil)
	w, resp := do(t, rs, http.MethodGet, "/api/cycles")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, resp.Success)
}

func TestAdaptAfterCloseIsUnavailable(t *testing.T) {
	rs, driver := newTestServer(t, nil)
	require.NoError(t, driver.Runtime().Close())

	w, _ := do(t, rs, http.MethodPost, "/api/adapt")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatus(t *testing.T) {
	rs, _ := newTestServer(t, nil)
	w, resp := do(t, rs, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]interface{}
	decodeData(t, resp, &status)
	assert.Contains(t, status, "uptime")
	assert.Contains(t, status, "memory_details")
	assert.Contains(t, status, "loggers")
}

func TestMetricsEndpoint(t *testing.T) {
	rs, _ := newTestServer(t, nil)
	do(t, rs, http.MethodGet, "/health")

	w, _ := do(t, rs, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "amr_admin_http_request_duration_seconds")
	assert.Contains(t, body, "amr_blocks")
}

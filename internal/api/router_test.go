package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/districtscouts/roster/internal/database"
	testutil "github.com/districtscouts/roster/internal/database/testutil"
	"github.com/districtscouts/roster/pkg/metrics"
)

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestNewRouterRequiresDatabase(t *testing.T) {
	_, err := NewRouter(nil, "/metrics")
	require.Error(t, err)
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.MustOpenTestDB(t)
	metrics.JobRuns.WithLabelValues("import-tsa", "success").Inc()

	router, err := NewRouter(db, "/internal/metrics")
	require.NoError(t, err)

	w := get(t, router, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])

	w = get(t, router, "/internal/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "roster_job_runs_total")

	require.Equal(t, http.StatusNotFound, get(t, router, "/metrics").Code)
}

func TestRouterHealthFailsWhenDatabaseClosed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.MustOpenTestDB(t)

	router, err := NewRouter(db, "")
	require.NoError(t, err)
	require.NoError(t, database.Close(db))

	require.Equal(t, http.StatusServiceUnavailable, get(t, router, "/healthz").Code)
	require.Equal(t, http.StatusOK, get(t, router, "/metrics").Code)
}

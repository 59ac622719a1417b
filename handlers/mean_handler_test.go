package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rolling-mean-service/analytics"
	"rolling-mean-service/cache"
	"rolling-mean-service/models"
	"rolling-mean-service/services"
	"rolling-mean-service/utils"
)

func TestMain(m *testing.M) {
	utils.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

func newRouter(t *testing.T, window int) *mux.Router {
	t.Helper()
	svc, err := services.NewMeanService(nil, services.Options{WindowSize: window, Precision: analytics.Float64})
	require.NoError(t, err)
	t.Cleanup(svc.Stop)

	r := mux.NewRouter()
	NewMeanHandler(svc).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestIngestSamples(t *testing.T) {
	r := newRouter(t, 2)

	rec := do(r, http.MethodPost, "/series/cpu/samples", `{"label":"t0","value":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(r, http.MethodPost, "/series/cpu/samples",
		`[{"label":"t1","value":2},{"label":"t2","value":3},{"label":"t3","value":4}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Series string             `json:"series"`
		Points []models.MeanPoint `json:"points"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cpu", resp.Series)
	require.Len(t, resp.Points, 3)
	assert.Equal(t, 1.5, resp.Points[0].Mean)
	assert.Equal(t, 2.5, resp.Points[1].Mean)
	assert.Equal(t, 3.5, resp.Points[2].Mean)
	assert.Equal(t, "rolling", resp.Points[2].Mode)
}

func TestIngestSamples_BadRequests(t *testing.T) {
	r := newRouter(t, 3)

	for _, body := range []string{``, `{`, `null`, `[]`, `{"label":"a","value":"x"}`} {
		rec := do(r, http.MethodPost, "/series/cpu/samples", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestGetSeries(t *testing.T) {
	r := newRouter(t, 3)

	rec := do(r, http.MethodGet, "/series/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(r, http.MethodPost, "/series/rps/samples", `[{"label":"a","value":2},{"label":"b","value":4}]`)

	rec = do(r, http.MethodGet, "/series/rps", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.SeriesSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "rps", snap.Name)
	assert.Equal(t, 3.0, snap.Mean)
	assert.Equal(t, 2, snap.Size)
	assert.Equal(t, 3, snap.WindowSize)
	assert.Equal(t, "cumulative", snap.Mode)
	assert.Equal(t, "b", snap.LastLabel)
}

func TestGetSample(t *testing.T) {
	r := newRouter(t, 3)
	do(r, http.MethodPost, "/series/rps/samples", `[{"label":"a","value":2},{"label":"b","value":4}]`)

	rec := do(r, http.MethodGet, "/series/rps/samples/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"index":1,"value":4}`, rec.Body.String())

	rec = do(r, http.MethodGet, "/series/rps/samples/2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, http.MethodGet, "/series/other/samples/0", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAndListSeries(t *testing.T) {
	r := newRouter(t, 3)
	do(r, http.MethodPost, "/series/b/samples", `{"label":"x","value":1}`)
	do(r, http.MethodPost, "/series/a/samples", `{"label":"x","value":1}`)

	rec := do(r, http.MethodGet, "/series", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"series":["a","b"],"window_size":3}`, rec.Body.String())

	rec = do(r, http.MethodDelete, "/series/a", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(r, http.MethodDelete, "/series/a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, http.MethodGet, "/series", "")
	assert.JSONEq(t, `{"series":["b"],"window_size":3}`, rec.Body.String())
}

func TestCompute(t *testing.T) {
	r := newRouter(t, 1000)

	rec := do(r, http.MethodPost, "/compute", "t0,1.0\nt1,2.0\nt2,3.0\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "t0,1.0\nt1,1.5\nt2,2.0\n", rec.Body.String())
	assert.Equal(t, "3", rec.Header().Get("X-Lines"))

	rec = do(r, http.MethodPost, "/compute?window=2", "a,1\nb,2\nc,3\nd,4\n")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a,1.0\nb,1.5\nc,2.5\nd,3.5\n", rec.Body.String())
}

func TestCompute_Errors(t *testing.T) {
	r := newRouter(t, 3)

	rec := do(r, http.MethodPost, "/compute", "t0,1\nt1,bad\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "line 2")

	for _, q := range []string{"0", "-1", "abc"} {
		rec = do(r, http.MethodPost, "/compute?window="+q, "t0,1\n")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "window %s", q)
	}
}

func TestCacheRoutes_Disabled(t *testing.T) {
	r := newRouter(t, 4)

	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/series/cpu/history", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/runs", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/series?source=cache", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/runs?count=0", "").Code)
}

func TestCacheRoutes_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisClient(context.Background(), cache.Options{Addr: mr.Addr(), TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	svc, err := services.NewMeanService(rc, services.Options{WindowSize: 2, Precision: analytics.Float64})
	require.NoError(t, err)
	r := mux.NewRouter()
	NewMeanHandler(svc).RegisterRoutes(r)

	rec := do(r, http.MethodPost, "/series/cpu/samples", `[{"label":"a","value":1},{"label":"b","value":2},{"label":"c","value":3}]`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(r, http.MethodPost, "/compute", "x,4\ny,6\n")
	require.Equal(t, http.StatusOK, rec.Code)
	svc.Stop()

	rec = do(r, http.MethodGet, "/series/cpu/history?count=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history models.SeriesHistory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, int64(3), history.Inserted)
	require.Len(t, history.Points, 2)
	assert.Equal(t, "c", history.Points[0].Label)
	assert.Equal(t, 2.5, history.Points[0].Mean)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/series/missing/history", "").Code)

	rec = do(r, http.MethodGet, "/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs struct {
		Runs []models.RunResult `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, 2, runs.Runs[0].Lines)
	assert.Equal(t, 5.0, runs.Runs[0].FinalMean)

	rec = do(r, http.MethodGet, "/series?source=cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cpu"`)

	// gone from memory, still served from the cache
	require.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/series/cpu", "").Code)
	require.NoError(t, rc.StoreSnapshot(context.Background(), models.SeriesSnapshot{Name: "cpu", Mean: 2.5}))
	rec = do(r, http.MethodGet, "/series/cpu", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cache", rec.Header().Get("X-Source"))
}

func newSinglePrecisionRouter(t *testing.T, window int) *mux.Router {
	t.Helper()
	svc, err := services.NewMeanService(nil, services.Options{WindowSize: window, Precision: analytics.Float32})
	require.NoError(t, err)
	t.Cleanup(svc.Stop)

	r := mux.NewRouter()
	NewMeanHandler(svc).RegisterRoutes(r)
	return r
}

func TestIngestSamples_OverflowRejected(t *testing.T) {
	r := newSinglePrecisionRouter(t, 3)

	rec := do(r, http.MethodPost, "/series/x/samples", `{"label":"t0","value":1e39}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodGet, "/series/x", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNonFiniteMean_ServerError(t *testing.T) {
	r := newSinglePrecisionRouter(t, 2)

	// 3e38 + 3e38/2 leaves float32 range on the rolling update
	rec := do(r, http.MethodPost, "/series/x/samples", `[{"label":"a","value":3e38},{"label":"b","value":3e38},{"label":"c","value":3e38}]`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"mean":`)

	rec = do(r, http.MethodGet, "/series/x", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestCompute_BodyTooLarge(t *testing.T) {
	svc, err := services.NewMeanService(nil, services.Options{WindowSize: 3})
	require.NoError(t, err)
	t.Cleanup(svc.Stop)

	h := NewMeanHandler(svc)
	h.maxComputeBody = 18
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	rec := do(r, http.MethodPost, "/compute", "a,1\nb,2\nc,3\nd,4\ne,5\nf,6\n")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = do(r, http.MethodPost, "/compute", "a,1\nb,2\n")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a,1.0\nb,1.5\n", rec.Body.String())
}

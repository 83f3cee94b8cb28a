package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// TestMiddlewareLabelsByRoutePattern keeps per-title paths from exploding the
// duration series.
func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/titles/{source}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	goneBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "410"))
	seriesBefore := testutil.CollectAndCount(httpRequestDurationSeconds)

	for _, path := range []string{"/v1/titles/comick", "/v1/titles/asura", "/v1/gone"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	require.Equal(t, okBefore+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")))
	require.Equal(t, goneBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "410")))

	// Two route patterns, not three paths.
	require.Equal(t, seriesBefore+2, testutil.CollectAndCount(httpRequestDurationSeconds))
}

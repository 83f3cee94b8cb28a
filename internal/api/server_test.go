package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/comicfeed/internal/feed"
	"github.com/JakeFAU/comicfeed/internal/progress"
	"github.com/JakeFAU/comicfeed/internal/scanner"
	"github.com/JakeFAU/comicfeed/internal/storage/memory"
)

type fakeReporter struct {
	report scanner.Report
	ok     bool
}

func (f fakeReporter) LastReport() (scanner.Report, bool) { return f.report, f.ok }

type fakeQueue struct{ pending, workers int }

func (f fakeQueue) Pending() int { return f.pending }
func (f fakeQueue) Workers() int { return f.workers }

type fakeRefresher struct {
	err   error
	calls []string
}

func (f *fakeRefresher) Refresh(_ context.Context, titleURL string) (feed.LastChapter, error) {
	f.calls = append(f.calls, titleURL)
	if f.err != nil {
		return feed.LastChapter{}, f.err
	}
	return feed.LastChapter{TitleURL: titleURL, ChapterURL: titleURL + "/c10"}, nil
}

type fakeHistory struct{}

func (fakeHistory) Recent(int) []progress.Record {
	return []progress.Record{
		{DeliveryID: "d3", Recipient: "42", Chapter: "Solo - 3", Result: "sent", Formats: []string{"PDF"}},
		{DeliveryID: "d2", Recipient: "42", Chapter: "Solo - 2", Result: "failed", Note: "render PDF: boom"},
		{DeliveryID: "d1", Recipient: "7", Chapter: "Solo - 1", Result: "sent"},
	}
}

type brokenStore struct {
	*memory.Store
}

func (brokenStore) Preference(context.Context, string) (feed.Preference, error) {
	return feed.Preference{}, errors.New("connection refused")
}

func newTestServer(t *testing.T, store feed.Store, refresher Refresher, cfg Config) *Server {
	t.Helper()
	report := scanner.Report{
		Pass:        3,
		Started:     time.Unix(1_700_000_000, 0).UTC(),
		Duration:    1500 * time.Millisecond,
		Titles:      4,
		Updated:     1,
		NewChapters: 2,
		Deliveries:  3,
		Err:         multierr.Append(errors.New("comick: timeout"), errors.New("asura: 503")),
	}
	return NewServer(store, fakeReporter{report: report, ok: true}, fakeQueue{pending: 5, workers: 2}, refresher, fakeHistory{}, cfg, zap.NewNop())
}

func do(t *testing.T, s *Server, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, memory.NewStore(), nil, Config{})
	rec := do(t, s, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, s, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	broken := newTestServer(t, brokenStore{memory.NewStore()}, nil, Config{})
	rec = do(t, broken, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, memory.NewStore(), nil, Config{})
	do(t, s, http.MethodGet, "/healthz", nil, nil)
	rec := do(t, s, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestStatusReportsScanAndQueue(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, memory.NewStore(), nil, Config{})
	rec := do(t, s, http.MethodGet, "/v1/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	queue := body["queue"].(map[string]any)
	require.InDelta(t, 5, queue["pending"], 0)
	require.InDelta(t, 2, queue["workers"], 0)
	last := body["last_scan"].(map[string]any)
	require.InDelta(t, 3, last["pass"], 0)
	require.InDelta(t, 1500, last["duration_ms"], 0)
	require.Len(t, last["errors"], 2)
}

func TestStatusBeforeFirstPass(t *testing.T) {
	t.Parallel()

	s := NewServer(memory.NewStore(), fakeReporter{}, nil, nil, nil, Config{}, zap.NewNop())
	body := decode(t, do(t, s, http.MethodGet, "/v1/status", nil, nil))
	require.NotContains(t, body, "last_scan")
	require.NotContains(t, body, "queue")
}

func TestListSubscriptionsAndTitles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	for i, recipient := range []string{"1", "2", "2"} {
		titleURL := fmt.Sprintf("https://md.test/title/%d", i%2)
		require.NoError(t, store.AddSubscription(ctx, feed.Subscription{TitleURL: titleURL, RecipientID: recipient}))
	}
	require.NoError(t, store.PutLastChapter(ctx, feed.LastChapter{TitleURL: "https://md.test/title/0", ChapterURL: "c9"}))
	require.NoError(t, store.PutTitleName(ctx, feed.TitleName{TitleURL: "https://md.test/title/0", Name: "Solo"}))
	s := newTestServer(t, store, nil, Config{})

	body := decode(t, do(t, s, http.MethodGet, "/v1/subscriptions", nil, nil))
	require.InDelta(t, 3, body["total"], 0)

	body = decode(t, do(t, s, http.MethodGet, "/v1/subscriptions?recipient=2&limit=1", nil, nil))
	require.InDelta(t, 2, body["total"], 0)
	require.Len(t, body["subscriptions"], 1)

	body = decode(t, do(t, s, http.MethodGet, "/v1/subscriptions?offset=10", nil, nil))
	require.Empty(t, body["subscriptions"])

	rec := do(t, s, http.MethodGet, "/v1/subscriptions?limit=-1", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body = decode(t, do(t, s, http.MethodGet, "/v1/titles", nil, nil))
	titles := body["titles"].([]any)
	require.Len(t, titles, 1)
	first := titles[0].(map[string]any)
	require.Equal(t, "Solo", first["name"])
	require.Equal(t, "c9", first["chapter_url"])
}

func TestRefreshTitle(t *testing.T) {
	t.Parallel()

	refresher := &fakeRefresher{}
	s := newTestServer(t, memory.NewStore(), refresher, Config{})

	rec := do(t, s, http.MethodPost, "/v1/titles/refresh", []byte(`{"title_url":"https://md.test/title/1"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://md.test/title/1/c10", decode(t, rec)["chapter_url"])
	require.Equal(t, []string{"https://md.test/title/1"}, refresher.calls)

	rec = do(t, s, http.MethodPost, "/v1/titles/refresh", []byte(`{"title_url":"nope"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/titles/refresh", []byte(`{invalid`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshTitleErrors(t *testing.T) {
	t.Parallel()

	cases := map[error]int{
		fmt.Errorf("refresh: %w", feed.ErrUnknownSource): http.StatusNotFound,
		fmt.Errorf("refresh: %w", scanner.ErrNoChapters): http.StatusConflict,
		errors.New("upstream 502"):                       http.StatusBadGateway,
	}
	for err, want := range cases {
		s := newTestServer(t, memory.NewStore(), &fakeRefresher{err: err}, Config{})
		rec := do(t, s, http.MethodPost, "/v1/titles/refresh", []byte(`{"title_url":"https://x.test/t"}`), nil)
		require.Equal(t, want, rec.Code, err.Error())
	}

	s := newTestServer(t, memory.NewStore(), nil, Config{})
	rec := do(t, s, http.MethodPost, "/v1/titles/refresh", []byte(`{"title_url":"https://x.test/t"}`), nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, memory.NewStore(), nil, Config{APIKey: "secret"})
	require.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/v1/status", nil, nil).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/status", nil, map[string]string{"X-API-Key": "secret"}).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/status?api_key=secret", nil, nil).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil, nil).Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := NewServer(memory.NewStore(), nil, nil, nil, nil, Config{}, zap.NewNop())
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListDeliveries(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, memory.NewStore(), nil, Config{})

	rec := do(t, s, http.MethodGet, "/v1/deliveries?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Total      int               `json:"total"`
		Deliveries []progress.Record `json:"deliveries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Total)
	require.Len(t, body.Deliveries, 2)
	require.Equal(t, "d3", body.Deliveries[0].DeliveryID)

	rec = do(t, s, http.MethodGet, "/v1/deliveries?result=failed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	require.Equal(t, "render PDF: boom", body.Deliveries[0].Note)

	empty := NewServer(memory.NewStore(), nil, nil, nil, nil, Config{}, zap.NewNop())
	rec = do(t, empty, http.MethodGet, "/v1/deliveries", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"total":0,"deliveries":[]}`, rec.Body.String())
}

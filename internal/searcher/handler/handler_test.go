package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/nrt-search/internal/searcher/gateway"
	apperrors "github.com/Adithya-Monish-Kumar-K/nrt-search/pkg/errors"
)

type fakeSearcher struct {
	result    *gateway.Result
	err       error
	cacheOn   bool
	gotQuery  string
	gotLimit  int
	invalided bool
}

func (f *fakeSearcher) Search(_ context.Context, q string, limit int) (*gateway.Result, error) {
	f.gotQuery, f.gotLimit = q, limit
	return f.result, f.err
}

func (f *fakeSearcher) CacheStats() (cache.Stats, bool) {
	return cache.Stats{L1Hits: 3, Misses: 1}, f.cacheOn
}

func (f *fakeSearcher) InvalidateCache(context.Context) error {
	f.invalided = true
	return nil
}

type fakeRefresher struct{ err error }

func (f fakeRefresher) RefreshNow(context.Context) (indexer.PublishInfo, error) {
	return indexer.PublishInfo{Generation: 7, Swapped: true}, f.err
}

func (fakeRefresher) Current() (indexer.PublishInfo, bool) {
	return indexer.PublishInfo{Generation: 7}, true
}

func serve(h http.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestSearchPassesQueryAndLimit(t *testing.T) {
	s := &fakeSearcher{result: &gateway.Result{Hits: []map[string]any{{"id": "1"}}}}
	h := New(s, fakeRefresher{}, nil)

	rec := serve(h.Search, http.MethodGet, "/search?q=tags%3Arust&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tags:rust", s.gotQuery)
	assert.Equal(t, 5, s.gotLimit)
	assert.JSONEq(t, `[{"id":"1"}]`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestSearchWithoutLimitUsesDefault(t *testing.T) {
	s := &fakeSearcher{result: &gateway.Result{}}
	h := New(s, fakeRefresher{}, nil)

	rec := serve(h.Search, http.MethodGet, "/search?q=rust")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, s.gotLimit)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSearchErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"syntax", apperrors.New(apperrors.ErrQuerySyntax, http.StatusBadRequest, "unexpected token"), http.StatusBadRequest},
		{"timeout", fmt.Errorf("%w: slow", apperrors.ErrTimeout), http.StatusServiceUnavailable},
		{"no snapshot", apperrors.ErrNoSnapshot, http.StatusServiceUnavailable},
		{"engine", fmt.Errorf("collecting results: %w", apperrors.ErrInternal), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&fakeSearcher{err: tt.err}, fakeRefresher{}, nil)
			rec := serve(h.Search, http.MethodGet, "/search?q=x")
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.err.Error(), decodeError(t, rec))
		})
	}
}

func TestSearchSyntaxErrorMessage(t *testing.T) {
	err := apperrors.New(apperrors.ErrQuerySyntax, http.StatusBadRequest, "unexpected token")
	h := New(&fakeSearcher{err: err}, fakeRefresher{}, nil)
	rec := serve(h.Search, http.MethodGet, "/search?q=x")
	assert.Equal(t, "invalid query: unexpected token", decodeError(t, rec))
}

func TestSearchRejectsBadParams(t *testing.T) {
	h := New(&fakeSearcher{}, fakeRefresher{}, nil)

	rec := serve(h.Search, http.MethodGet, "/search")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid query: query parameter 'q' is required", decodeError(t, rec))

	rec = serve(h.Search, http.MethodGet, "/search?q=x&limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefresh(t *testing.T) {
	h := New(&fakeSearcher{}, fakeRefresher{}, nil)
	rec := serve(h.Refresh, http.MethodPost, "/admin/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"generation":7`)

	h = New(&fakeSearcher{}, fakeRefresher{err: apperrors.ErrIndexClosed}, nil)
	rec = serve(h.Refresh, http.MethodPost, "/admin/refresh")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCacheEndpoints(t *testing.T) {
	disabled := New(&fakeSearcher{}, fakeRefresher{}, nil)
	rec := serve(disabled.CacheStats, http.MethodGet, "/admin/cache")
	assert.JSONEq(t, `{"status":"disabled"}`, rec.Body.String())
	rec = serve(disabled.CacheInvalidate, http.MethodDelete, "/admin/cache")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s := &fakeSearcher{cacheOn: true}
	enabled := New(s, fakeRefresher{}, nil)
	rec = serve(enabled.CacheStats, http.MethodGet, "/admin/cache")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hit_rate":0.75`)

	rec = serve(enabled.CacheInvalidate, http.MethodDelete, "/admin/cache")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.invalided)
}

func TestStats(t *testing.T) {
	h := New(&fakeSearcher{cacheOn: true}, fakeRefresher{}, nil)
	rec := serve(h.Stats, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "snapshot")
	assert.Contains(t, body, "cache")
	assert.NotContains(t, body, "writer")
}

package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/ask-llm/internal/observability"
)

func newCountingServer(t *testing.T, status int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"echo":%q,"n":%d}`, body, n)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func post(t *testing.T, client *http.Client, url, body, auth string) (int, string, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", auth)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data), resp.Header.Get(HeaderCache)
}

func TestTransport_CachesSuccessfulResponses(t *testing.T) {
	srv, hits := newCountingServer(t, http.StatusOK)
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	client := &http.Client{Transport: NewTransport(nil, store, 0, metrics, zerolog.Nop())}

	status, first, marker := post(t, client, srv.URL+"/v1/models", "prompt-a", "Bearer one")
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, marker)

	status, second, marker := post(t, client, srv.URL+"/v1/models", "prompt-a", "Bearer two")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, first, second)
	assert.Equal(t, "hit", marker)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits), "credentials are not part of the key")

	_, third, _ := post(t, client, srv.URL+"/v1/models", "prompt-b", "Bearer one")
	assert.NotEqual(t, first, third)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits), "the body is part of the key")

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("hit")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("miss")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("store")))
}

func TestTransport_SkipsErrors(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusNotFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv, hits := newCountingServer(t, status)
			store, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			client := &http.Client{Transport: NewTransport(nil, store, 0, nil, zerolog.Nop())}

			got, _, _ := post(t, client, srv.URL, "x", "")
			assert.Equal(t, status, got)
			post(t, client, srv.URL, "x", "")
			assert.Equal(t, int32(2), atomic.LoadInt32(hits))
		})
	}
}

func TestTransport_TTL(t *testing.T) {
	srv, hits := newCountingServer(t, http.StatusOK)
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	client := &http.Client{Transport: NewTransport(nil, store, time.Millisecond, nil, zerolog.Nop())}

	post(t, client, srv.URL, "x", "")
	time.Sleep(5 * time.Millisecond)
	post(t, client, srv.URL, "x", "")
	assert.Equal(t, int32(2), atomic.LoadInt32(hits), "expired entries are refetched")
}

func TestTransport_RefreshReplacesEntry(t *testing.T) {
	srv, hits := newCountingServer(t, http.StatusOK)
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	client := &http.Client{Transport: NewTransport(nil, store, 0, metrics, zerolog.Nop())}

	_, first, _ := post(t, client, srv.URL, "x", "")
	assert.Contains(t, first, `"n":1`)

	req, err := http.NewRequestWithContext(WithRefresh(context.Background()), http.MethodPost, srv.URL, strings.NewReader("x"))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	refreshed, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, string(refreshed), `"n":2`)
	assert.Empty(t, resp.Header.Get(HeaderCache))

	_, third, marker := post(t, client, srv.URL, "x", "")
	assert.Equal(t, "hit", marker)
	assert.Equal(t, string(refreshed), third, "the refreshed response replaces the stored one")
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("refresh")))
}

func TestTransport_LargeBodiesAreNotStored(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 3000)
	tests := []struct {
		name          string
		contentLength bool
	}{
		{name: "declared length", contentLength: true},
		{name: "chunked", contentLength: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				if tt.contentLength {
					w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
				}
				w.WriteHeader(http.StatusOK)
				if f, ok := w.(http.Flusher); ok && !tt.contentLength {
					f.Flush()
				}
				w.Write(payload)
			}))
			defer srv.Close()

			store, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			metrics := observability.NewMetrics("test", prometheus.NewRegistry())
			transport := NewTransport(nil, store, 0, metrics, zerolog.Nop())
			transport.MaxBodySize = 1024
			client := &http.Client{Transport: transport}

			for i := 0; i < 2; i++ {
				resp, err := client.Get(srv.URL)
				require.NoError(t, err)
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				resp.Body.Close()
				assert.Equal(t, payload, body, "the full body is streamed to the caller")
				assert.Empty(t, resp.Header.Get(HeaderCache))
			}
			assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
			assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("too_large")))
			assert.Equal(t, float64(0), testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("store")))
		})
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*Entry, error) { return nil, errors.New("down") }
func (failingStore) Set(context.Context, string, *Entry) error   { return errors.New("down") }
func (failingStore) Close() error                                { return nil }

func TestTransport_StoreFailureDegrades(t *testing.T) {
	srv, hits := newCountingServer(t, http.StatusOK)
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	client := &http.Client{Transport: NewTransport(nil, failingStore{}, 0, metrics, zerolog.Nop())}

	status, body, _ := post(t, client, srv.URL, "x", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"echo":"x"`)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("error")))
}

func TestTransport_NopStore(t *testing.T) {
	srv, hits := newCountingServer(t, http.StatusOK)
	client := &http.Client{Transport: NewTransport(nil, Nop{}, 0, nil, zerolog.Nop())}
	post(t, client, srv.URL, "x", "")
	post(t, client, srv.URL, "x", "")
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestKey(t *testing.T) {
	mk := func(method, url, body string) *http.Request {
		var r io.Reader
		if body != "" {
			r = strings.NewReader(body)
		}
		req, err := http.NewRequest(method, url, r)
		require.NoError(t, err)
		return req
	}

	base, err := Key(mk(http.MethodPost, "https://api.example.org/a", "body"))
	require.NoError(t, err)
	assert.Len(t, base, 64)

	for name, req := range map[string]*http.Request{
		"method": mk(http.MethodPut, "https://api.example.org/a", "body"),
		"url":    mk(http.MethodPost, "https://api.example.org/b", "body"),
		"body":   mk(http.MethodPost, "https://api.example.org/a", "other"),
	} {
		t.Run(name, func(t *testing.T) {
			k, err := Key(req)
			require.NoError(t, err)
			assert.NotEqual(t, base, k)
		})
	}

	t.Run("body is restored", func(t *testing.T) {
		req := mk(http.MethodPost, "https://api.example.org/a", "body")
		_, err := Key(req)
		require.NoError(t, err)
		data, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.Equal(t, "body", string(data))

		again, err := req.GetBody()
		require.NoError(t, err)
		data, _ = io.ReadAll(again)
		assert.Equal(t, "body", string(data))
	})
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, "abcdef")
	assert.ErrorIs(t, err, ErrMiss)

	entry := &Entry{StatusCode: 200, Header: http.Header{"Content-Type": {"application/pdf"}}, Body: []byte("%PDF-1.4"), CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Set(ctx, "abcdef", entry))

	got, err := store.Get(ctx, "abcdef")
	require.NoError(t, err)
	assert.Equal(t, entry.Body, got.Body)
	assert.Equal(t, "application/pdf", got.Header.Get("Content-Type"))

	expired := &Entry{StatusCode: 200, Body: []byte("old"), ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, store.Set(ctx, "abcdef", expired))
	_, err = store.Get(ctx, "abcdef")
	assert.ErrorIs(t, err, ErrMiss)
	assert.NoError(t, store.Close())
}

func TestPostgresStore_Get(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		created := time.Now().UTC()
		expires := created.Add(time.Hour)
		mock.ExpectQuery(`SELECT status_code, header, body, created_at, expires_at`).
			WithArgs("k1").
			WillReturnRows(pgxmock.NewRows([]string{"status_code", "header", "body", "created_at", "expires_at"}).
				AddRow(200, []byte(`{"Content-Type":["application/json"]}`), []byte(`{"ok":true}`), created, &expires))

		got, err := NewPostgresStore(mock, nil).Get(context.Background(), "k1")
		require.NoError(t, err)
		assert.Equal(t, 200, got.StatusCode)
		assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
		assert.Equal(t, []byte(`{"ok":true}`), got.Body)
		assert.True(t, expires.Equal(got.ExpiresAt))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT status_code, header, body, created_at, expires_at`).
			WithArgs("k2").
			WillReturnError(pgx.ErrNoRows)

		_, err = NewPostgresStore(mock, nil).Get(context.Background(), "k2")
		assert.ErrorIs(t, err, ErrMiss)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT status_code`).WithArgs("k3").WillReturnError(errors.New("connection reset"))

		_, err = NewPostgresStore(mock, nil).Get(context.Background(), "k3")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrMiss)
	})
}

func TestPostgresStore_Set(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO response_cache`).
		WithArgs("k1", 200, pgxmock.AnyArg(), []byte("body"), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewPostgresStore(mock, nil).Set(context.Background(), "k1", &Entry{StatusCode: 200, Body: []byte("body"), CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM response_cache`).WillReturnResult(pgxmock.NewResult("DELETE", 3))

	closed := false
	store := NewPostgresStore(mock, func() { closed = true })
	n, err := store.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, store.Close())
	assert.True(t, closed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryResponse(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://example.org/paper.pdf", nil)
	e := &Entry{StatusCode: 200, Body: []byte("%PDF-")}
	resp := e.response(req)

	assert.Equal(t, "200 OK", resp.Status)
	assert.Same(t, req, resp.Request)
	assert.Equal(t, int64(5), resp.ContentLength)
	data, _ := io.ReadAll(resp.Body)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

package papersources

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/ask-llm/internal/domain"
	"github.com/helixir/ask-llm/internal/observability"
)

func fastClient(cfg HTTPClientConfig) *HTTPClient {
	cfg.RateLimit = 1000
	cfg.BurstSize = 100
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return NewHTTPClient(cfg)
}

func TestNewHTTPClient_Defaults(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{})

	require.NotNil(t, client)
	assert.Equal(t, 30*time.Second, client.client.Timeout)
	assert.Equal(t, DefaultUserAgent, client.config.UserAgent)
	assert.Equal(t, 3, client.config.MaxRetries)
	assert.Equal(t, time.Second, client.config.RetryDelay)
}

func TestHTTPClient_Do_Headers(t *testing.T) {
	var userAgent, apiKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		apiKey = r.Header.Get("x-api-key")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := fastClient(HTTPClientConfig{UserAgent: "TestAgent/2.0", APIKey: "secret", APIKeyHeader: "x-api-key"})

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "TestAgent/2.0", userAgent)
	assert.Equal(t, "secret", apiKey)
}

func TestHTTPClient_Do_UsesTransport(t *testing.T) {
	var calls atomic.Int32
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("cached")),
			Header:     make(http.Header),
			Request:    r,
		}, nil
	})

	client := fastClient(HTTPClientConfig{Transport: transport})
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://example.invalid/x", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, "cached", string(body))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_Do_Retries(t *testing.T) {
	t.Run("retries on 429 and succeeds", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requestCount.Add(1) < 3 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		metrics := observability.NewMetrics("test", prometheus.NewRegistry())
		client := fastClient(HTTPClientConfig{MaxRetries: 3, SourceName: "semantic_scholar", Metrics: metrics})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, int32(3), requestCount.Load())
		assert.Equal(t, float64(2), testutil.ToFloat64(metrics.SourceRateLimited.WithLabelValues("semantic_scholar")))
	})

	t.Run("exhausted 429 returns rate limit error", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestCount.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := fastClient(HTTPClientConfig{MaxRetries: 2, SourceName: "s2"})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.True(t, errors.Is(err, domain.ErrRateLimited))
		assert.Equal(t, int32(3), requestCount.Load())
	})

	t.Run("exhausted 5xx returns unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := fastClient(HTTPClientConfig{MaxRetries: 1})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		_, err = client.Do(req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrServiceUnavailable))
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("does not retry 4xx", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestCount.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := fastClient(HTTPClientConfig{MaxRetries: 3})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, int32(1), requestCount.Load())
	})

	t.Run("resends body on retry", func(t *testing.T) {
		var bodies []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			bodies = append(bodies, string(b))
			if len(bodies) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := fastClient(HTTPClientConfig{MaxRetries: 2})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader(`{"q":1}`))
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, []string{`{"q":1}`, `{"q":1}`}, bodies)
	})
}

func TestHTTPClient_Do_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientConfig{RateLimit: 1000, BurstSize: 10, MaxRetries: 5, RetryDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHTTPClient_getRetryDelay(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{RetryDelay: 100 * time.Millisecond})

	tests := []struct {
		name       string
		retryAfter string
		attempt    int
		expected   time.Duration
	}{
		{name: "no header first attempt", attempt: 0, expected: 100 * time.Millisecond},
		{name: "no header doubles", attempt: 2, expected: 400 * time.Millisecond},
		{name: "seconds", retryAfter: "5", expected: 5 * time.Second},
		{name: "zero seconds falls back", retryAfter: "0", attempt: 1, expected: 200 * time.Millisecond},
		{name: "garbage falls back", retryAfter: "soon", expected: 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: make(http.Header)}
			if tt.retryAfter != "" {
				resp.Header.Set("Retry-After", tt.retryAfter)
			}
			assert.Equal(t, tt.expected, client.getRetryDelay(resp, tt.attempt))
		})
	}

	assert.Equal(t, time.Minute, client.backoffDelay(30))
}

func TestHTTPClient_shouldRetry(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{})
	assert.True(t, client.shouldRetry(http.StatusTooManyRequests))
	assert.True(t, client.shouldRetry(http.StatusInternalServerError))
	assert.True(t, client.shouldRetry(http.StatusGatewayTimeout))
	assert.False(t, client.shouldRetry(http.StatusNotFound))
	assert.False(t, client.shouldRetry(http.StatusOK))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

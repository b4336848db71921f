// Package cache stores successful HTTP responses keyed by the exact request,
// so retried and resumed runs reuse earlier answers from every backend.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/ask-llm/internal/observability"
)

// ErrMiss is returned by stores when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// HeaderCache is set on responses served from the cache.
const HeaderCache = "X-Askllm-Cache"

// DefaultMaxBodySize is the largest response body the Transport stores.
const DefaultMaxBodySize int64 = 50 * 1024 * 1024

type refreshKey struct{}

// WithRefresh marks requests made with ctx to bypass the cache lookup. The
// fresh response still replaces the stored entry, so a response the caller
// rejected is not replayed later.
func WithRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, refreshKey{}, true)
}

func refreshRequested(ctx context.Context) bool {
	v, _ := ctx.Value(refreshKey{}).(bool)
	return v
}

// Entry is a stored response.
type Entry struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
	// ExpiresAt is zero for entries that never expire.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store persists entries.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Close() error
}

// Key derives the cache key of a request from its method, URL and body.
// Headers are not part of the key, so credentials never reach the store.
// The request body is restored for the actual round trip.
func Key(req *http.Request) (string, error) {
	h := sha256.New()
	io.WriteString(h, req.Method)
	h.Write([]byte{0})
	io.WriteString(h, req.URL.String())
	h.Write([]byte{0})

	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return "", fmt.Errorf("read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		h.Write(body)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Transport is an http.RoundTripper that serves repeated requests from a
// Store. Only 2xx responses up to MaxBodySize are stored. Larger bodies are
// streamed through uncached. Store failures degrade to an uncached round trip.
type Transport struct {
	Base    http.RoundTripper
	Store   Store
	TTL     time.Duration
	Metrics *observability.Metrics
	Logger  zerolog.Logger
	// MaxBodySize defaults to DefaultMaxBodySize.
	MaxBodySize int64
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, store Store, ttl time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		Base:        base,
		Store:       store,
		TTL:         ttl,
		Metrics:     metrics,
		Logger:      logger.With().Str("component", "cache").Logger(),
		MaxBodySize: DefaultMaxBodySize,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Store == nil {
		return t.Base.RoundTrip(req)
	}
	key, err := Key(req)
	if err != nil {
		return nil, err
	}
	ctx := req.Context()

	var entry *Entry
	if refreshRequested(ctx) {
		err = ErrMiss
		t.Metrics.RecordCache("refresh")
	} else {
		entry, err = t.Store.Get(ctx, key)
	}
	switch {
	case err == nil:
		t.Metrics.RecordCache("hit")
		t.Logger.Debug().Str("method", req.Method).Str("url", req.URL.Redacted()).Msg("response served from cache")
		return entry.response(req), nil
	case errors.Is(err, ErrMiss):
		if !refreshRequested(ctx) {
			t.Metrics.RecordCache("miss")
		}
	default:
		t.Metrics.RecordCache("error")
		t.Logger.Warn().Err(err).Msg("cache lookup failed")
	}

	resp, err := t.Base.RoundTrip(req)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, err
	}

	limit := t.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	if resp.ContentLength > limit {
		t.Metrics.RecordCache("too_large")
		return resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > limit {
		t.Metrics.RecordCache("too_large")
		t.Logger.Debug().Str("url", req.URL.Redacted()).Int64("limit", limit).Msg("response too large to cache")
		resp.Body = &prefixedBody{Reader: io.MultiReader(bytes.NewReader(body), resp.Body), closer: resp.Body}
		return resp, nil
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	now := time.Now().UTC()
	stored := &Entry{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		CreatedAt:  now,
	}
	if t.TTL > 0 {
		stored.ExpiresAt = now.Add(t.TTL)
	}
	if err := t.Store.Set(ctx, key, stored); err != nil {
		t.Metrics.RecordCache("error")
		t.Logger.Warn().Err(err).Msg("cache store failed")
	} else {
		t.Metrics.RecordCache("store")
	}
	return resp, nil
}

// prefixedBody replays the bytes already read before the rest of the stream.
type prefixedBody struct {
	io.Reader
	closer io.Closer
}

func (b *prefixedBody) Close() error {
	return b.closer.Close()
}

func (e *Entry) response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(HeaderCache, "hit")
	return &http.Response{
		Status:        strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// Nop is a store that never hits.
type Nop struct{}

func (Nop) Get(context.Context, string) (*Entry, error) { return nil, ErrMiss }
func (Nop) Set(context.Context, string, *Entry) error   { return nil }
func (Nop) Close() error                                { return nil }

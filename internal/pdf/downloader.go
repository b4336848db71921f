// Package pdf fetches, stores and reads the PDF documents handed to the model.
package pdf

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/helixir/ask-llm/internal/domain"
)

// Signature is the magic prefix of every PDF file.
var Signature = []byte("%PDF-")

// DefaultMaxSize caps a single download.
const DefaultMaxSize = 50 * 1024 * 1024

const defaultUserAgent = "Mozilla/5.0 (compatible; askllm/1.0)"

var (
	// ErrNotPDF is returned when the content does not start with the PDF signature.
	ErrNotPDF = fmt.Errorf("pdf: %w", domain.ErrNotPDF)
	// ErrTooLarge is returned when the file exceeds the maximum allowed size.
	ErrTooLarge = errors.New("pdf: file exceeds maximum size")
	// ErrDownloadFailed is returned when the download fails due to network or HTTP errors.
	ErrDownloadFailed = errors.New("pdf: download failed")
	// ErrSSRF is returned when the URL resolves to a private/internal network address.
	ErrSSRF = errors.New("pdf: request to private network denied")
)

// DownloadResult holds a fetched document.
type DownloadResult struct {
	// Content is the PDF bytes.
	Content []byte
	// ContentHash is the SHA-256 hex digest of the content.
	ContentHash string
	// ContentType is the Content-Type header from the response.
	ContentType string
	// FinalURL is the URL after redirects.
	FinalURL string
}

// Config holds downloader configuration.
type Config struct {
	// Timeout is the HTTP request timeout. Default: 60 seconds.
	Timeout time.Duration
	// MaxSize is the maximum file size in bytes. Default: 50MB.
	MaxSize   int64
	UserAgent string
	// AllowPrivateNetworks disables SSRF private-IP checks. Tests only.
	AllowPrivateNetworks bool
	// Transport is typically the response cache.
	Transport http.RoundTripper
}

// Downloader downloads PDFs from URLs.
type Downloader struct {
	client               *http.Client
	maxSize              int64
	userAgent            string
	allowPrivateNetworks bool
}

// NewDownloader creates a new Downloader with the given configuration.
func NewDownloader(cfg Config) *Downloader {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	d := &Downloader{
		maxSize:              cfg.MaxSize,
		userAgent:            cfg.UserAgent,
		allowPrivateNetworks: cfg.AllowPrivateNetworks,
	}
	d.client = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: cfg.Transport,
		// Open redirects must not reach internal addresses either.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("%w: too many redirects", ErrDownloadFailed)
			}
			return d.checkURL(req.URL.String())
		},
	}
	return d
}

func (d *Downloader) checkURL(rawURL string) error {
	if d.allowPrivateNetworks {
		return nil
	}
	return validateURLNotPrivate(rawURL)
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// validateURLNotPrivate resolves the hostname and rejects private IPs and
// non-HTTP schemes.
func validateURLNotPrivate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSSRF, err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q is not allowed", ErrSSRF, parsed.Scheme)
	}

	host := parsed.Hostname()
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("%w: DNS lookup failed for %s: %w", ErrDownloadFailed, host, err)
	}
	for _, ipStr := range ips {
		if ip := net.ParseIP(ipStr); ip != nil && isPrivateIP(ip) {
			return fmt.Errorf("%w: %s resolves to private address %s", ErrSSRF, host, ipStr)
		}
	}
	return nil
}

// Download fetches url and accepts the body only when it carries the PDF
// signature, whatever the Content-Type says.
func (d *Downloader) Download(ctx context.Context, rawURL string) (*DownloadResult, error) {
	if err := d.checkURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "application/pdf, */*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrDownloadFailed, resp.StatusCode)
	}
	if resp.ContentLength > d.maxSize {
		return nil, fmt.Errorf("%w: Content-Length %d exceeds %d bytes", ErrTooLarge, resp.ContentLength, d.maxSize)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrDownloadFailed, err)
	}
	if int64(len(content)) > d.maxSize {
		return nil, fmt.Errorf("%w: exceeded %d bytes", ErrTooLarge, d.maxSize)
	}
	if !HasSignature(content) {
		return nil, fmt.Errorf("%w: %s served %q", ErrNotPDF, rawURL, resp.Header.Get("Content-Type"))
	}

	hash := sha256.Sum256(content)
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &DownloadResult{
		Content:     content,
		ContentHash: hex.EncodeToString(hash[:]),
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    finalURL,
	}, nil
}

// DownloadTo downloads url into dir under a name derived from title and
// returns the file path. A file already present under that name is reused
// without a request.
func (d *Downloader) DownloadTo(ctx context.Context, rawURL, dir, title string) (string, error) {
	path := filepath.Join(dir, FileName(title, rawURL))
	if existing, err := os.ReadFile(path); err == nil && HasSignature(existing) {
		return path, nil
	}

	result, err := d.Download(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	tmp := path + ".part"
	if err := os.WriteFile(tmp, result.Content, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", tmp, err)
	}
	return path, nil
}

// HasSignature reports whether content starts with the PDF magic bytes.
func HasSignature(content []byte) bool {
	return bytes.HasPrefix(content, Signature)
}

var (
	unsafeChars = regexp.MustCompile(`[^\w\s-]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// FileName returns "ask_llm_{title}_{hash}.pdf" where title is reduced to
// word characters (at most 50) and hash identifies the URL.
func FileName(title, rawURL string) string {
	safe := unsafeChars.ReplaceAllString(title, "")
	if r := []rune(safe); len(r) > 50 {
		safe = string(r[:50])
	}
	safe = strings.Trim(whitespace.ReplaceAllString(safe, "_"), "_")
	if safe == "" {
		safe = "downloaded_paper"
	}
	sum := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("ask_llm_%s_%s.pdf", safe, hex.EncodeToString(sum[:4]))
}

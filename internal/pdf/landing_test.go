package pdf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const landingHTML = `<html><head>
<meta name="citation_title" content="Deep Learning">
<meta name="citation_pdf_url" content="/content/paper.pdf">
</head><body>
<a href="/about">About</a>
<a href="https://mirror.example.org/files/deep-learning.pdf?dl=1">Mirror</a>
<a href="/content/paper.pdf">Download</a>
<a href="/pdf/1234">PDF</a>
</body></html>`

func TestLandingPageExtractor_PDFLinks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(landingHTML))
	}))
	t.Cleanup(server.Close)

	e := NewLandingPageExtractor(Config{AllowPrivateNetworks: true}, zerolog.Nop())

	links, err := e.PDFLinks(context.Background(), server.URL+"/article/1")
	require.NoError(t, err)

	assert.Equal(t, []string{
		server.URL + "/content/paper.pdf",
		"https://mirror.example.org/files/deep-learning.pdf?dl=1",
		server.URL + "/pdf/1234",
	}, links)
}

func TestLandingPageExtractor_Errors(t *testing.T) {
	t.Run("http error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		t.Cleanup(server.Close)

		e := NewLandingPageExtractor(Config{AllowPrivateNetworks: true}, zerolog.Nop())
		_, err := e.PDFLinks(context.Background(), server.URL)
		assert.Error(t, err)
	})

	t.Run("private network", func(t *testing.T) {
		e := NewLandingPageExtractor(Config{}, zerolog.Nop())
		_, err := e.PDFLinks(context.Background(), "http://127.0.0.1:1/")
		assert.ErrorIs(t, err, ErrSSRF)
	})
}

func TestLooksLikePDFLink(t *testing.T) {
	assert.True(t, looksLikePDFLink("/x/Y.PDF"))
	assert.True(t, looksLikePDFLink("https://arxiv.org/pdf/1706.03762"))
	assert.False(t, looksLikePDFLink("/pdfs-explained.html"))
	assert.False(t, looksLikePDFLink(""))
}

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/ask-llm/internal/domain"
	"github.com/helixir/ask-llm/internal/observability"
	"github.com/helixir/ask-llm/internal/pdf"
	"github.com/helixir/ask-llm/internal/websearch"
)

// fakeDownloader serves the URLs in pdfs; everything else is HTML.
type fakeDownloader struct {
	pdfs      map[string]bool
	requested []string
}

func (f *fakeDownloader) DownloadTo(_ context.Context, url, dir, title string) (string, error) {
	f.requested = append(f.requested, url)
	if f.pdfs[url] {
		return filepath.Join(dir, pdf.FileName(title, url)), nil
	}
	return "", fmt.Errorf("%w: %s", pdf.ErrNotPDF, url)
}

type fakeLanding map[string][]string

func (f fakeLanding) PDFLinks(_ context.Context, page string) ([]string, error) {
	if links, ok := f[page]; ok {
		return links, nil
	}
	return nil, errors.New("no page")
}

type fakeSearch struct {
	candidates []websearch.Candidate
	err        error
	calls      int
}

func (f *fakeSearch) SearchPDFs(context.Context, string, string) ([]websearch.Candidate, error) {
	f.calls++
	return f.candidates, f.err
}

type fakeVerifier struct {
	accept map[string]bool
	err    error
}

func (f fakeVerifier) Verify(_ context.Context, path, _, _ string) (bool, error) {
	return f.accept[path], f.err
}

func bibUnit(id int, title string) *domain.DocumentUnit {
	return &domain.DocumentUnit{
		ID:        id,
		Source:    domain.SourceMetadataOnly,
		BibtexKey: fmt.Sprintf("key%d", id),
		Metadata:  &domain.BibMetadata{Title: title, Authors: "Doe, Jane"},
	}
}

func TestStrategy_Retrieve(t *testing.T) {
	dir := t.TempDir()

	t.Run("index PDF first", func(t *testing.T) {
		dl := &fakeDownloader{pdfs: map[string]bool{"https://index/p.pdf": true}}
		search := &fakeSearch{}
		s := NewStrategy(Config{Downloader: dl, Search: search, DownloadDir: dir}, zerolog.Nop())

		doc := bibUnit(1, "Paper")
		doc.IndexPDFURL = "https://index/p.pdf"
		require.NoError(t, s.Retrieve(context.Background(), doc))

		assert.Equal(t, domain.PDFSourceIndexDownload, doc.PDFSource)
		assert.Equal(t, domain.SourceLocalFile, doc.Source)
		assert.False(t, doc.IsMetadataOnly)
		assert.Equal(t, 0, search.calls)
	})

	t.Run("first candidate with signature wins", func(t *testing.T) {
		dl := &fakeDownloader{pdfs: map[string]bool{"https://b/x.pdf": true, "https://c/y.pdf": true}}
		search := &fakeSearch{candidates: []websearch.Candidate{
			{URL: "https://a/landing", Engine: "qwant"},
			{URL: "https://b/x.pdf", Engine: "qwant"},
			{URL: "https://c/y.pdf", Engine: "qwant"},
		}}
		s := NewStrategy(Config{Downloader: dl, Search: search, DownloadDir: dir}, zerolog.Nop())

		doc := bibUnit(2, "Paper")
		require.NoError(t, s.Retrieve(context.Background(), doc))

		assert.Equal(t, domain.PDFSourceSearchedDownload, doc.PDFSource)
		assert.Equal(t, filepath.Join(dir, pdf.FileName("Paper", "https://b/x.pdf")), doc.FilePath)
		assert.Equal(t, []string{"https://a/landing", "https://b/x.pdf"}, dl.requested)
	})

	t.Run("landing page links are followed", func(t *testing.T) {
		dl := &fakeDownloader{pdfs: map[string]bool{"https://a/files/paper.pdf": true}}
		search := &fakeSearch{candidates: []websearch.Candidate{{URL: "https://a/article", Engine: "grounding"}}}
		landing := fakeLanding{"https://a/article": {"https://a/bad.pdf", "https://a/files/paper.pdf"}}
		s := NewStrategy(Config{Downloader: dl, Landing: landing, Search: search, DownloadDir: dir}, zerolog.Nop())

		doc := bibUnit(3, "Paper")
		require.NoError(t, s.Retrieve(context.Background(), doc))

		assert.Equal(t, domain.PDFSourceSearchedDownload, doc.PDFSource)
		assert.Equal(t, []string{"https://a/article", "https://a/bad.pdf", "https://a/files/paper.pdf"}, dl.requested)
	})

	t.Run("exhaustion degrades to metadata only", func(t *testing.T) {
		metrics := observability.NewMetrics("test", prometheus.NewRegistry())
		dl := &fakeDownloader{}
		search := &fakeSearch{candidates: []websearch.Candidate{{URL: "https://a/landing", Engine: "qwant"}}}
		s := NewStrategy(Config{Downloader: dl, Search: search, DownloadDir: dir, Metrics: metrics}, zerolog.Nop())

		doc := bibUnit(4, "Unfindable")
		require.NoError(t, s.Retrieve(context.Background(), doc))

		assert.True(t, doc.IsMetadataOnly)
		assert.True(t, doc.RetrievalDone)
		assert.Equal(t, domain.PDFSourceMetadataOnly, doc.PDFSource)
		assert.Contains(t, doc.RetrievalNote, "no usable PDF among 1 candidates")
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RetrievalAttempts.WithLabelValues("all", "metadata_only")))
	})

	t.Run("search error degrades", func(t *testing.T) {
		s := NewStrategy(Config{Downloader: &fakeDownloader{}, Search: &fakeSearch{err: errors.New("down")}, DownloadDir: dir}, zerolog.Nop())

		doc := bibUnit(5, "Paper")
		require.NoError(t, s.Retrieve(context.Background(), doc))
		assert.True(t, doc.IsMetadataOnly)
		assert.Contains(t, doc.RetrievalNote, "search failed")
	})

	t.Run("no title means no search", func(t *testing.T) {
		search := &fakeSearch{}
		s := NewStrategy(Config{Downloader: &fakeDownloader{}, Search: search, DownloadDir: dir}, zerolog.Nop())

		doc := bibUnit(6, "")
		require.NoError(t, s.Retrieve(context.Background(), doc))
		assert.True(t, doc.IsMetadataOnly)
		assert.Equal(t, 0, search.calls)
	})

	t.Run("attempted once per run", func(t *testing.T) {
		search := &fakeSearch{}
		s := NewStrategy(Config{Downloader: &fakeDownloader{}, Search: search, DownloadDir: dir}, zerolog.Nop())

		doc := bibUnit(7, "Paper")
		require.NoError(t, s.Retrieve(context.Background(), doc))
		copyOfDoc := bibUnit(7, "Paper")
		require.NoError(t, s.Retrieve(context.Background(), copyOfDoc))

		assert.Equal(t, 1, search.calls)
		assert.False(t, copyOfDoc.RetrievalDone)
	})

	t.Run("units with a file are untouched", func(t *testing.T) {
		dl := &fakeDownloader{}
		s := NewStrategy(Config{Downloader: dl, DownloadDir: dir}, zerolog.Nop())

		doc := &domain.DocumentUnit{ID: 8, FilePath: "/papers/a.pdf", Source: domain.SourceLocalFile}
		require.NoError(t, s.Retrieve(context.Background(), doc))
		assert.Empty(t, dl.requested)
		assert.False(t, doc.RetrievalDone)
	})

	t.Run("cancellation is returned", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s := NewStrategy(Config{Downloader: &fakeDownloader{}, Search: &fakeSearch{err: context.Canceled}, DownloadDir: dir}, zerolog.Nop())

		doc := bibUnit(9, "Paper")
		assert.ErrorIs(t, s.Retrieve(ctx, doc), context.Canceled)
		assert.False(t, doc.IsMetadataOnly)
	})
}

func TestStrategy_Verification(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, pdf.FileName("Paper", "https://b/good.pdf"))

	t.Run("mismatch moves to next candidate", func(t *testing.T) {
		dl := &fakeDownloader{pdfs: map[string]bool{"https://a/wrong.pdf": true, "https://b/good.pdf": true}}
		search := &fakeSearch{candidates: []websearch.Candidate{{URL: "https://a/wrong.pdf"}, {URL: "https://b/good.pdf"}}}
		s := NewStrategy(Config{
			Downloader:  dl,
			Search:      search,
			Verifier:    fakeVerifier{accept: map[string]bool{good: true}},
			DownloadDir: dir,
		}, zerolog.Nop())

		doc := bibUnit(1, "Paper")
		require.NoError(t, s.Retrieve(context.Background(), doc))
		assert.Equal(t, good, doc.FilePath)
	})

	t.Run("verification error accepts download", func(t *testing.T) {
		dl := &fakeDownloader{pdfs: map[string]bool{"https://a/wrong.pdf": true}}
		search := &fakeSearch{candidates: []websearch.Candidate{{URL: "https://a/wrong.pdf"}}}
		s := NewStrategy(Config{
			Downloader:  dl,
			Search:      search,
			Verifier:    fakeVerifier{err: errors.New("quota")},
			DownloadDir: dir,
		}, zerolog.Nop())

		doc := bibUnit(2, "Paper")
		require.NoError(t, s.Retrieve(context.Background(), doc))
		assert.False(t, doc.IsMetadataOnly)
	})
}

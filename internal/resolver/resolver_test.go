package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/ask-llm/internal/domain"
	"github.com/helixir/ask-llm/internal/papersources"
)

const twoEntryBib = `@article{withfile,
  title = {Attention Is All You Need},
  author = {Vaswani, Ashish and Shazeer, Noam},
  year = {2017},
  doi = {10.48550/arXiv.1706.03762},
  file = {papers/attention.pdf}
}

@inproceedings{nofile,
  title = {An Unfindable Workshop Paper},
  author = {Nobody, Anne},
  year = {1999}
}
`

type fakeIndex struct {
	papers []*domain.Paper
	err    error
	params []papersources.SearchParams
}

func (f *fakeIndex) Search(_ context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &papersources.SearchResult{Papers: f.papers, Source: domain.SourceTypeSemanticScholar}, nil
}

func (f *fakeIndex) SourceType() domain.SourceType { return domain.SourceTypeSemanticScholar }
func (f *fakeIndex) Name() string                  { return "fake" }
func (f *fakeIndex) IsEnabled() bool               { return true }

type failingExtractor map[string]bool

func (f failingExtractor) ExtractFile(path string) (string, error) {
	if f[path] {
		return "", &domain.ExtractionError{Path: path, Err: errors.New("no text layer")}
	}
	return "text", nil
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolve_Bibliography(t *testing.T) {
	dir := t.TempDir()
	bib := writeFile(t, filepath.Join(dir, "refs.bib"), twoEntryBib)
	pdfPath := writeFile(t, filepath.Join(dir, "papers", "attention.pdf"), "%PDF-1.4")

	t.Run("local file and metadata only", func(t *testing.T) {
		r := New(Config{}, zerolog.Nop())

		res, err := r.Resolve(context.Background(), []string{bib}, nil)
		require.NoError(t, err)
		require.Len(t, res.Documents, 2)

		first, second := res.Documents[0], res.Documents[1]
		assert.Equal(t, 1, first.ID)
		assert.Equal(t, "withfile", first.BibtexKey)
		assert.Equal(t, pdfPath, first.FilePath)
		assert.False(t, first.IsMetadataOnly)
		assert.Equal(t, domain.PDFSourceLocalFile, first.PDFSource)

		assert.Equal(t, 2, second.ID)
		assert.True(t, second.IsMetadataOnly)
		assert.Equal(t, domain.PDFSourceMetadataOnly, second.PDFSource)
		assert.Equal(t, "An Unfindable Workshop Paper", second.Metadata.Title)
	})

	t.Run("missing file left for retrieval", func(t *testing.T) {
		r := New(Config{SearchMissing: true}, zerolog.Nop())

		res, err := r.Resolve(context.Background(), []string{bib}, nil)
		require.NoError(t, err)

		second := res.Documents[1]
		assert.False(t, second.IsMetadataOnly)
		assert.True(t, second.NeedsRetrieval())
	})

	t.Run("unreadable pdf falls back to metadata", func(t *testing.T) {
		r := New(Config{Extractor: failingExtractor{pdfPath: true}}, zerolog.Nop())

		res, err := r.Resolve(context.Background(), []string{bib}, nil)
		require.NoError(t, err)

		first := res.Documents[0]
		assert.Empty(t, first.FilePath)
		assert.True(t, first.IsMetadataOnly)
		assert.Contains(t, first.RetrievalNote, "unreadable file")
	})

	t.Run("duplicate entries across bibliographies", func(t *testing.T) {
		other := writeFile(t, filepath.Join(dir, "other.bib"), `@article{again,
  title = {Attention is all you need},
  year = {2017}
}`)
		r := New(Config{}, zerolog.Nop())

		res, err := r.Resolve(context.Background(), []string{bib, other}, nil)
		require.NoError(t, err)
		assert.Len(t, res.Documents, 2)
	})
}

func TestResolve_DirectInputs(t *testing.T) {
	dir := t.TempDir()
	pdfPath := writeFile(t, filepath.Join(dir, "paper.pdf"), "%PDF-1.4")
	broken := writeFile(t, filepath.Join(dir, "scan.pdf"), "%PDF-1.4")

	r := New(Config{Extractor: failingExtractor{broken: true}}, zerolog.Nop())
	res, err := r.Resolve(context.Background(), []string{
		pdfPath,
		"https://arxiv.org/abs/1706.03762",
		filepath.Join(dir, "missing.pdf"),
		filepath.Join(dir, "missing.bib"),
		pdfPath,
		broken,
	}, nil)
	require.NoError(t, err)

	require.Len(t, res.Documents, 3)
	assert.Equal(t, domain.SourceLocalFile, res.Documents[0].Source)
	assert.Equal(t, pdfPath, res.Documents[0].Identifier())

	assert.Equal(t, domain.SourceRemoteURL, res.Documents[1].Source)
	assert.Equal(t, domain.PDFSourceProvidedURL, res.Documents[1].PDFSource)

	assert.Equal(t, 3, res.Documents[2].ID)
	assert.True(t, res.Documents[2].IsMetadataOnly)
	assert.Equal(t, broken, res.Documents[2].FilePath)

	require.Len(t, res.Errors, 2)
	for _, e := range res.Errors {
		var resErr *domain.ResolutionError
		assert.ErrorAs(t, e, &resErr)
	}
}

func TestResolve_Discovery(t *testing.T) {
	dir := t.TempDir()
	bib := writeFile(t, filepath.Join(dir, "refs.bib"), twoEntryBib)
	sideFile := filepath.Join(dir, "out", "semantic_scholar.bib")

	index := &fakeIndex{papers: []*domain.Paper{
		{Title: "Attention Is All You Need", Year: 2017, Identifiers: domain.PaperIdentifiers{DOI: "https://doi.org/10.48550/ARXIV.1706.03762"}},
		{Title: "BERT", Year: 2019, PDFURL: "https://arxiv.org/pdf/1810.04805.pdf", Authors: []domain.Author{{Name: "Jacob Devlin"}}, CitationCount: 90000},
		{Title: "An unfindable workshop paper!", Year: 1999},
		{Title: "GPT-3", Year: 2020},
	}}
	queries := []domain.QueryDefinition{
		{ID: 1, Kind: domain.QueryKindDiscovery, Prompt: " transformers ", Discovery: &domain.DiscoveryParams{Limit: 10}},
		{ID: 2, Kind: domain.QueryKindPrompt, Prompt: "Summarize"},
	}

	r := New(Config{Index: index, SideFile: sideFile, SearchMissing: true}, zerolog.Nop())
	res, err := r.Resolve(context.Background(), []string{bib}, queries)
	require.NoError(t, err)

	require.Len(t, index.params, 1)
	assert.Equal(t, "transformers", index.params[0].Query)
	assert.Equal(t, 10, index.params[0].Discovery.Limit)

	require.Len(t, res.Documents, 4)
	assert.Equal(t, 2, res.Discovered)

	bert := res.Documents[2]
	assert.Equal(t, 3, bert.ID)
	assert.Equal(t, "semanticscholar1", bert.BibtexKey)
	assert.Equal(t, domain.OriginDiscovery, bert.Origin)
	assert.Equal(t, "https://arxiv.org/pdf/1810.04805.pdf", bert.IndexPDFURL)
	assert.Equal(t, "Jacob Devlin", bert.Metadata.Authors)
	assert.True(t, bert.NeedsRetrieval())

	assert.Equal(t, "semanticscholar2", res.Documents[3].BibtexKey)
	assert.Equal(t, "GPT-3", res.Documents[3].Metadata.Title)

	side, err := os.ReadFile(sideFile)
	require.NoError(t, err)
	assert.Contains(t, string(side), "@article{semanticscholar1,")
	assert.Contains(t, string(side), "note = {Citations: 90000}")
	assert.Contains(t, string(side), "@article{semanticscholar2,")
}

func TestResolve_DiscoveryFailureIsNotFatal(t *testing.T) {
	sideFile := filepath.Join(t.TempDir(), "semantic_scholar.bib")
	r := New(Config{Index: &fakeIndex{err: domain.ErrServiceUnavailable}, SideFile: sideFile}, zerolog.Nop())

	res, err := r.Resolve(context.Background(), nil, []domain.QueryDefinition{
		{ID: 1, Kind: domain.QueryKindDiscovery, Prompt: "q", Discovery: &domain.DiscoveryParams{}},
	})
	require.NoError(t, err)

	assert.Empty(t, res.Documents)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], domain.ErrServiceUnavailable)
	assert.NoFileExists(t, sideFile)
}

func TestResolve_NoIndex(t *testing.T) {
	r := New(Config{}, zerolog.Nop())
	res, err := r.Resolve(context.Background(), nil, []domain.QueryDefinition{
		{ID: 1, Kind: domain.QueryKindDiscovery, Prompt: "q", Discovery: &domain.DiscoveryParams{}},
	})
	require.NoError(t, err)
	assert.Len(t, res.Errors, 1)
}

func TestDedupKeys(t *testing.T) {
	keys := dedupKeys("Smith2020", &domain.BibMetadata{Title: "Deep Learning!", Year: "2020", DOI: "DOI:10.1/ABC"})
	assert.Equal(t, []string{"key:smith2020", "doi:10.1/abc", "title:deeplearning|2020"}, keys)
	assert.Empty(t, dedupKeys("", nil))
}

// Package retrieval finds a PDF for document units that have none.
//
// The index's direct PDF link is tried first when the unit came from a
// discovery query. Otherwise, or when that fails, the web search chain
// supplies candidates; each candidate is downloaded and accepted only when
// the content carries the PDF signature. HTML pages are scanned for PDF
// links. A unit whose candidates are exhausted becomes metadata-only.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/ask-llm/internal/domain"
	"github.com/helixir/ask-llm/internal/observability"
	"github.com/helixir/ask-llm/internal/pdf"
	"github.com/helixir/ask-llm/internal/websearch"
)

// maxLandingLinks bounds the PDF links tried from one HTML page.
const maxLandingLinks = 3

// Downloader stores a PDF found at a URL.
type Downloader interface {
	DownloadTo(ctx context.Context, url, dir, title string) (string, error)
}

// LinkExtractor lists PDF links found on an HTML page.
type LinkExtractor interface {
	PDFLinks(ctx context.Context, pageURL string) ([]string, error)
}

// Searcher returns candidate URLs for a paper.
type Searcher interface {
	SearchPDFs(ctx context.Context, title, authors string) ([]websearch.Candidate, error)
}

// Verifier confirms that a downloaded file is the expected paper.
type Verifier interface {
	Verify(ctx context.Context, path, title, authors string) (bool, error)
}

// Config wires the strategy's collaborators. Only Downloader is required.
type Config struct {
	Downloader  Downloader
	Landing     LinkExtractor
	Search      Searcher
	Verifier    Verifier
	DownloadDir string
	Metrics     *observability.Metrics
}

// Strategy implements the retrieval policy. It is safe for concurrent use;
// a unit is attempted at most once per Strategy.
type Strategy struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	attempted map[string]bool
}

// NewStrategy creates a retrieval strategy.
func NewStrategy(cfg Config, logger zerolog.Logger) *Strategy {
	return &Strategy{
		cfg:       cfg,
		logger:    logger.With().Str("component", "retrieval").Logger(),
		attempted: make(map[string]bool),
	}
}

// Retrieve attaches a downloaded PDF to doc or marks it metadata-only. The
// returned error is non-nil only when ctx is done; every other failure is the
// documented degraded path and is recorded in doc.RetrievalNote.
func (s *Strategy) Retrieve(ctx context.Context, doc *domain.DocumentUnit) error {
	if !doc.NeedsRetrieval() || !s.claim(doc) {
		return nil
	}

	log := observability.WithDocumentContext(s.logger, doc.ID, doc.BibtexKey)
	title, authors := "", ""
	if doc.Metadata != nil {
		title, authors = doc.Metadata.Title, doc.Metadata.Authors
	}

	if doc.IndexPDFURL != "" {
		path, err := s.tryURL(ctx, doc.IndexPDFURL, title, authors, "index")
		if err == nil {
			doc.AttachFile(path, domain.PDFSourceIndexDownload)
			log.Info().Str("path", path).Msg("downloaded index PDF")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug().Err(err).Str("url", doc.IndexPDFURL).Msg("index PDF unusable")
	}

	if s.cfg.Search == nil || strings.TrimSpace(title) == "" {
		s.degrade(doc, log, "no search possible")
		return nil
	}

	candidates, err := s.cfg.Search.SearchPDFs(ctx, title, authors)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.degrade(doc, log, fmt.Sprintf("search failed: %v", err))
		return nil
	}

	for _, c := range candidates {
		path, err := s.tryCandidate(ctx, c, title, authors)
		if err == nil {
			doc.AttachFile(path, domain.PDFSourceSearchedDownload)
			log.Info().Str("path", path).Str("url", c.URL).Str("engine", c.Engine).Msg("downloaded searched PDF")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug().Err(err).Str("url", c.URL).Msg("candidate rejected")
	}

	s.degrade(doc, log, fmt.Sprintf("no usable PDF among %d candidates", len(candidates)))
	return nil
}

func (s *Strategy) claim(doc *domain.DocumentUnit) bool {
	key := fmt.Sprintf("%d:%s", doc.ID, doc.Identifier())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempted[key] {
		return false
	}
	s.attempted[key] = true
	return true
}

func (s *Strategy) degrade(doc *domain.DocumentUnit, log zerolog.Logger, note string) {
	failure := &domain.RetrievalFailure{DocumentID: doc.ID, Reason: note}
	doc.MarkMetadataOnly(failure.Error())
	s.cfg.Metrics.RecordRetrievalAttempt("all", "metadata_only")
	log.Warn().Str("reason", note).Msg("no PDF found, using bibliographic metadata")
}

// tryCandidate downloads the URL directly and, when it serves HTML, follows
// the PDF links on the page.
func (s *Strategy) tryCandidate(ctx context.Context, c websearch.Candidate, title, authors string) (string, error) {
	path, err := s.tryURL(ctx, c.URL, title, authors, c.Engine)
	if err == nil || !errors.Is(err, pdf.ErrNotPDF) || s.cfg.Landing == nil {
		return path, err
	}

	links, linkErr := s.cfg.Landing.PDFLinks(ctx, c.URL)
	if linkErr != nil {
		return "", errors.Join(err, linkErr)
	}
	if len(links) > maxLandingLinks {
		links = links[:maxLandingLinks]
	}
	for _, link := range links {
		path, err = s.tryURL(ctx, link, title, authors, "landing_page")
		if err == nil || ctx.Err() != nil {
			return path, err
		}
	}
	return "", fmt.Errorf("%w: no PDF on landing page %s", pdf.ErrNotPDF, c.URL)
}

func (s *Strategy) tryURL(ctx context.Context, url, title, authors, source string) (string, error) {
	path, err := s.cfg.Downloader.DownloadTo(ctx, url, s.cfg.DownloadDir, title)
	if err != nil {
		s.cfg.Metrics.RecordRetrievalAttempt(source, "failed")
		return "", err
	}

	if s.cfg.Verifier != nil {
		ok, verr := s.cfg.Verifier.Verify(ctx, path, title, authors)
		switch {
		case verr != nil:
			// Unverifiable downloads are kept.
			s.logger.Warn().Err(verr).Str("path", path).Msg("PDF verification failed, accepting download")
		case !ok:
			s.cfg.Metrics.RecordRetrievalAttempt(source, "mismatch")
			_ = os.Remove(path)
			return "", fmt.Errorf("downloaded PDF from %s does not match %q", url, title)
		}
	}

	s.cfg.Metrics.RecordRetrievalAttempt(source, "found")
	return path, nil
}

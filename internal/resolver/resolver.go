// Package resolver turns command-line inputs and discovery queries into the
// ordered document units of a run.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nickng/bibtex"
	"github.com/rs/zerolog"

	"github.com/helixir/ask-llm/internal/bibliography"
	"github.com/helixir/ask-llm/internal/domain"
	"github.com/helixir/ask-llm/internal/observability"
	"github.com/helixir/ask-llm/internal/papersources"
)

// Extractor checks that a local PDF is readable.
type Extractor interface {
	ExtractFile(path string) (string, error)
}

// Config configures a Resolver.
type Config struct {
	// Index answers discovery queries. May be nil when no query discovers.
	Index papersources.PaperSource

	// Extractor validates local PDFs. May be nil.
	Extractor Extractor

	// SideFile receives BibTeX for newly discovered papers. Empty disables it.
	SideFile string

	// SearchMissing leaves units without a PDF pending for the retrieval
	// strategy. When false they become metadata-only right away.
	SearchMissing bool

	Metrics *observability.Metrics
}

// Result is the outcome of resolution.
type Result struct {
	// Documents are ordered: direct inputs first, then discovered papers in
	// discovery order.
	Documents []*domain.DocumentUnit

	// Discovered counts the units added by discovery queries.
	Discovered int

	// Errors holds the non-fatal failures: unreadable inputs and failed
	// discovery queries.
	Errors []error
}

// Resolver builds document units.
type Resolver struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a resolver.
func New(cfg Config, logger zerolog.Logger) *Resolver {
	return &Resolver{cfg: cfg, logger: logger.With().Str("component", "resolver").Logger()}
}

// Resolve resolves inputs (PDF paths, http(s) URLs, .bib files) in order and
// then runs every discovery query. A failing input or discovery query is
// skipped and reported in Result.Errors; only cancellation aborts.
func (r *Resolver) Resolve(ctx context.Context, inputs []string, queries []domain.QueryDefinition) (*Result, error) {
	res := &Result{}
	known := knownSet{}

	appendUnit := func(d *domain.DocumentUnit) {
		d.ID = len(res.Documents) + 1
		res.Documents = append(res.Documents, d)
	}

	for _, input := range inputs {
		units, err := r.resolveInput(input)
		if err != nil {
			r.logger.Error().Err(err).Str("input", input).Msg("skipping input")
			res.Errors = append(res.Errors, err)
			continue
		}
		for _, u := range units {
			keys := unitKeys(u)
			if len(keys) > 0 && known.contains(keys) {
				r.logger.Debug().Str("key", u.BibtexKey).Msg("duplicate bibliography entry skipped")
				continue
			}
			known.add(keys)
			appendUnit(u)
		}
	}

	var sideEntries []*bibtex.BibEntry
	for i := range queries {
		q := &queries[i]
		if !q.IsDiscovery() {
			continue
		}
		papers, err := r.discover(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Error().Err(err).Int("query_id", q.ID).Msg("discovery query failed")
			res.Errors = append(res.Errors, fmt.Errorf("discovery query %d: %w", q.ID, err))
			continue
		}

		added := 0
		for _, p := range papers {
			meta := bibliography.PaperMetadata(p)
			keys := dedupKeys("", meta)
			if known.contains(keys) {
				continue
			}
			key := bibliography.DiscoveryKey(len(sideEntries) + 1)
			known.add(append(keys, "key:"+key))
			sideEntries = append(sideEntries, bibliography.EntryFromPaper(key, p))

			unit := &domain.DocumentUnit{
				Source:      domain.SourceMetadataOnly,
				Origin:      domain.OriginDiscovery,
				BibtexKey:   key,
				Metadata:    meta,
				IndexPDFURL: p.PDFURL,
			}
			r.settleMissing(unit)
			appendUnit(unit)
			added++
		}
		res.Discovered += added
		r.cfg.Metrics.RecordDiscoveryPapers(string(r.cfg.Index.SourceType()), added)
		r.logger.Info().Int("query_id", q.ID).Int("found", len(papers)).Int("added", added).Msg("discovery query resolved")
	}

	if len(sideEntries) > 0 && r.cfg.SideFile != "" {
		if err := bibliography.WriteFile(r.cfg.SideFile, sideEntries); err != nil {
			res.Errors = append(res.Errors, err)
		} else {
			r.logger.Info().Str("path", r.cfg.SideFile).Int("entries", len(sideEntries)).Msg("wrote discovered papers")
		}
	}

	return res, nil
}

func (r *Resolver) discover(ctx context.Context, q *domain.QueryDefinition) ([]*domain.Paper, error) {
	if r.cfg.Index == nil {
		return nil, errors.New("no academic index configured")
	}
	result, err := r.cfg.Index.Search(ctx, papersources.SearchParams{
		Query:     strings.TrimSpace(q.Prompt),
		Discovery: q.Discovery,
	})
	if err != nil {
		return nil, err
	}
	return result.Papers, nil
}

func (r *Resolver) resolveInput(input string) ([]*domain.DocumentUnit, error) {
	switch {
	case isURL(input):
		return []*domain.DocumentUnit{{
			Source:    domain.SourceRemoteURL,
			Origin:    domain.OriginInput,
			URL:       input,
			PDFSource: domain.PDFSourceProvidedURL,
		}}, nil
	case strings.EqualFold(filepath.Ext(input), ".bib"):
		return r.resolveBibliography(input)
	default:
		return r.resolvePDF(input)
	}
}

func (r *Resolver) resolvePDF(path string) ([]*domain.DocumentUnit, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &domain.ResolutionError{Input: path, Err: err}
	}
	if info.IsDir() {
		return nil, &domain.ResolutionError{Input: path, Err: errors.New("is a directory")}
	}

	unit := &domain.DocumentUnit{
		Source:    domain.SourceLocalFile,
		Origin:    domain.OriginInput,
		FilePath:  path,
		PDFSource: domain.PDFSourceLocalFile,
	}
	if err := r.checkPDF(path); err != nil {
		unit.MarkMetadataOnly(err.Error())
	}
	return []*domain.DocumentUnit{unit}, nil
}

func (r *Resolver) resolveBibliography(path string) ([]*domain.DocumentUnit, error) {
	entries, err := bibliography.Load(path)
	if err != nil {
		return nil, err
	}

	units := make([]*domain.DocumentUnit, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		unit := &domain.DocumentUnit{
			Source:    domain.SourceMetadataOnly,
			Origin:    domain.OriginInput,
			BibtexKey: e.Key,
			Metadata:  e.Metadata(),
		}

		if pdfPath := e.PDFPath(); pdfPath != "" {
			resolved := findFile(path, pdfPath)
			switch {
			case resolved == "":
				unit.RetrievalNote = "file not found: " + pdfPath
			case r.checkPDF(resolved) != nil:
				unit.RetrievalNote = "unreadable file: " + resolved
			default:
				unit.Source = domain.SourceLocalFile
				unit.FilePath = resolved
				unit.PDFSource = domain.PDFSourceLocalFile
			}
		}
		if unit.FilePath == "" {
			r.settleMissing(unit)
		}
		units = append(units, unit)
	}
	return units, nil
}

// settleMissing marks a unit without a file metadata-only unless the
// retrieval strategy will look for one.
func (r *Resolver) settleMissing(unit *domain.DocumentUnit) {
	if !r.cfg.SearchMissing {
		note := unit.RetrievalNote
		if note == "" {
			note = "no file and PDF search disabled"
		}
		unit.MarkMetadataOnly(note)
	}
}

func (r *Resolver) checkPDF(path string) error {
	if r.cfg.Extractor == nil {
		return nil
	}
	if _, err := r.cfg.Extractor.ExtractFile(path); err != nil {
		var extErr *domain.ExtractionError
		if errors.As(err, &extErr) {
			r.logger.Warn().Err(err).Str("path", path).Msg("PDF unusable, falling back to metadata")
		}
		return err
	}
	return nil
}

// findFile looks for a bibliography file path as given and then relative to
// the bibliography's directory.
func findFile(bibPath, filePath string) string {
	candidates := []string{filePath}
	if !filepath.IsAbs(filePath) {
		candidates = append(candidates, bibliography.ResolvePath(bibPath, filePath))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

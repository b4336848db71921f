// Package bibliography loads BibTeX files into entries the resolver can turn
// into document units, and writes discovered papers back out as BibTeX.
package bibliography

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nickng/bibtex"

	"github.com/helixir/ask-llm/internal/domain"
)

// Entry is one bibliography record with normalized (lower-case) field names
// and LaTeX-cleaned values.
type Entry struct {
	Key    string
	Type   string
	Fields map[string]string
}

// Field returns a field value or "".
func (e *Entry) Field(name string) string {
	return e.Fields[strings.ToLower(name)]
}

// Metadata returns the bibliographic fields used for prompting and search.
func (e *Entry) Metadata() *domain.BibMetadata {
	return &domain.BibMetadata{
		Title:     e.Field("title"),
		Authors:   e.Field("author"),
		Year:      e.Field("year"),
		Journal:   e.Field("journal"),
		Booktitle: e.Field("booktitle"),
		Abstract:  e.Field("abstract"),
		DOI:       e.Field("doi"),
		URL:       e.Field("url"),
		Fields:    e.Fields,
	}
}

// PDFPath returns the PDF path recorded in the entry's file field, if any.
// Plain paths and the "description:path:type" lists written by reference
// managers are both understood; the first .pdf path wins.
func (e *Entry) PDFPath() string {
	raw := e.Field("file")
	if raw == "" {
		return ""
	}
	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		if strings.HasSuffix(strings.ToLower(item), ".pdf") && !strings.Contains(item, ":") {
			return item
		}
		for _, part := range strings.Split(item, ":") {
			if strings.HasSuffix(strings.ToLower(strings.TrimSpace(part)), ".pdf") {
				return strings.TrimSpace(part)
			}
		}
	}
	return ""
}

// ResolvePath resolves a file path from a bibliography relative to the
// bibliography's own directory.
func ResolvePath(bibPath, filePath string) string {
	if filePath == "" || filepath.IsAbs(filePath) {
		return filePath
	}
	return filepath.Join(filepath.Dir(bibPath), filePath)
}

// Load reads and parses a BibTeX file.
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.ResolutionError{Input: path, Err: err}
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return nil, &domain.ResolutionError{Input: path, Err: err}
	}
	return entries, nil
}

// Parse parses BibTeX from r, preserving entry order.
func Parse(r io.Reader) ([]Entry, error) {
	bib, err := bibtex.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse bibtex: %w", err)
	}

	entries := make([]Entry, 0, len(bib.Entries))
	for _, be := range bib.Entries {
		if be == nil || strings.TrimSpace(be.CiteName) == "" {
			continue
		}
		entry := Entry{
			Key:    strings.TrimSpace(be.CiteName),
			Type:   strings.ToLower(be.Type),
			Fields: make(map[string]string, len(be.Fields)),
		}
		for name, value := range be.Fields {
			if value == nil {
				continue
			}
			entry.Fields[strings.ToLower(name)] = CleanLaTeX(value.String())
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

var (
	latexCommandRe = regexp.MustCompile(`\\[a-zA-Z]+\{([^}]*)\}`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// CleanLaTeX strips simple LaTeX markup from a field value.
func CleanLaTeX(value string) string {
	value = latexCommandRe.ReplaceAllString(value, "$1")
	value = strings.NewReplacer(`\{`, "\x00", `\}`, "\x01").Replace(value)
	value = strings.NewReplacer("{", "", "}", "").Replace(value)
	value = strings.NewReplacer("\x00", "{", "\x01", "}", `\&`, "&", `\_`, "_", `\%`, "%").Replace(value)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(value, " "))
}

const maxSideFileField = 500

// DiscoveryKey returns the citation key of the n-th discovered paper (1-based).
func DiscoveryKey(n int) string {
	return "semanticscholar" + strconv.Itoa(n)
}

// EntryFromPaper builds the BibTeX entry written to the discovery side file.
func EntryFromPaper(key string, p *domain.Paper) *bibtex.BibEntry {
	entry := bibtex.NewBibEntry("article", key)
	add := func(name, value string) {
		if value = strings.TrimSpace(value); value != "" {
			entry.AddField(name, bibtex.NewBibConst(value))
		}
	}
	add("title", escapeBraces(truncate(p.Title, maxSideFileField)))
	add("author", p.AuthorList())
	if p.Year > 0 {
		add("year", strconv.Itoa(p.Year))
	}
	add("abstract", escapeBraces(truncate(p.Abstract, maxSideFileField)))
	add("journal", escapeBraces(p.Venue))
	add("doi", p.Identifiers.DOI)
	add("url", p.PDFURL)
	add("note", fmt.Sprintf("Citations: %d", p.CitationCount))
	add("keywords", "Semantic Scholar")
	return entry
}

// PaperMetadata returns the metadata of a discovered paper as it appears in
// the side file, so prompts see the same text as the written entry.
func PaperMetadata(p *domain.Paper) *domain.BibMetadata {
	m := &domain.BibMetadata{
		Title:    truncate(p.Title, maxSideFileField),
		Authors:  p.AuthorList(),
		Journal:  strings.TrimSpace(p.Venue),
		Abstract: truncate(p.Abstract, maxSideFileField),
		DOI:      p.Identifiers.DOI,
		URL:      p.PDFURL,
	}
	if p.Year > 0 {
		m.Year = strconv.Itoa(p.Year)
	}
	return m
}

// Render serializes entries as BibTeX text with fields in a stable order.
func Render(entries []*bibtex.BibEntry) string {
	var buf bytes.Buffer
	for i, e := range entries {
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "@%s{%s,\n", e.Type, e.CiteName)
		names := make([]string, 0, len(e.Fields))
		for name := range e.Fields {
			names = append(names, name)
		}
		sort.SliceStable(names, func(a, b int) bool { return fieldRank(names[a]) < fieldRank(names[b]) })
		fields := make([]string, len(names))
		for j, name := range names {
			fields[j] = fmt.Sprintf("  %s = {%s}", name, e.Fields[name].String())
		}
		buf.WriteString(strings.Join(fields, ",\n"))
		buf.WriteString("\n}\n")
	}
	return buf.String()
}

// WriteFile writes entries to path, replacing any previous content.
func WriteFile(path string, entries []*bibtex.BibEntry) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, []byte(Render(entries)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

var fieldOrder = []string{"title", "author", "year", "abstract", "journal", "doi", "url", "note", "keywords"}

func fieldRank(name string) string {
	for i, f := range fieldOrder {
		if f == name {
			return fmt.Sprintf("%02d", i)
		}
	}
	return "99" + name
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func escapeBraces(s string) string {
	return strings.NewReplacer("{", `\{`, "}", `\}`).Replace(s)
}

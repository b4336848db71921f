package domain

import (
	"strings"
)

// BibMetadata holds the bibliographic fields used for metadata-only prompts,
// web search and the report.
type BibMetadata struct {
	Title     string            `json:"title,omitempty"`
	Authors   string            `json:"author,omitempty"`
	Year      string            `json:"year,omitempty"`
	Journal   string            `json:"journal,omitempty"`
	Booktitle string            `json:"booktitle,omitempty"`
	Abstract  string            `json:"abstract,omitempty"`
	DOI       string            `json:"doi,omitempty"`
	URL       string            `json:"url,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// FirstAuthorSurname returns the surname of the first author in a BibTeX
// author list ("Last, First and Other, Name").
func (m *BibMetadata) FirstAuthorSurname() string {
	if m == nil || strings.TrimSpace(m.Authors) == "" {
		return ""
	}
	first, _, _ := strings.Cut(m.Authors, " and ")
	surname, _, _ := strings.Cut(first, ",")
	return strings.TrimSpace(surname)
}

// FormatForPrompt renders the metadata lines sent to the model in place of a
// PDF.
func (m *BibMetadata) FormatForPrompt() string {
	if m == nil {
		return ""
	}
	var lines []string
	add := func(label, value string) {
		if v := strings.TrimSpace(value); v != "" {
			lines = append(lines, label+": "+v)
		}
	}
	add("Title", m.Title)
	add("Authors", m.Authors)
	add("Year", m.Year)
	add("Journal", m.Journal)
	add("Book/Conference", m.Booktitle)
	add("Abstract", m.Abstract)
	return strings.Join(lines, "\n")
}

// DocumentUnit is one logical item analyzed by the batch. Its identity is
// fixed at resolution time; only the retrieval outcome is filled in later,
// exactly once.
type DocumentUnit struct {
	ID             int            `json:"id"`
	Source         SourceKind     `json:"source"`
	Origin         DocumentOrigin `json:"origin"`
	FilePath       string         `json:"file_path,omitempty"`
	URL            string         `json:"url,omitempty"`
	BibtexKey      string         `json:"bibtex_key,omitempty"`
	Metadata       *BibMetadata   `json:"bibtex_metadata,omitempty"`
	IsMetadataOnly bool           `json:"is_metadata_only"`
	PDFSource      PDFSource      `json:"pdf_source,omitempty"`

	// IndexPDFURL is the direct PDF link offered by the academic index the
	// document was discovered in.
	IndexPDFURL string `json:"index_pdf_url,omitempty"`

	// RetrievalDone is set once the retrieval strategy has run for the unit.
	RetrievalDone bool `json:"retrieval_done,omitempty"`

	// RetrievalNote records why retrieval degraded the unit, if it did.
	RetrievalNote string `json:"retrieval_note,omitempty"`
}

// Identifier returns the most specific human-readable identity of the unit:
// the bibliography key, then the file path, then the URL.
func (d *DocumentUnit) Identifier() string {
	switch {
	case d.BibtexKey != "":
		return d.BibtexKey
	case d.FilePath != "":
		return d.FilePath
	default:
		return d.URL
	}
}

// NeedsRetrieval returns true if the unit has no content source yet and the
// retrieval strategy has not run for it.
func (d *DocumentUnit) NeedsRetrieval() bool {
	return !d.RetrievalDone && d.FilePath == "" && d.URL == "" && !d.IsMetadataOnly
}

// MarkMetadataOnly degrades the unit to its bibliographic fields.
func (d *DocumentUnit) MarkMetadataOnly(note string) {
	d.Source = SourceMetadataOnly
	d.IsMetadataOnly = true
	d.PDFSource = PDFSourceMetadataOnly
	d.RetrievalDone = true
	d.RetrievalNote = note
}

// AttachFile records a retrieved or local PDF for the unit.
func (d *DocumentUnit) AttachFile(path string, source PDFSource) {
	d.Source = SourceLocalFile
	d.FilePath = path
	d.IsMetadataOnly = false
	d.PDFSource = source
	d.RetrievalDone = true
	d.RetrievalNote = ""
}

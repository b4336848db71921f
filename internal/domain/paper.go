package domain

import (
	"strings"
	"unicode"
)

// PaperIdentifiers holds the identifiers an index may report for a paper.
type PaperIdentifiers struct {
	DOI               string
	ArXivID           string
	PubMedID          string
	SemanticScholarID string
	OpenAlexID        string
}

// GenerateCanonicalID generates a canonical identifier from paper identifiers.
// Priority order: DOI > ArXiv > PubMed > SemanticScholar > OpenAlex.
// Returns empty string if no identifiers are available.
func GenerateCanonicalID(ids PaperIdentifiers) string {
	if doi := NormalizeDOI(ids.DOI); doi != "" {
		return "doi:" + doi
	}
	if arxiv := strings.TrimSpace(ids.ArXivID); arxiv != "" {
		return "arxiv:" + arxiv
	}
	if pubmed := strings.TrimSpace(ids.PubMedID); pubmed != "" {
		return "pubmed:" + pubmed
	}
	if s2 := strings.TrimSpace(ids.SemanticScholarID); s2 != "" {
		return "s2:" + s2
	}
	if openalex := strings.TrimSpace(ids.OpenAlexID); openalex != "" {
		return "openalex:" + openalex
	}
	return ""
}

// NormalizeDOI lowercases a DOI and strips resolver prefixes.
func NormalizeDOI(doi string) string {
	doi = strings.ToLower(strings.TrimSpace(doi))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		doi = strings.TrimPrefix(doi, prefix)
	}
	return strings.TrimSpace(doi)
}

// NormalizeTitle case-folds a title and keeps only letters and digits, so
// that punctuation and BibTeX braces do not defeat matching.
func NormalizeTitle(title string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Author represents a paper author.
type Author struct {
	Name string `json:"name"`
}

// Paper is a candidate bibliographic record returned by a discovery index.
type Paper struct {
	Source        SourceType
	SourceID      string
	Identifiers   PaperIdentifiers
	Title         string
	Abstract      string
	Authors       []Author
	Year          int
	Venue         string
	URL           string
	PDFURL        string
	CitationCount int
	OpenAccess    bool
}

// CanonicalID returns the paper's canonical identifier.
func (p *Paper) CanonicalID() string {
	return GenerateCanonicalID(p.Identifiers)
}

// AuthorList joins author names in BibTeX form.
func (p *Paper) AuthorList() string {
	names := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		if n := strings.TrimSpace(a.Name); n != "" {
			names = append(names, n)
		}
	}
	return strings.Join(names, " and ")
}

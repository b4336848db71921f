// Package websearch locates candidate PDF URLs for a paper on the open web.
//
// Engines are tried in a fixed order by Chain. Each engine first issues a
// strict query (quoted title) and falls back to a relaxed one when the strict
// query finds nothing.
package websearch

import (
	"context"
	"fmt"
	"strings"
)

// Engine searches the web for PDFs of one paper.
type Engine interface {
	// SearchPDFs returns candidate URLs for the paper, best first.
	SearchPDFs(ctx context.Context, title, authors string) ([]string, error)

	// Name identifies the engine in logs and metrics.
	Name() string
}

// excludedSites never serve the PDF without a login wall.
const excludedSites = "-researchgate.net -jstor.org"

// FirstAuthorSurname returns the text before the first comma of the first
// "and"-separated author.
func FirstAuthorSurname(authors string) string {
	first, _, _ := strings.Cut(authors, " and ")
	surname, _, _ := strings.Cut(first, ",")
	return strings.TrimSpace(surname)
}

// StrictQuery quotes the title so that engines match it as a phrase.
func StrictQuery(title, authors string) string {
	return strings.Join(strings.Fields(fmt.Sprintf("%q %s filetype:pdf %s",
		strings.TrimSpace(title), FirstAuthorSurname(authors), excludedSites)), " ")
}

// RelaxedQuery leaves the title unquoted.
func RelaxedQuery(title, authors string) string {
	return strings.Join(strings.Fields(fmt.Sprintf("%s %s filetype:pdf %s",
		strings.TrimSpace(title), FirstAuthorSurname(authors), excludedSites)), " ")
}

// PDFFirst reorders urls so that those whose path ends in .pdf come first,
// keeping the relative order otherwise and dropping duplicates.
func PDFFirst(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	var direct, other []string
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		if LooksLikePDF(u) {
			direct = append(direct, u)
		} else {
			other = append(other, u)
		}
	}
	return append(direct, other...)
}

// LooksLikePDF reports whether the URL path names a .pdf file.
func LooksLikePDF(rawURL string) bool {
	u := strings.ToLower(rawURL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(u, ".pdf")
}

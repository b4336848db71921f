package resolver

import (
	"path/filepath"
	"strings"

	"github.com/helixir/ask-llm/internal/domain"
)

// knownSet remembers the identity keys of resolved documents. Two records are
// the same document when they share a normalized DOI, a normalized title and
// year, or a citation key.
type knownSet map[string]bool

func dedupKeys(key string, m *domain.BibMetadata) []string {
	var keys []string
	if key = strings.TrimSpace(key); key != "" {
		keys = append(keys, "key:"+strings.ToLower(key))
	}
	if m == nil {
		return keys
	}
	if doi := domain.NormalizeDOI(m.DOI); doi != "" {
		keys = append(keys, "doi:"+doi)
	}
	if title := domain.NormalizeTitle(m.Title); title != "" {
		keys = append(keys, "title:"+title+"|"+strings.TrimSpace(m.Year))
	}
	return keys
}

// unitKeys adds the file path or URL of a direct input to its record keys.
func unitKeys(u *domain.DocumentUnit) []string {
	keys := dedupKeys(u.BibtexKey, u.Metadata)
	switch {
	case u.FilePath != "" && u.BibtexKey == "":
		if abs, err := filepath.Abs(u.FilePath); err == nil {
			keys = append(keys, "path:"+abs)
		}
	case u.URL != "":
		keys = append(keys, "url:"+u.URL)
	}
	return keys
}

func (k knownSet) contains(keys []string) bool {
	for _, key := range keys {
		if k[key] {
			return true
		}
	}
	return false
}

func (k knownSet) add(keys []string) {
	for _, key := range keys {
		k[key] = true
	}
}

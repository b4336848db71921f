package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/helixir/ask-llm/internal/schema"
)

var baseColumns = []string{"Document ID", "BibTeX Key", "File Path", "Metadata Only"}

// column is one query-derived CSV column. An empty field means the whole
// free-text response.
type column struct {
	queryID int
	field   string
}

// WriteCSV writes the flattened form of rep: one row per kept document and
// one column per schema property of structured queries, or per free-text
// query.
func WriteCSV(w io.Writer, rep *Report) error {
	header := append([]string(nil), baseColumns...)
	var cols []column
	for _, q := range rep.Metadata.Queries {
		if isDiscovery(q) {
			continue
		}
		fields := schema.Properties(q.Structure)
		if len(fields) == 0 {
			fields = observedFields(rep, q.ID)
		}
		if len(fields) == 0 {
			header = append(header, fmt.Sprintf("Query %d: %s", q.ID, promptLabel(q.Text)))
			cols = append(cols, column{queryID: q.ID})
			continue
		}
		for _, f := range fields {
			header = append(header, fmt.Sprintf("Query %d - %s", q.ID, f))
			cols = append(cols, column{queryID: q.ID, field: f})
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, d := range rep.Documents {
		answers := make(map[int]Answer, len(d.Queries))
		for _, a := range d.Queries {
			answers[a.QueryID] = a
		}
		metadataOnly := "No"
		if d.IsMetadataOnly {
			metadataOnly = "Yes"
		}
		row := []string{strconv.Itoa(d.ID), d.BibtexKey, d.FilePath, metadataOnly}
		for _, c := range cols {
			a, ok := answers[c.queryID]
			row = append(row, cell(a, ok, c.field))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func isDiscovery(q QuerySummary) bool {
	v, ok := q.Parameters["semantic_scholar"].(bool)
	return ok && v
}

// observedFields returns the keys of the first structured response to a
// query without a declared schema, sorted since decoded objects are
// unordered.
func observedFields(rep *Report, queryID int) []string {
	for _, d := range rep.Documents {
		for _, a := range d.Queries {
			if a.QueryID != queryID {
				continue
			}
			if obj, ok := a.Response.(map[string]interface{}); ok {
				return sortedKeys(obj)
			}
		}
	}
	return nil
}

func promptLabel(text string) string {
	text = flatten(text)
	runes := []rune(text)
	if len(runes) > 50 {
		return string(runes[:50]) + "..."
	}
	return text
}

func cell(a Answer, ok bool, field string) string {
	if !ok {
		return ""
	}
	if a.Error != nil {
		return fmt.Sprintf("ERROR: %s: %s", a.Error.Kind, a.Error.Message)
	}
	if field == "" {
		return formatValue(a.Response)
	}
	obj, isObj := a.Response.(map[string]interface{})
	if !isObj {
		return ""
	}
	return formatValue(obj[field])
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return flatten(val)
	case map[string]interface{}, []interface{}:
		return compactJSON(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return flatten(fmt.Sprint(val))
	}
}

func compactJSON(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flatten(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}

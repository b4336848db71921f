// Package queryspec parses the query file into ordered query definitions.
//
// A query file is a sequence of sections separated by lines made of three
// or more '=' characters. Each section starts with optional "key: value"
// parameter lines, may contain one ```json fenced block holding the
// structured-output schema, and the remaining text is the prompt.
//
// Parameters model-name, temperature and google-search are inherited by later
// sections until overridden. filter-on, semantic-scholar and the ss-*
// discovery parameters apply only to the section that declares them.
package queryspec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/helixir/ask-llm/internal/domain"
)

// errNoPrompt marks a section without prompt text. Such a section is
// dropped together with its parameters.
var errNoPrompt = errors.New("section has no prompt text")

var (
	separatorRe = regexp.MustCompile(`^\s*={3,}\s*$`)
	paramRe     = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*)\s*:\s*(.*)$`)
	fenceOpenRe = regexp.MustCompile("^\\s*```\\s*json\\s*$")
	fenceRe     = regexp.MustCompile("^\\s*```\\s*$")
)

// Inherited is the parameter state carried from one section to the next.
type Inherited struct {
	Model        string
	Temperature  *float64
	UseWebSearch bool
}

// DefaultInherited returns the global defaults seen by the first section.
func DefaultInherited() Inherited {
	return Inherited{Model: domain.DefaultModel}
}

// line is a source line with its 1-based position in the file.
type line struct {
	num  int
	text string
}

// section is the raw content between two separators.
type section struct {
	lines []line
}

func (s section) empty() bool {
	for _, l := range s.lines {
		if strings.TrimSpace(l.text) != "" {
			return false
		}
	}
	return true
}

// ParseFile reads and parses a query file.
func ParseFile(path string) ([]domain.QueryDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ParseError{Reason: "read query file " + path, Err: err}
	}
	return Parse(string(data))
}

// Parse parses query-file text using the global defaults.
func Parse(text string) ([]domain.QueryDefinition, error) {
	return ParseWithDefaults(text, DefaultInherited())
}

// ParseWithDefaults parses query-file text, seeding inheritance with
// defaults. Sections without prompt text are skipped and leave the inherited
// parameters unchanged; a file without any prompt section is an error.
func ParseWithDefaults(text string, defaults Inherited) ([]domain.QueryDefinition, error) {
	sections := split(text)

	var defs []domain.QueryDefinition
	carry := defaults
	for _, sec := range sections {
		if sec.empty() {
			continue
		}
		def, next, err := parseSection(len(defs)+1, sec, carry)
		if errors.Is(err, errNoPrompt) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := def.Validate(); err != nil {
			return nil, &domain.ParseError{Section: def.ID, Reason: "invalid parameters", Err: err}
		}
		defs = append(defs, def)
		carry = next
	}

	if len(defs) == 0 {
		return nil, &domain.ParseError{Reason: "no query sections found"}
	}
	return defs, nil
}

func split(text string) []section {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var (
		sections []section
		current  section
	)
	for i, raw := range strings.Split(text, "\n") {
		if separatorRe.MatchString(raw) {
			sections = append(sections, current)
			current = section{}
			continue
		}
		current.lines = append(current.lines, line{num: i + 1, text: raw})
	}
	return append(sections, current)
}

// parseSection is a pure function of the section text and the inherited
// parameters. It returns the definition and the parameters inherited by the
// next section.
func parseSection(id int, sec section, in Inherited) (domain.QueryDefinition, Inherited, error) {
	body, schema, err := extractSchema(id, sec.lines)
	if err != nil {
		return domain.QueryDefinition{}, in, err
	}

	params, promptLines := leadingParams(body)

	def := domain.QueryDefinition{
		ID:           id,
		Kind:         domain.QueryKindPrompt,
		Model:        in.Model,
		Temperature:  in.Temperature,
		UseWebSearch: in.UseWebSearch,
		Schema:       schema,
	}
	out := in

	var (
		discovery     domain.DiscoveryParams
		hasSSParams   bool
		discoveryFlag *bool
	)

	for _, p := range params {
		switch {
		case p.key == "model_name":
			if p.value == "" {
				return def, in, parseErr(id, p.num, "model-name must not be empty", nil)
			}
			def.Model = p.value
			out.Model = p.value
		case p.key == "temperature":
			v, err := strconv.ParseFloat(p.value, 64)
			if err != nil {
				return def, in, parseErr(id, p.num, fmt.Sprintf("invalid temperature %q", p.value), err)
			}
			def.Temperature = &v
			out.Temperature = &v
		case p.key == "google_search":
			v, err := parseBool(p.value)
			if err != nil {
				return def, in, parseErr(id, p.num, "invalid google-search value", err)
			}
			def.UseWebSearch = v
			out.UseWebSearch = v
		case p.key == "filter_on":
			if p.value == "" {
				return def, in, parseErr(id, p.num, "filter-on must name a field", nil)
			}
			def.FilterField = p.value
		case p.key == "semantic_scholar":
			v, err := parseBool(p.value)
			if err != nil {
				return def, in, parseErr(id, p.num, "invalid semantic-scholar value", err)
			}
			discoveryFlag = &v
		case strings.HasPrefix(p.key, "ss_"):
			hasSSParams = true
			if err := setDiscoveryParam(&discovery, p.key, p.value); err != nil {
				return def, in, parseErr(id, p.num, fmt.Sprintf("invalid %s value", p.key), err)
			}
		}
	}

	isDiscovery := hasSSParams
	if discoveryFlag != nil {
		isDiscovery = *discoveryFlag
	}
	if isDiscovery {
		def.Kind = domain.QueryKindDiscovery
		def.Discovery = &discovery
	}

	def.Prompt = strings.TrimSpace(joinLines(promptLines))
	if def.Prompt == "" {
		return def, in, errNoPrompt
	}

	return def, out, nil
}

// extractSchema removes the first ```json fenced block from lines and
// returns it as compact JSON.
func extractSchema(id int, lines []line) ([]line, json.RawMessage, error) {
	start := -1
	for i, l := range lines {
		if fenceOpenRe.MatchString(l.text) {
			start = i
			break
		}
	}
	if start < 0 {
		return lines, nil, nil
	}

	end := -1
	for i := start + 1; i < len(lines); i++ {
		if fenceRe.MatchString(lines[i].text) {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, nil, parseErr(id, lines[start].num, "unterminated json block", nil)
	}

	raw := joinLines(lines[start+1 : end])
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, nil, parseErr(id, lines[start].num, "schema block is not a valid JSON object", err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, nil, parseErr(id, lines[start].num, "schema block is not valid JSON", err)
	}

	rest := make([]line, 0, len(lines)-(end-start+1))
	rest = append(rest, lines[:start]...)
	rest = append(rest, lines[end+1:]...)
	return rest, json.RawMessage(buf.Bytes()), nil
}

type param struct {
	num   int
	key   string
	value string
}

// leadingParams consumes recognized "key: value" lines at the top of a
// section. The first line that is not a recognized parameter starts the
// prompt.
func leadingParams(lines []line) ([]param, []line) {
	var params []param
	for i, l := range lines {
		trimmed := strings.TrimSpace(l.text)
		if trimmed == "" {
			continue
		}
		m := paramRe.FindStringSubmatch(trimmed)
		if m == nil {
			return params, lines[i:]
		}
		key := normalizeKey(m[1])
		if !isKnownKey(key) {
			return params, lines[i:]
		}
		params = append(params, param{num: l.num, key: key, value: strings.TrimSpace(m[2])})
	}
	return params, nil
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
}

func isKnownKey(key string) bool {
	switch key {
	case "model_name", "temperature", "google_search", "filter_on", "semantic_scholar":
		return true
	}
	return strings.HasPrefix(key, "ss_") && len(key) > len("ss_")
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "1", "on":
		return true, nil
	case "false", "no", "0", "off":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", value)
}

func setDiscoveryParam(d *domain.DiscoveryParams, key, value string) error {
	switch key {
	case "ss_limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("limit must not be negative")
		}
		d.Limit = n
	case "ss_min_citation_count":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		d.MinCitationCount = &n
	case "ss_open_access_pdf":
		v, err := parseBool(value)
		if err != nil {
			return err
		}
		d.OpenAccessPDF = v
	case "ss_relevance":
		v, err := parseBool(value)
		if err != nil {
			return err
		}
		d.Relevance = v
	case "ss_fields_of_study":
		d.FieldsOfStudy = value
	case "ss_sort":
		d.Sort = value
	case "ss_publication_types":
		d.PublicationTypes = value
	case "ss_publication_date_or_year":
		d.PublicationDateOrYear = value
	case "ss_year":
		d.Year = value
	case "ss_venue":
		d.Venue = value
	default:
		if d.Extra == nil {
			d.Extra = make(map[string]string)
		}
		d.Extra[camelCase(strings.TrimPrefix(key, "ss_"))] = value
	}
	return nil
}

// camelCase converts snake_case to the lowerCamelCase used by index APIs.
func camelCase(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

func joinLines(lines []line) string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = strings.TrimRight(l.text, " \t")
	}
	return strings.Join(texts, "\n")
}

func parseErr(section, lineNum int, reason string, err error) *domain.ParseError {
	return &domain.ParseError{Section: section, Line: lineNum, Reason: reason, Err: err}
}

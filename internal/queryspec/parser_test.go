package queryspec

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/helixir/ask-llm/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_SectionCountAndOrder(t *testing.T) {
	text := strings.Join([]string{
		"What is the main contribution?",
		"===",
		"List the datasets used.",
		"=====",
		"",
		"Summarize the limitations.",
	}, "\n")

	defs, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, defs, 3)

	for i, def := range defs {
		assert.Equal(t, i+1, def.ID)
		assert.Equal(t, domain.QueryKindPrompt, def.Kind)
		assert.Equal(t, domain.DefaultModel, def.Model)
	}
	assert.Equal(t, "What is the main contribution?", defs[0].Prompt)
	assert.Equal(t, "List the datasets used.", defs[1].Prompt)
	assert.Equal(t, "Summarize the limitations.", defs[2].Prompt)
}

func TestParse_Inheritance(t *testing.T) {
	text := strings.Join([]string{
		"model-name: X",
		"temperature: 0.3",
		"Google-Search: yes",
		"First prompt",
		"===",
		"Second prompt",
		"===",
		"MODEL_NAME: Y",
		"google-search: off",
		"Third prompt",
		"===",
		"Fourth prompt",
	}, "\n")

	defs, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, defs, 4)

	assert.Equal(t, "X", defs[0].Model)
	assert.Equal(t, "X", defs[1].Model, "unset model inherits from nearest prior setter")
	require.NotNil(t, defs[1].Temperature)
	assert.Equal(t, 0.3, *defs[1].Temperature)
	assert.True(t, defs[1].UseWebSearch)

	assert.Equal(t, "Y", defs[2].Model)
	assert.False(t, defs[2].UseWebSearch)
	require.NotNil(t, defs[2].Temperature)
	assert.Equal(t, 0.3, *defs[2].Temperature)

	assert.Equal(t, "Y", defs[3].Model)
	assert.False(t, defs[3].UseWebSearch)
}

func TestParse_FirstSectionTakesDefaults(t *testing.T) {
	defs, err := Parse("Only prompt")
	require.NoError(t, err)
	require.Len(t, defs, 1)

	assert.Equal(t, domain.DefaultModel, defs[0].Model)
	assert.Nil(t, defs[0].Temperature)
	assert.False(t, defs[0].UseWebSearch)
}

func TestParseWithDefaults(t *testing.T) {
	defs, err := ParseWithDefaults("p1\n===\np2", Inherited{Model: "custom", UseWebSearch: true})
	require.NoError(t, err)
	for _, d := range defs {
		assert.Equal(t, "custom", d.Model)
		assert.True(t, d.UseWebSearch)
	}
}

func TestParse_OneShotFilterDoesNotLeak(t *testing.T) {
	text := strings.Join([]string{
		"filter-on: relevance",
		"Is this paper relevant?",
		"```json",
		`{"type": "object", "properties": {"relevance": {"type": "boolean"}}, "required": ["relevance"]}`,
		"```",
		"===",
		"Summarize the paper.",
	}, "\n")

	defs, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "relevance", defs[0].FilterField)
	assert.Empty(t, defs[1].FilterField)
	assert.False(t, defs[1].HasSchema())
}

func TestParse_SchemaBlock(t *testing.T) {
	text := strings.Join([]string{
		"Extract the sample size.",
		"",
		"```json",
		"{",
		`  "type": "object",`,
		`  "properties": {"n": {"type": "integer", "minimum": 0}}`,
		"}",
		"```",
		"",
		"Answer carefully.",
	}, "\n")

	defs, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, defs, 1)

	assert.JSONEq(t, `{"type":"object","properties":{"n":{"type":"integer","minimum":0}}}`, string(defs[0].Schema))
	assert.Equal(t, "Extract the sample size.\n\n\nAnswer carefully.", defs[0].Prompt)
	assert.NotContains(t, defs[0].Prompt, "```")
}

func TestParse_UnknownKeyIsPromptText(t *testing.T) {
	text := "model-name: gemini-2.5-pro\nNote: answer in English.\nWhat is studied?"

	defs, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", defs[0].Model)
	assert.Equal(t, "Note: answer in English.\nWhat is studied?", defs[0].Prompt)
}

func TestParse_ParametersOnlyAtTop(t *testing.T) {
	defs, err := Parse("Describe the method.\ntemperature: 0.9")
	require.NoError(t, err)
	assert.Nil(t, defs[0].Temperature)
	assert.Equal(t, "Describe the method.\ntemperature: 0.9", defs[0].Prompt)
}

func TestParse_DiscoverySection(t *testing.T) {
	text := strings.Join([]string{
		"semantic-scholar: true",
		"ss-limit: 25",
		"ss-fields-of-study: Computer Science",
		"ss-sort: publicationDate:desc",
		"ss-min-citation-count: 10",
		"ss-open-access-pdf: yes",
		"ss-relevance: false",
		"ss-publication-venue-id: abc",
		"large language models for peer review",
		"===",
		"Summarize the paper.",
	}, "\n")

	defs, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	d := defs[0]
	assert.True(t, d.IsDiscovery())
	require.NotNil(t, d.Discovery)
	assert.Equal(t, 25, d.Discovery.Limit)
	assert.Equal(t, "Computer Science", d.Discovery.FieldsOfStudy)
	assert.Equal(t, "publicationDate:desc", d.Discovery.Sort)
	require.NotNil(t, d.Discovery.MinCitationCount)
	assert.Equal(t, 10, *d.Discovery.MinCitationCount)
	assert.True(t, d.Discovery.OpenAccessPDF)
	assert.False(t, d.Discovery.Relevance)
	assert.Equal(t, map[string]string{"publicationVenueId": "abc"}, d.Discovery.Extra)
	assert.Equal(t, "large language models for peer review", d.Prompt)

	assert.False(t, defs[1].IsDiscovery(), "discovery flag is one-shot")
	assert.Nil(t, defs[1].Discovery)
}

func TestParse_DiscoveryImpliedByParams(t *testing.T) {
	defs, err := Parse("ss-limit: 5\ntransformers")
	require.NoError(t, err)
	assert.True(t, defs[0].IsDiscovery())

	defs, err = Parse("semantic-scholar: no\nss-limit: 5\ntransformers")
	require.NoError(t, err)
	assert.False(t, defs[0].IsDiscovery())
}

func TestParse_EmptySectionsSkipped(t *testing.T) {
	defs, err := Parse("===\n\n===\nOnly one\n===\n   \n")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, 1, defs[0].ID)
}

func TestParse_SectionsWithoutPromptSkipped(t *testing.T) {
	text := "model-name: first-model\nFirst\n" +
		"===\nmodel-name: dropped-model\ntemperature: 0.9\n" +
		"===\n```json\n{\"type\": \"object\"}\n```\n" +
		"===\nSecond"
	defs, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, 2, defs[1].ID)
	assert.Equal(t, "Second", defs[1].Prompt)
	assert.Equal(t, "first-model", defs[1].Model, "parameters of a skipped section are not inherited")
	assert.Equal(t, defs[0].Temperature, defs[1].Temperature)
	assert.Nil(t, defs[1].Schema)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		reason string
	}{
		{name: "empty file", text: "", reason: "no query sections found"},
		{name: "only separators", text: "===\n====\n", reason: "no query sections found"},
		{name: "bad temperature", text: "temperature: warm\nPrompt", reason: "invalid temperature"},
		{name: "bad boolean", text: "google-search: maybe\nPrompt", reason: "invalid google-search value"},
		{name: "bad limit", text: "semantic-scholar: true\nss-limit: many\nquery", reason: "invalid ss_limit value"},
		{name: "invalid schema", text: "Prompt\n```json\n{not json}\n```", reason: "not a valid JSON object"},
		{name: "schema not an object", text: "Prompt\n```json\n[1, 2]\n```", reason: "not a valid JSON object"},
		{name: "unterminated schema", text: "Prompt\n```json\n{}", reason: "unterminated json block"},
		{name: "only parameter sections", text: "model-name: X\n===\ntemperature: 0.2\n", reason: "no query sections found"},
		{name: "temperature out of range", text: "temperature: 5\nPrompt", reason: "invalid parameters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			require.Error(t, err)

			var parseErr *domain.ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Contains(t, err.Error(), tt.reason)
			assert.True(t, domain.IsFatal(err))
		})
	}
}

func TestParse_ErrorCarriesLine(t *testing.T) {
	_, err := Parse("First\n===\nmodel-name: X\ntemperature: hot\nSecond")
	var parseErr *domain.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, 2, parseErr.Section)
	assert.Equal(t, 4, parseErr.Line)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.md")
	require.NoError(t, os.WriteFile(path, []byte("model-name: m\r\nPrompt one\r\n===\r\nPrompt two\r\n"), 0o600))

	defs, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "m", defs[1].Model)
	assert.Equal(t, "Prompt two", defs[1].Prompt)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.md"))
	assert.True(t, domain.IsFatal(err))
}

func TestCamelCase(t *testing.T) {
	assert.Equal(t, "publicationDateOrYear", camelCase("publication_date_or_year"))
	assert.Equal(t, "venue", camelCase("venue"))
}

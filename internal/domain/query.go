package domain

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// DefaultModel is the model used when no query section names one.
const DefaultModel = "gemini-2.5-flash"

// QueryKind discriminates prompt sections from discovery sections.
type QueryKind string

const (
	QueryKindPrompt    QueryKind = "prompt"
	QueryKindDiscovery QueryKind = "discovery"
)

// DiscoveryParams configures one discovery query against an academic index.
type DiscoveryParams struct {
	Limit                 int    `json:"limit,omitempty" validate:"min=0,max=10000"`
	FieldsOfStudy         string `json:"fields_of_study,omitempty"`
	Sort                  string `json:"sort,omitempty"`
	PublicationTypes      string `json:"publication_types,omitempty"`
	PublicationDateOrYear string `json:"publication_date_or_year,omitempty"`
	Year                  string `json:"year,omitempty"`
	MinCitationCount      *int   `json:"min_citation_count,omitempty" validate:"omitempty,min=0"`
	OpenAccessPDF         bool   `json:"open_access_pdf,omitempty"`
	Venue                 string `json:"venue,omitempty"`
	// Relevance selects relevance-ranked search instead of bulk search.
	Relevance bool `json:"relevance,omitempty"`
	// Extra holds index parameters without a dedicated field, keyed by the
	// index's own parameter name.
	Extra map[string]string `json:"extra,omitempty"`
}

// QueryDefinition is one section of the query file.
type QueryDefinition struct {
	ID           int              `json:"id" validate:"min=1"`
	Kind         QueryKind        `json:"kind" validate:"oneof=prompt discovery"`
	Prompt       string           `json:"text"`
	Model        string           `json:"model" validate:"required"`
	Temperature  *float64         `json:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
	UseWebSearch bool             `json:"google_search"`
	Discovery    *DiscoveryParams `json:"discovery,omitempty"`
	Schema       json.RawMessage  `json:"structure,omitempty"`
	FilterField  string           `json:"filter_on,omitempty"`
}

// IsDiscovery returns true for sections that search an index instead of
// prompting a model.
func (q *QueryDefinition) IsDiscovery() bool {
	return q.Kind == QueryKindDiscovery
}

// HasSchema returns true if the section declares a structured-output schema.
func (q *QueryDefinition) HasSchema() bool {
	return len(q.Schema) > 0
}

// Parameters returns the resolved parameters of the section as they appear in
// the report metadata.
func (q *QueryDefinition) Parameters() map[string]interface{} {
	params := map[string]interface{}{
		"model_name":    q.Model,
		"google_search": q.UseWebSearch,
	}
	if q.Temperature != nil {
		params["temperature"] = *q.Temperature
	}
	if q.FilterField != "" {
		params["filter_on"] = q.FilterField
	}
	if q.Discovery != nil {
		params["semantic_scholar"] = true
		params["discovery"] = q.Discovery
	}
	return params
}

var queryValidator = validator.New()

// Validate checks the structural invariants of a parsed definition.
func (q *QueryDefinition) Validate() error {
	if err := queryValidator.Struct(q); err != nil {
		return fmt.Errorf("query %d: %w", q.ID, err)
	}
	if q.IsDiscovery() != (q.Discovery != nil) {
		return NewValidationError("discovery", fmt.Sprintf("query %d: kind %s disagrees with discovery parameters", q.ID, q.Kind))
	}
	if q.Discovery != nil {
		if err := queryValidator.Struct(q.Discovery); err != nil {
			return fmt.Errorf("query %d discovery: %w", q.ID, err)
		}
	}
	return nil
}

package domain

import "time"

// Result error kinds beyond the provider error kinds.
const (
	ErrorKindSchemaValidation = "schema_validation"
	ErrorKindCancelled        = "cancelled"
	ErrorKindInternal         = "internal"
)

// ResultError is the explicit failure marker recorded for a pair whose
// invocation reached a terminal failure.
type ResultError struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// QueryResult is the outcome of one (document, query) pair.
type QueryResult struct {
	DocumentID int `json:"document_id"`
	QueryID    int `json:"query_id"`

	// Response is a decoded structured object when the query declares a
	// schema, otherwise the raw response text. Nil when Error is set.
	Response interface{} `json:"response"`

	// Grounding carries source attribution for web-search-enabled queries.
	// Nil when grounding was not requested.
	Grounding map[string]interface{} `json:"grounding_metadata"`

	Error       *ResultError `json:"error,omitempty"`
	State       PairState    `json:"state"`
	Attempts    int          `json:"attempts"`
	CompletedAt time.Time    `json:"completed_at"`
}

// Failed returns true if the pair ended in a terminal failure.
func (r *QueryResult) Failed() bool {
	return r.Error != nil
}

// StructuredResponse returns the response as an object, if it is one.
func (r *QueryResult) StructuredResponse() (map[string]interface{}, bool) {
	m, ok := r.Response.(map[string]interface{})
	return m, ok
}

// PairKey identifies a (document, query) pair.
type PairKey struct {
	DocumentID int
	QueryID    int
}

// Key returns the pair key of the result.
func (r *QueryResult) Key() PairKey {
	return PairKey{DocumentID: r.DocumentID, QueryID: r.QueryID}
}

package executor

import (
	"fmt"

	"github.com/helixir/ask-llm/internal/domain"
)

// evaluateFilter decides whether a document survives a filter query. It
// returns the exclusion reason, or "" when the document is kept.
func evaluateFilter(field string, result *domain.QueryResult) string {
	obj, ok := result.StructuredResponse()
	if !ok || result.Failed() {
		return fmt.Sprintf("No structured response for filter field '%s'", field)
	}
	value, present := obj[field]
	flag, isBool := value.(bool)
	switch {
	case !present || !isBool:
		return fmt.Sprintf("Filter field '%s' has non-boolean value: %s", field, formatValue(value, present))
	case !flag:
		return fmt.Sprintf("Filter field '%s' evaluated to False", field)
	default:
		return ""
	}
}

func formatValue(v interface{}, present bool) string {
	if !present || v == nil {
		return "None"
	}
	return fmt.Sprint(v)
}

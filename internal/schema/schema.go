// Package schema validates structured model responses against the schema
// declared in a query section.
//
// Schemas are written in the JSON Schema subset the model providers accept.
// Provider dialect details (upper-case type names, "nullable") are rewritten
// to standard JSON Schema before compilation, so the same document drives
// both the provider's structured output and local validation.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const resourceURL = "mem://query/schema.json"

// Validator checks values against one compiled schema.
type Validator struct {
	schema     *jsonschema.Schema
	properties []string
}

// Compile compiles a query schema.
func Compile(raw json.RawMessage) (*Validator, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema is not valid JSON: %w", err)
	}
	normalized, err := json.Marshal(normalize(doc))
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(resourceURL, bytes.NewReader(normalized)); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Validator{schema: compiled, properties: Properties(raw)}, nil
}

// Properties returns the top-level property names in declaration order, or
// in propertyOrdering order when the schema declares one.
func Properties(raw json.RawMessage) []string {
	var head struct {
		PropertyOrdering []string        `json:"propertyOrdering"`
		Properties       json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil
	}
	if len(head.PropertyOrdering) > 0 {
		return head.PropertyOrdering
	}
	return objectKeys(head.Properties)
}

// Properties returns the top-level property names of the compiled schema.
func (v *Validator) Properties() []string {
	return v.properties
}

// Validate returns the schema violations of value, or nil when it conforms.
func (v *Validator) Validate(value interface{}) []string {
	err := v.schema.Validate(value)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	return violations(verr)
}

// Decode parses a model's text answer as JSON and validates it. A response
// that is not JSON is a violation; nothing is coerced.
func (v *Validator) Decode(text string) (interface{}, []string) {
	value, err := ParseJSON(text)
	if err != nil {
		return nil, []string{err.Error()}
	}
	if problems := v.Validate(value); len(problems) > 0 {
		return nil, problems
	}
	return value, nil
}

// ParseJSON decodes a JSON answer, tolerating a surrounding code fence.
func ParseJSON(text string) (interface{}, error) {
	text = stripFence(strings.TrimSpace(text))
	if text == "" {
		return nil, fmt.Errorf("response is empty")
	}
	var value interface{}
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	return value, nil
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}

// violations flattens the leaf causes of a validation error.
func violations(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{loc + ": " + err.Message}
	}
	var out []string
	for _, cause := range err.Causes {
		out = append(out, violations(cause)...)
	}
	sort.Strings(out)
	return out
}

// normalize rewrites provider dialect into JSON Schema: type names are
// lower-cased and "nullable": true adds "null" to the type.
func normalize(node interface{}) interface{} {
	switch n := node.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(n))
		for k, v := range n {
			switch k {
			case "type":
				out[k] = lowerType(v)
			case "nullable", "propertyOrdering":
			default:
				out[k] = normalize(v)
			}
		}
		if nullable, _ := n["nullable"].(bool); nullable {
			out["type"] = addNull(out["type"])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(n))
		for i, v := range n {
			out[i] = normalize(v)
		}
		return out
	default:
		return node
	}
}

func lowerType(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return strings.ToLower(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, x := range t {
			out[i] = lowerType(x)
		}
		return out
	default:
		return v
	}
}

func addNull(t interface{}) interface{} {
	switch v := t.(type) {
	case string:
		if v == "null" {
			return v
		}
		return []interface{}{v, "null"}
	case []interface{}:
		for _, x := range v {
			if x == "null" {
				return v
			}
		}
		return append(v, "null")
	default:
		return t
	}
}

// objectKeys returns the keys of a JSON object in document order.
func objectKeys(raw json.RawMessage) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

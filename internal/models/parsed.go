package models

import "time"

// ParsedFieldValue is a single structured value extracted by a parser.
// Value holds a string, []string, float64, bool or a nested map, matching
// the JSON shape declared by the parser schema.
type ParsedFieldValue struct {
	Value      any        `json:"value"`
	Confidence Confidence `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// ParsedFields is the outcome of one parser invocation: the fields the model
// filled plus the field IDs it declared in the schema but could not fill.
type ParsedFields struct {
	Parser  string                      `json:"parser"`
	Fields  map[string]ParsedFieldValue `json:"fields"`
	Skipped []string                    `json:"skipped,omitempty"`
}

// Empty reports whether no fields were extracted.
func (p ParsedFields) Empty() bool {
	return len(p.Fields) == 0
}

// AnalysisOutput is the free-text result of one analyzer invocation.
// It is an audit artifact, not profile data.
type AnalysisOutput struct {
	Analyzer      string    `json:"analyzer"`
	Prose         string    `json:"prose"`
	InputMessages int       `json:"input_messages"`
	CreatedAt     time.Time `json:"created_at"`
}

// Package parser turns analyzer prose or raw conversation chunks into
// confidence-scored structured profile fields via LLM function calling.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/invopop/jsonschema"
	"github.com/raphaelgruber/intake-go/internal/conversation"
	"github.com/raphaelgruber/intake-go/internal/llm"
	"github.com/raphaelgruber/intake-go/internal/models"
)

// ID identifies a parser in the fixed catalog.
type ID string

const (
	Basics ID = "basics"
	Assets ID = "assets"
	Story  ID = "story"
	Words  ID = "words"
	Style  ID = "style"
	Hub    ID = "hub"
)

// Definition owns the extraction schema for one parser. Static catalog.
type Definition struct {
	ID          ID
	Description string
	schema      *jsonschema.Schema
	targets     []string
}

var catalog = func() map[ID]Definition {
	defs := []struct {
		id   ID
		desc string
		args any
	}{
		{Basics, "Record fundamental facts about the business from the conversation.", &basicsArgs{}},
		{Assets, "Record which brand assets the owner already has.", &assetsArgs{}},
		{Story, "Record the origin story and motivation behind the business.", &storyArgs{}},
		{Words, "Record the values and language the owner wants the brand to carry.", &wordsArgs{}},
		{Style, "Record the visual style preferences the owner expresses.", &styleArgs{}},
		{Hub, "Record how the owner wants their brand hub page structured.", &hubArgs{}},
	}

	m := make(map[ID]Definition, len(defs))
	for _, d := range defs {
		schema := reflectSchema(d.args)
		m[d.id] = Definition{
			ID:          d.id,
			Description: d.desc,
			schema:      schema,
			targets:     propertyNames(schema),
		}
	}
	return m
}()

// propertyNames lists a schema's top-level properties in declaration order.
func propertyNames(s *jsonschema.Schema) []string {
	if s.Properties == nil {
		return nil
	}
	names := make([]string, 0, s.Properties.Len())
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// ByID resolves a parser identifier.
func ByID(id ID) (Definition, bool) {
	def, ok := catalog[id]
	return def, ok
}

// All returns every parser definition; used for startup mapping validation.
func All() []Definition {
	out := make([]Definition, 0, len(catalog))
	for _, id := range []ID{Basics, Assets, Story, Words, Style, Hub} {
		out = append(out, catalog[id])
	}
	return out
}

// Targets returns the field IDs this parser may produce.
func (d Definition) Targets() []string {
	out := make([]string, len(d.targets))
	copy(out, d.targets)
	return out
}

// Extractor is the LLM structured-extraction capability the stage depends on.
// ok=false means the model declined to call the function.
type Extractor interface {
	ExtractStructured(ctx context.Context, systemPrompt, userPrompt string, fn llm.FunctionSchema) (json.RawMessage, bool, error)
}

// Input is either analyzer prose or a raw conversation chunk, depending on
// how the route is wired.
type Input struct {
	Prose string
	Chunk conversation.Chunk
}

func (in Input) text() string {
	if in.Prose != "" {
		return in.Prose
	}
	return in.Chunk.Transcript()
}

const extractSystemPrompt = `You extract structured onboarding facts from text about a business.
Call the provided function with every field the text clearly supports. Omit fields the text does not support; never guess.`

// Parse invokes the extraction capability with the definition's schema as the
// only callable function and validates the returned arguments field by field.
// Partial success is the norm: malformed fields land in Skipped, a declined
// call yields empty fields, and only a capability error is returned as error.
func Parse(ctx context.Context, ext Extractor, def Definition, in Input) (models.ParsedFields, error) {
	out := models.ParsedFields{
		Parser: string(def.ID),
		Fields: make(map[string]models.ParsedFieldValue),
	}

	raw, called, err := ext.ExtractStructured(ctx, extractSystemPrompt, in.text(), def.Function())
	if err != nil {
		return out, fmt.Errorf("parser %s: %w", def.ID, err)
	}
	if !called {
		// Not an error: no fields extracted this round.
		out.Skipped = def.Targets()
		return out, nil
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		slog.Warn("extraction arguments unparseable", "parser", def.ID, "error", err)
		out.Skipped = def.Targets()
		return out, nil
	}

	for _, field := range def.targets {
		prop, ok := def.schema.Properties.Get(field)
		if !ok {
			continue
		}
		val, present := args[field]
		if !present || val == nil {
			out.Skipped = append(out.Skipped, field)
			continue
		}

		fv, ok := decodeField(prop, val)
		if !ok {
			slog.Debug("field dropped for schema violation", "parser", def.ID, "field", field)
			out.Skipped = append(out.Skipped, field)
			continue
		}
		out.Fields[field] = fv
	}

	return out, nil
}

// decodeField validates a returned value against its declared property schema
// and normalizes it into a ParsedFieldValue. Scored envelope properties carry
// their own confidence; bare properties default to medium.
func decodeField(prop *jsonschema.Schema, val any) (models.ParsedFieldValue, bool) {
	if isEnvelope(prop) {
		obj, ok := val.(map[string]any)
		if !ok {
			return models.ParsedFieldValue{}, false
		}
		valueSchema, _ := prop.Properties.Get("value")
		inner, ok := obj["value"]
		if !ok || !conforms(valueSchema, inner) {
			return models.ParsedFieldValue{}, false
		}
		confStr, ok := obj["confidence"].(string)
		if !ok {
			return models.ParsedFieldValue{}, false
		}
		conf, ok := models.ParseConfidence(confStr)
		if !ok {
			return models.ParsedFieldValue{}, false
		}
		reasoning, _ := obj["reasoning"].(string)
		return models.ParsedFieldValue{
			Value:      normalize(inner),
			Confidence: conf,
			Reasoning:  reasoning,
		}, true
	}

	if !conforms(prop, val) {
		return models.ParsedFieldValue{}, false
	}
	return models.ParsedFieldValue{
		Value:      normalize(val),
		Confidence: models.ConfidenceMedium,
	}, true
}

// isEnvelope reports whether a property is a scored value/confidence object.
func isEnvelope(s *jsonschema.Schema) bool {
	if s == nil || s.Type != "object" || s.Properties == nil {
		return false
	}
	_, ok := s.Properties.Get("value")
	return ok
}

// conforms checks a decoded JSON value against its declared schema shape.
func conforms(s *jsonschema.Schema, v any) bool {
	if s == nil {
		return false
	}
	switch s.Type {
	case "string":
		str, ok := v.(string)
		if !ok {
			return false
		}
		return enumAllows(s.Enum, str)
	case "number", "integer":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		items, ok := v.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if !conforms(s.Items, item) {
				return false
			}
		}
		return true
	case "object":
		obj, ok := v.(map[string]any)
		if !ok {
			return false
		}
		for _, req := range s.Required {
			if _, present := obj[req]; !present {
				return false
			}
		}
		if s.Properties != nil {
			for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
				if inner, present := obj[pair.Key]; present {
					if !conforms(pair.Value, inner) {
						return false
					}
				}
			}
		}
		return true
	default:
		return true
	}
}

func enumAllows(enum []any, v string) bool {
	if len(enum) == 0 {
		return true
	}
	for _, e := range enum {
		if s, ok := e.(string); ok && s == v {
			return true
		}
	}
	return false
}

// normalize converts decoded JSON values into the shapes the merge engine
// expects: homogeneous string arrays become []string.
func normalize(v any) any {
	items, ok := v.([]any)
	if !ok {
		return v
	}
	strs := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return v
		}
		strs = append(strs, s)
	}
	return strs
}

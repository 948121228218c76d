// Package profile resolves abstract field IDs to concrete profile-record
// slots and merges extracted values under the confidence policy.
package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy declares how a slot absorbs repeated writes.
type Policy string

const (
	// PolicyReplace overwrites the slot value outright.
	PolicyReplace Policy = "replace"
	// PolicyAccumulate set-unions array values into the slot.
	PolicyAccumulate Policy = "accumulate"
)

// SlotMapping is one entry of the mapping table.
type SlotMapping struct {
	Slot   string `yaml:"slot"`
	Policy Policy `yaml:"policy"`
}

// Mapping is the static, versioned field-mapping table. Loaded once at
// process start, never mutated at runtime.
type Mapping struct {
	Version int
	fields  map[string]SlotMapping
}

type mappingFile struct {
	Version int                    `yaml:"version"`
	Fields  map[string]SlotMapping `yaml:"fields"`
}

// LoadMapping reads and validates the mapping table from a YAML file.
// Two abstract fields sharing one slot is a configuration error rejected
// here rather than resolved at merge time.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	return ParseMapping(data)
}

// ParseMapping builds a Mapping from raw YAML.
func ParseMapping(data []byte) (*Mapping, error) {
	var file mappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse mapping file: %w", err)
	}
	if file.Version <= 0 {
		return nil, fmt.Errorf("mapping file missing version")
	}
	if len(file.Fields) == 0 {
		return nil, fmt.Errorf("mapping file declares no fields")
	}

	slotOwner := make(map[string]string, len(file.Fields))
	for field, sm := range file.Fields {
		if sm.Slot == "" {
			return nil, fmt.Errorf("field %q has no slot", field)
		}
		switch sm.Policy {
		case PolicyReplace, PolicyAccumulate:
		default:
			return nil, fmt.Errorf("field %q has invalid policy %q", field, sm.Policy)
		}
		if owner, taken := slotOwner[sm.Slot]; taken {
			return nil, fmt.Errorf("slot %q mapped by both %q and %q", sm.Slot, owner, field)
		}
		slotOwner[sm.Slot] = field
	}

	return &Mapping{Version: file.Version, fields: file.Fields}, nil
}

// Resolve returns the slot mapping for an abstract field ID.
func (m *Mapping) Resolve(fieldID string) (SlotMapping, bool) {
	sm, ok := m.fields[fieldID]
	return sm, ok
}

// Len returns the number of mapped fields.
func (m *Mapping) Len() int {
	return len(m.fields)
}

// ValidateTargets checks that every field ID a parser may produce resolves
// to a slot. Called at startup against the full parser catalog.
func (m *Mapping) ValidateTargets(targets []string) error {
	for _, t := range targets {
		if _, ok := m.fields[t]; !ok {
			return fmt.Errorf("parser target %q has no mapping entry", t)
		}
	}
	return nil
}

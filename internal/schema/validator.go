// internal/schema/validator.go
// Package schema provides JSON schema validation for request payloads.
package schema

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/RegistryAccord/registryaccord-evidence-go/internal/metrics"
)

// Schema names.
const (
	CaseCreate  = "case.create"
	EvidenceAsk = "evidence.ask"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ValidationError lists every problem found in a payload.
type ValidationError struct {
	Schema   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Schema, strings.Join(e.Problems, "; "))
}

// Validator validates request payloads against the embedded JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
	metrics *metrics.Metrics
}

// NewValidator compiles every embedded schema. m may be nil.
func NewValidator(m *metrics.Metrics) (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema), metrics: m}

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	for _, entry := range entries {
		raw, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", name, err)
		}
		v.schemas[name] = schema
	}
	return v, nil
}

// Names lists the loaded schemas.
func (v *Validator) Names() []string {
	names := make([]string, 0, len(v.schemas))
	for n := range v.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks a raw JSON payload. A malformed document or a schema
// violation is returned as *ValidationError.
func (v *Validator) Validate(name string, payload []byte) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("schema not found: %s", name)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		v.metrics.ObserveValidation(name, false)
		return &ValidationError{Schema: name, Problems: []string{"malformed JSON: " + err.Error()}}
	}
	if !result.Valid() {
		v.metrics.ObserveValidation(name, false)
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return &ValidationError{Schema: name, Problems: problems}
	}
	v.metrics.ObserveValidation(name, true)
	return nil
}

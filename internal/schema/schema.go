// Package schema provides optional JSON Schema (draft 2020-12) validation
// of a create_worker config blob against the descriptor a strategy was
// registered with, per SPEC_FULL.md §3's worker-config-schema expansion.
package schema

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/kuix/internal/kerrors"
)

// Validator wraps one compiled schema. A strategy registered without a
// schema simply has no Validator, and create_worker skips validation
// entirely — matching "optional" in the expansion.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile parses and compiles a draft 2020-12 JSON Schema document.
func Compile(schemaJSON []byte) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindSchemaValidationError, err, "invalid schema document")
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("config.json", doc); err != nil {
		return nil, kerrors.Wrap(kerrors.KindSchemaValidationError, err, "failed to add schema resource")
	}
	compiled, err := c.Compile("config.json")
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindSchemaValidationError, err, "failed to compile schema")
	}
	return &Validator{schema: compiled}, nil
}

// Validate checks configJSON against the compiled schema. On failure it
// returns a *kerrors.Error of kind SchemaValidationError whose Notes carry
// the validator's own failure detail, so create_worker can fold them into
// a WorkerInitError's context per SPEC_FULL.md §3.
func (v *Validator) Validate(configJSON []byte) error {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(configJSON)))
	if err != nil {
		return kerrors.Wrap(kerrors.KindSchemaValidationError, err, "worker config is not valid JSON")
	}
	if err := v.schema.Validate(parsed); err != nil {
		return kerrors.Wrap(kerrors.KindSchemaValidationError, err,
			fmt.Sprintf("worker config failed schema validation: %s", err))
	}
	return nil
}

// Package schema is the sole gate between normalization and execution: a
// plan that does not validate here is never run.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/planecraft/saferun/internal/model"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrPlanStructureInvalid wraps every validation failure so callers can
// branch on it when deciding to attempt a compensation plan.
var ErrPlanStructureInvalid = errors.New("plan structure invalid")

// planSchema is the canonical plan schema (Draft-7). Unknown top-level or
// step-level keys are rejected.
const planSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["plan_id", "steps", "metadata"],
  "additionalProperties": false,
  "properties": {
    "plan_id": {"type": "string", "minLength": 1},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/definitions/step"}
    },
    "metadata": {"type": "object", "default": {}}
  },
  "definitions": {
    "expectation": {"type": "object"},
    "retry_policy": {
      "oneOf": [
        {"type": "integer", "minimum": 0},
        {
          "type": "object",
          "required": ["limit"],
          "additionalProperties": false,
          "properties": {
            "limit": {"type": "integer", "minimum": 0},
            "backoff": {"type": "string"},
            "predicate": {"type": "string"}
          }
        }
      ]
    },
    "step": {
      "type": "object",
      "required": ["op", "args", "expect"],
      "additionalProperties": false,
      "properties": {
        "op": {
          "type": "string",
          "enum": ["read", "write", "patch_json", "run_script"]
        },
        "args": {"type": "object"},
        "expect": {"$ref": "#/definitions/expectation"},
        "id": {"type": "string"},
        "description": {"type": "string"},
        "retry": {"$ref": "#/definitions/retry_policy"},
        "on_fail": {
          "type": "array",
          "items": {"$ref": "#/definitions/step"},
          "default": []
        },
        "safe_write": {"type": "boolean"},
        "produces": {"type": "array", "items": {"type": "string"}},
        "requires": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

// Validator holds the compiled canonical plan schema.
type Validator struct {
	plan *jsonschema.Schema
}

// New compiles the embedded plan schema.
func New() (*Validator, error) {
	compiled, err := jsonschema.CompileString("plan.schema.json", planSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile plan schema: %w", err)
	}
	return &Validator{plan: compiled}, nil
}

// ValidateRaw validates a decoded plan document. The returned error carries
// the first violation found.
func (v *Validator) ValidateRaw(doc any) error {
	if err := v.plan.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrPlanStructureInvalid, firstViolation(err))
	}
	return nil
}

// ValidatePlan validates a typed plan by round-tripping it to the wire
// shape, then checks step data-flow feasibility.
func (v *Validator) ValidatePlan(plan *model.Plan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlanStructureInvalid, err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrPlanStructureInvalid, err)
	}
	if err := v.ValidateRaw(doc); err != nil {
		return err
	}
	return CheckDataFlow(plan)
}

// PlanSchemaJSON returns the canonical plan schema document.
func PlanSchemaJSON() string {
	return planSchema
}

// firstViolation unwraps the leaf cause of a validation error so the gate
// reports one concrete violation instead of the whole tree.
func firstViolation(err error) error {
	var validation *jsonschema.ValidationError
	if !errors.As(err, &validation) {
		return err
	}
	leaf := validation
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	return leaf
}

package model

import (
	"encoding/json"
	"fmt"
)

// Step operations form a closed vocabulary; anything else is rejected at the
// normalization boundary.
const (
	OpRead      = "read"
	OpWrite     = "write"
	OpPatchJSON = "patch_json"
	OpRunScript = "run_script"
)

// Ops lists the canonical operation names in schema order.
var Ops = []string{OpRead, OpWrite, OpPatchJSON, OpRunScript}

// ValidOp reports whether op is one of the canonical operation names.
func ValidOp(op string) bool {
	for _, known := range Ops {
		if op == known {
			return true
		}
	}
	return false
}

// Plan is the canonical, schema-valid unit of execution.
type Plan struct {
	PlanID   string         `json:"plan_id" yaml:"plan_id"`
	Steps    []Step         `json:"steps" yaml:"steps"`
	Metadata map[string]any `json:"metadata" yaml:"metadata"`
}

// Step is one operation with arguments and an expected outcome. Args stays an
// open map on the wire; handlers decode it into the typed argument records
// below.
type Step struct {
	ID          string         `json:"id,omitempty" yaml:"id,omitempty"`
	Op          string         `json:"op" yaml:"op"`
	Args        map[string]any `json:"args" yaml:"args"`
	Expect      map[string]any `json:"expect,omitempty" yaml:"expect,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Retry       *RetryPolicy   `json:"retry,omitempty" yaml:"retry,omitempty"`
	OnFail      []Step         `json:"on_fail,omitempty" yaml:"on_fail,omitempty"`
	SafeWrite   bool           `json:"safe_write,omitempty" yaml:"safe_write,omitempty"`
	Produces    []string       `json:"produces,omitempty" yaml:"produces,omitempty"`
	Requires    []string       `json:"requires,omitempty" yaml:"requires,omitempty"`
}

// Label returns the identifier used in logs and results, falling back to a
// positional name when the step carries no id.
func (s Step) Label(index int) string {
	if s.ID != "" {
		return s.ID
	}
	return fmt.Sprintf("step-%d", index+1)
}

// RetryPolicy is a hint consumed by higher-level callers; the retry
// controller itself enforces a fixed single extra attempt.
type RetryPolicy struct {
	Limit     int    `json:"limit" yaml:"limit"`
	Backoff   string `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	Predicate string `json:"predicate,omitempty" yaml:"predicate,omitempty"`
}

// UnmarshalJSON accepts either a bare integer limit or the full policy
// object, matching the plan schema.
func (r *RetryPolicy) UnmarshalJSON(data []byte) error {
	var limit int
	if err := json.Unmarshal(data, &limit); err == nil {
		*r = RetryPolicy{Limit: limit}
		return nil
	}

	type alias RetryPolicy
	var full alias
	if err := json.Unmarshal(data, &full); err != nil {
		return fmt.Errorf("retry policy must be an integer or an object: %w", err)
	}
	*r = RetryPolicy(full)
	return nil
}

// Package simstate is the simulated-state execution target: an in-memory
// system document mutated by a fixed set of step effects, with optimistic
// per-step expected-state verification and checkpoint rollback.
package simstate

import (
	"encoding/json"
	"reflect"
)

// Document is the simulated system state: windows, settings, logs and
// clipboard under their fixed top-level keys.
type Document map[string]any

// DefaultDocument is the state every engine starts from.
func DefaultDocument() Document {
	return Document{
		"windows": []any{
			map[string]any{"id": "desktop", "title": "Desktop", "active": true},
		},
		"settings":  map[string]any{"volume": 50, "wifi": "on"},
		"logs":      []any{},
		"clipboard": "",
	}
}

// Copy returns a deep, independent copy with no aliasing into the source.
func (d Document) Copy() Document {
	return Document(deepCopy(map[string]any(d)))
}

// Matches verifies an expected-state fragment against the document by
// shallow key comparison: only top-level keys present in the expectation are
// compared.
func (d Document) Matches(expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}
	current := toPlain(map[string]any(d))
	want := toPlain(expected)
	for key := range expected {
		if !reflect.DeepEqual(current[key], want[key]) {
			return false
		}
	}
	return true
}

// FieldDiff records one changed top-level key.
type FieldDiff struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Diff compares two documents key by key.
func Diff(original, updated Document) map[string]FieldDiff {
	diff := map[string]FieldDiff{}
	before := toPlain(map[string]any(original))
	after := toPlain(map[string]any(updated))

	keys := map[string]bool{}
	for key := range before {
		keys[key] = true
	}
	for key := range after {
		keys[key] = true
	}
	for key := range keys {
		if !reflect.DeepEqual(before[key], after[key]) {
			diff[key] = FieldDiff{From: before[key], To: after[key]}
		}
	}
	return diff
}

// deepCopy clones a document through JSON, which also settles every value
// into the plain shapes the comparison helpers expect.
func deepCopy(doc map[string]any) map[string]any {
	return toPlain(doc)
}

func toPlain(value map[string]any) map[string]any {
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var plain map[string]any
	if err := json.Unmarshal(data, &plain); err != nil {
		return value
	}
	return plain
}

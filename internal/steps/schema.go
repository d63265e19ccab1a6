package steps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/planecraft/saferun/internal/sandbox"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// loadPatchSchema compiles the optional schema a patch_json step supplies:
// either an inline schema object or a sandbox-relative path to a schema
// file. A nil spec means no validation.
func loadPatchSchema(spec any, sandboxRoot string) (*jsonschema.Schema, error) {
	if spec == nil {
		return nil, nil
	}

	var raw []byte
	switch value := spec.(type) {
	case map[string]any:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal inline schema: %w", err)
		}
		raw = data
	case string:
		path, err := sandbox.Resolve(value, sandboxRoot)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file: %w", err)
		}
		raw = data
	default:
		return nil, fmt.Errorf("schema must be an object or a path string")
	}

	schema, err := jsonschema.CompileString("patch.schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return schema, nil
}

// toPlainValue round-trips a document through JSON so the schema validator
// sees the exact value shapes encoding/json produces.
func toPlainValue(doc any) any {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc); err != nil {
		return doc
	}
	var plain any
	if err := json.NewDecoder(&buf).Decode(&plain); err != nil {
		return doc
	}
	return plain
}

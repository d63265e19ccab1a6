// Package loader reads plan and task documents from disk. Files are JSON or
// YAML; anything that is not an object at the top level is rejected.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Document loads a plan or task file into its raw wire shape.
func Document(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc map[string]any
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML document %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			if yamlErr := yaml.Unmarshal(data, &doc); yamlErr != nil {
				return nil, fmt.Errorf("failed to parse %s as JSON or YAML: %w", path, err)
			}
		}
	}

	if doc == nil {
		return nil, fmt.Errorf("document %s must be an object", path)
	}
	return normalizeKeys(doc).(map[string]any), nil
}

// normalizeKeys rewrites YAML's map[any]any containers into the
// map[string]any shape the rest of the pipeline expects.
func normalizeKeys(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, entry := range typed {
			out[key] = normalizeKeys(entry)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, entry := range typed {
			out[fmt.Sprint(key)] = normalizeKeys(entry)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, entry := range typed {
			out[i] = normalizeKeys(entry)
		}
		return out
	default:
		return value
	}
}

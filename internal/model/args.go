package model

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// ReadArgs are the arguments for a read step.
type ReadArgs struct {
	Path string `mapstructure:"path"`
}

// WriteArgs are the arguments for a write step.
type WriteArgs struct {
	Path    string `mapstructure:"path"`
	Content string `mapstructure:"content"`
}

// PatchJSONArgs are the arguments for a patch_json step. Schema is either an
// inline schema object or a sandbox-relative path to a schema file.
type PatchJSONArgs struct {
	Path   string         `mapstructure:"path"`
	Patch  map[string]any `mapstructure:"patch"`
	Schema any            `mapstructure:"schema"`
}

// RunScriptArgs are the arguments for a run_script step. Exactly one of Path
// (a script file) or Script (an inline body) must be set.
type RunScriptArgs struct {
	Path   string `mapstructure:"path"`
	Script string `mapstructure:"script"`
	Shell  string `mapstructure:"shell"`
}

// DecodeArgs turns a step's open argument map into the typed record for its
// operation. An unknown op is a decode error, not a dispatch miss.
func DecodeArgs(op string, raw map[string]any) (any, error) {
	switch op {
	case OpRead:
		var args ReadArgs
		if err := decodeInto(raw, &args); err != nil {
			return nil, err
		}
		if args.Path == "" {
			return nil, fmt.Errorf("read requires args.path")
		}
		return args, nil
	case OpWrite:
		var args WriteArgs
		if err := decodeInto(raw, &args); err != nil {
			return nil, err
		}
		if args.Path == "" {
			return nil, fmt.Errorf("write requires args.path")
		}
		return args, nil
	case OpPatchJSON:
		var args PatchJSONArgs
		if err := decodeInto(raw, &args); err != nil {
			return nil, err
		}
		if args.Path == "" {
			return nil, fmt.Errorf("patch_json requires args.path")
		}
		if args.Patch == nil {
			return nil, fmt.Errorf("patch_json requires args.patch")
		}
		return args, nil
	case OpRunScript:
		var args RunScriptArgs
		if err := decodeInto(raw, &args); err != nil {
			return nil, err
		}
		if args.Path == "" && args.Script == "" {
			return nil, fmt.Errorf("run_script requires args.script or args.path")
		}
		return args, nil
	default:
		return nil, fmt.Errorf("unsupported op: %s", op)
	}
}

func decodeInto(raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build args decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("invalid step args: %w", err)
	}
	return nil
}

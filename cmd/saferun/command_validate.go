package main

import (
	"encoding/json"
	"fmt"

	"github.com/planecraft/saferun/internal/loader"
	"github.com/planecraft/saferun/internal/schema"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <plan>...",
	Short: "Validate plan files against the canonical schema",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return validatePlans(args)
	},
}

func registerValidateCommand(root *cobra.Command) {
	root.AddCommand(validateCmd)
}

func validatePlans(paths []string) error {
	validator, err := schema.New()
	if err != nil {
		return err
	}

	overallOK := true
	for _, path := range paths {
		doc, err := loader.Document(path)
		if err == nil {
			err = validator.ValidateRaw(toPlain(doc))
		}
		if err != nil {
			overallOK = false
			fmt.Printf("%s: FAIL %v\n", path, err)
			continue
		}
		if len(paths) > 1 {
			fmt.Printf("%s: OK\n", path)
		} else {
			pretty, _ := json.MarshalIndent(doc, "", "  ")
			fmt.Println(string(pretty))
		}
	}

	if !overallOK {
		exitCode = 1
	}
	return nil
}

// toPlain settles a loaded document into the value shapes the schema
// validator expects from encoding/json.
func toPlain(doc map[string]any) any {
	data, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return doc
	}
	return plain
}

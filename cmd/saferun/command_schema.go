package main

import (
	"fmt"

	"github.com/planecraft/saferun/internal/schema"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the canonical plan JSON schema",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(schema.PlanSchemaJSON())
	},
}

func registerSchemaCommand(root *cobra.Command) {
	root.AddCommand(schemaCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/planecraft/saferun/internal/simstate"
	"github.com/spf13/cobra"
)

var (
	simPlanFile string
	simDryRun   bool
	simUndo     bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a plan against the simulated system state",
	Long:  "Apply a simulated-state plan to a fresh in-memory state document with per-step expected-state verification, and print the result.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return simulatePlan()
	},
}

func registerSimulateCommand(root *cobra.Command) {
	root.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVarP(&simPlanFile, "plan", "p", "", "Path to simulated-state plan JSON")
	simulateCmd.Flags().BoolVar(&simDryRun, "dry-run", false, "Predict the resulting state without applying")
	simulateCmd.Flags().BoolVar(&simUndo, "undo", false, "Apply the plan, then restore the pre-run checkpoint")
	simulateCmd.MarkFlagRequired("plan")
}

func simulatePlan() error {
	data, err := os.ReadFile(simPlanFile)
	if err != nil {
		return fmt.Errorf("failed to read plan file %s: %w", simPlanFile, err)
	}
	var plan simstate.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return fmt.Errorf("failed to parse simulated-state plan: %w", err)
	}

	engine := simstate.NewEngine()

	var result any
	if simDryRun {
		result = engine.DryRun(plan)
	} else {
		runResult := engine.Run(plan)
		result = runResult
		if !runResult.Applied {
			exitCode = 4
		} else if simUndo {
			result = engine.Undo()
		}
	}

	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(pretty))
	return nil
}

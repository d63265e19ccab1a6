package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	sandboxDir string
	reportsDir string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "saferun",
	Short: "Sandboxed plan executor",
	Long:  "saferun executes canonical plans against a confined sandbox with atomic backups, bounded retry, and saga-style compensation.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sandboxDir, "sandbox", "sandbox", "Sandbox root directory (SAFERUN_SANDBOX_ROOT overrides)")
	rootCmd.PersistentFlags().StringVar(&reportsDir, "reports", "reports", "Directory for run logs and plan dumps")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Mirror run log events to stderr")

	registerExecCommand(rootCmd)
	registerValidateCommand(rootCmd)
	registerSchemaCommand(rootCmd)
	registerSimulateCommand(rootCmd)
}

// sandboxBase applies the environment override to the sandbox flag.
func sandboxBase() string {
	if override := os.Getenv("SAFERUN_SANDBOX_ROOT"); override != "" {
		return override
	}
	return sandboxDir
}

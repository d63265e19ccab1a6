package main

import (
	"os"

	"github.com/joho/godotenv"
)

// exitCode carries the terminal classification of the executed command so
// main can surface it as the process exit code.
var exitCode int

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}

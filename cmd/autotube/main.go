// Package main provides the entry point for the autotube content pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autotube",
	Short: "Automated short-form video pipeline",
	Long:  "Autotube generates, renders, and uploads short-form videos on a daily schedule: idea -> images -> video -> audio -> upload.",
}

var (
	rootConfigPath string
	rootVerbose    bool
	rootLogJSON    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Print detailed debug information")
	rootCmd.PersistentFlags().BoolVar(&rootLogJSON, "log-json", false, "Emit JSON logs instead of console output")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "dispatchd",
		Short: "Code Dispatch - coding task dispatch service",
		Long: `Code Dispatch turns approved coding requests into tasks on remote
execution workers. It deduplicates submissions, picks the healthiest
worker by priority, reclaims abandoned tasks, and mirrors task status
back to the upstream action tracker.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	// Missing .env is fine; explicit environment always wins
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

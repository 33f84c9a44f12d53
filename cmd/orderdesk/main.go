// Package main is the entry point for the orderdesk service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "0.1.0"

// Global flags.
var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "orderdesk",
		Short: "Conversational order intake service",
		Long: `OrderDesk extracts structured product orders from customer chat.
It drives a tool-calling assistant over each conversation, persists the
session history, and hands finished orders to fulfillment processing.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())

	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

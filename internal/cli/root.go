package cli

import (
	"github.com/spf13/cobra"

	"github.com/keel-iac/keel/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "keel",
	Short: "Declarative infrastructure reconciliation",
	Long: `Keel reconciles declared infrastructure against what actually exists.

It reads HCL resource definitions, computes an execution plan by diffing
desired configuration against recorded state, and applies the plan in
dependency order:
  • Resources to be created, updated or replaced
  • Deletes in reverse dependency order
  • State written only after providers confirm success`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(taintCmd)
	rootCmd.AddCommand(untaintCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(versionCmd)
}

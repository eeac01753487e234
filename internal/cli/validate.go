package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keel-iac/keel/internal/config"
	"github.com/keel-iac/keel/internal/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate [config]",
	Short: "Validate configuration files",
	Long: `Validates the syntax of the configuration files and checks that the
resource dependency graph is acyclic.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	configPath, err := resolveConfigPath(args)
	if err != nil {
		return err
	}

	fmt.Println("Validating configuration...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	expanded := engine.ExpandResources(cfg.Resources)
	if _, err := engine.BuildDAG(expanded); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("\nConfiguration is valid! %d resource(s), %d output(s).\n", len(expanded), len(cfg.Outputs))
	return nil
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keel-iac/keel/internal/config"
	"github.com/keel-iac/keel/internal/engine"
	"github.com/keel-iac/keel/internal/planfile"
)

var (
	planOutFile string
	planTargets []string
)

var planCmd = &cobra.Command{
	Use:   "plan [config]",
	Short: "Generate an execution plan",
	Long: `Generates an execution plan showing what actions keel will take
to reach the desired state defined in your configuration.

The plan shows:
  • Resources to be created
  • Resources to be updated or replaced (with diff)
  • Resources to be deleted`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write plan to file")
	planCmd.Flags().StringSliceVar(&planTargets, "target", nil, "Limit planning to the given resource addresses")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	configPath, err := resolveConfigPath(args)
	if err != nil {
		return err
	}

	stateMgr := newStateManager()
	eng := engine.NewEngine(newRegistry())

	fmt.Print("Loading configuration... ")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.CreatePlanWithTargets(ctx, cfg, currentState, planTargets)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if len(plan.Changes) > 0 {
		fmt.Println("\nKeel will perform the following actions:")
		renderPlanChanges(plan)
		renderPlanSummary(plan)
	} else {
		fmt.Println("\nNo changes. Infrastructure is up-to-date.")
	}

	if planOutFile != "" {
		if err := planfile.Write(planOutFile, plan); err != nil {
			return err
		}
		fmt.Printf("\nPlan saved to %s. Run 'keel apply %s' to execute it.\n", planOutFile, planOutFile)
	}

	return nil
}

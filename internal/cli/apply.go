package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keel-iac/keel/internal/config"
	"github.com/keel-iac/keel/internal/engine"
	"github.com/keel-iac/keel/internal/ir"
	"github.com/keel-iac/keel/internal/planfile"
)

var (
	applyAutoApprove     bool
	applyParallelism     int
	applyContinueOnError bool
	applyTargets         []string
)

var applyCmd = &cobra.Command{
	Use:   "apply [config|planfile]",
	Short: "Apply a configuration",
	Long: `Builds or changes infrastructure according to keel configuration files.

The argument may be a config file, a config directory, or a plan file
previously saved with 'keel plan -out'. Applying a saved plan skips
re-planning and executes it as rendered.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", 0, "Maximum number of concurrent resource operations")
	applyCmd.Flags().BoolVar(&applyContinueOnError, "continue-on-error", false, "Continue applying past individual resource failures")
	applyCmd.Flags().StringSliceVar(&applyTargets, "target", nil, "Limit applying to the given resource addresses")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	stateMgr := newStateManager()
	registry := newRegistry()
	eng := engine.NewEngine(registry)
	eng.ContinueOnError = applyContinueOnError
	eng.Parallelism = applyParallelism

	if err := stateMgr.Lock(); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	var plan *ir.Plan
	if len(args) == 1 && planfile.IsPlanFile(args[0]) {
		plan, err = planfile.Read(args[0])
		if err != nil {
			return err
		}
		if plan.Metadata != nil && plan.Metadata.PriorStateSerial != currentState.Serial {
			return fmt.Errorf("saved plan is stale: state serial is now %d but the plan was created at serial %d; run 'keel plan' again",
				currentState.Serial, plan.Metadata.PriorStateSerial)
		}
		if err := loadStateProviders(registry, currentState); err != nil {
			return err
		}
		for _, change := range plan.Changes {
			if change.Desired != nil && change.Desired.Provider != "" {
				if _, err := registry.Get(change.Desired.Provider); err != nil {
					return fmt.Errorf("failed to load provider %s: %w", change.Desired.Provider, err)
				}
			}
		}
		fmt.Printf("Using saved plan from %s\n", args[0])
	} else {
		configPath, err := resolveConfigPath(args)
		if err != nil {
			return err
		}

		fmt.Print("Loading configuration... ")
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Println("FAILED")
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Println("OK")

		fmt.Print("Calculating plan... ")
		plan, err = eng.CreatePlanWithTargets(ctx, cfg, currentState, applyTargets)
		if err != nil {
			fmt.Println("FAILED")
			return fmt.Errorf("plan generation failed: %w", err)
		}
		fmt.Println("OK")
	}

	if len(plan.Changes) == 0 {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nKeel will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n", len(plan.Changes))

	newState, applyErr := eng.ApplyPlanWithCallback(ctx, plan, currentState, printApplyEvent)

	// Persist whatever was confirmed, even after a failure, so
	// successful changes aren't lost.
	if err := stateMgr.Write(ctx, newState); err != nil {
		if applyErr != nil {
			return fmt.Errorf("apply failed (%v) and state could not be written: %w", applyErr, err)
		}
		return fmt.Errorf("failed to write state: %w", err)
	}

	if applyErr != nil {
		return fmt.Errorf("apply failed: %w", applyErr)
	}

	fmt.Println("\nApply complete! Resources: " +
		fmt.Sprintf("%d added, %d changed, %d destroyed.", plan.Summary.Create, plan.Summary.Update+plan.Summary.Replace, plan.Summary.Delete))

	if len(newState.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		for k, v := range newState.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
	}

	return nil
}

func printApplyEvent(event engine.ApplyEvent) {
	switch event.Status {
	case "started":
		fmt.Printf("  %s: %s...\n", event.Address, event.Action)
	case "completed":
		fmt.Printf("  \033[32m%s: %s complete (%.1fs)\033[0m\n", event.Address, event.Action, event.Duration.Seconds())
	case "failed":
		fmt.Printf("  \033[31m%s: %s failed: %v\033[0m\n", event.Address, event.Action, event.Error)
	}
}

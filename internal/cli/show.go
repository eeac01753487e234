package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keel-iac/keel/internal/planfile"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show [planfile]",
	Short: "Show the current state or a saved plan",
	Long: `Displays a human-readable view of the current state file, or of a
saved plan file when one is given.`,
	RunE: runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
}

func runShow(cmd *cobra.Command, args []string) error {
	if len(args) == 1 && planfile.IsPlanFile(args[0]) {
		plan, err := planfile.Read(args[0])
		if err != nil {
			return err
		}
		if showJSON {
			data, err := json.MarshalIndent(plan, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal plan: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}
		renderPlanChanges(plan)
		renderPlanSummary(plan)
		return nil
	}

	mgr := newStateManager()

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if showJSON {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("State: version=%d serial=%d lineage=%s\n", s.Version, s.Serial, s.Lineage)
	fmt.Printf("Resources: %d\n\n", len(s.Resources))

	for _, res := range s.Resources {
		fmt.Printf("# %s\n", res.Address())
		fmt.Printf("  provider = %s\n", res.Provider)

		for k, v := range res.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
		fmt.Println()
	}

	if len(s.Outputs) > 0 {
		fmt.Println("Outputs:")
		for k, v := range s.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
	}

	return nil
}

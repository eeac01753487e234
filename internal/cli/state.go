package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keel-iac/keel/internal/ir"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage keel state",
	Long:  `Commands for inspecting and modifying keel state.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show attributes of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateMvCmd = &cobra.Command{
	Use:   "mv <source> <destination>",
	Short: "Move a resource to a new address",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateMv,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Remove a resource from state (does not destroy)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateMvCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	mgr := newStateManager()

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(s.Resources) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}

	fmt.Printf("State version: %d, serial: %d, lineage: %s\n\n", s.Version, s.Serial, s.Lineage)
	for _, res := range s.Resources {
		marker := ""
		if res.Tainted {
			marker = " (tainted)"
		}
		fmt.Printf("  %s (provider: %s)%s\n", res.Address(), res.Provider, marker)
	}
	fmt.Printf("\nTotal: %d resource(s)\n", len(s.Resources))

	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	mgr := newStateManager()

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	target := args[0]
	res, ok := s.Resource(target)
	if !ok {
		return fmt.Errorf("resource %s not found in state", target)
	}

	fmt.Printf("# %s\n", res.Address())
	fmt.Printf("  provider = %s\n", res.Provider)
	fmt.Printf("  type     = %s\n", res.Type)
	fmt.Printf("  name     = %s\n", res.Name)
	if res.Tainted {
		fmt.Printf("  tainted  = true\n")
	}

	if len(res.Inputs) > 0 {
		fmt.Println("\n  Inputs:")
		for k, v := range res.Inputs {
			fmt.Printf("    %s = %v\n", k, v)
		}
	}

	if len(res.Outputs) > 0 {
		fmt.Println("\n  Outputs:")
		for k, v := range res.Outputs {
			fmt.Printf("    %s = %v\n", k, v)
		}
	}

	if len(res.Dependencies) > 0 {
		fmt.Println("\n  Dependencies:")
		for _, dep := range res.Dependencies {
			fmt.Printf("    %s\n", dep)
		}
	}

	if res.InputsHash != "" {
		fmt.Printf("\n  inputs_hash = %s\n", res.InputsHash)
	}

	return nil
}

func runStateMv(cmd *cobra.Command, args []string) error {
	mgr := newStateManager()

	if err := mgr.Lock(); err != nil {
		return err
	}
	defer mgr.Unlock()

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	src, dst := args[0], args[1]
	res, ok := s.Resource(src)
	if !ok {
		return fmt.Errorf("resource %s not found in state", src)
	}

	parts := strings.SplitN(dst, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid destination address %q, expected format type.name", dst)
	}
	if _, exists := s.Resource(dst); exists {
		return fmt.Errorf("resource %s already exists in state", dst)
	}
	res.Type = parts[0]
	res.Name = parts[1]

	if err := mgr.Write(cmd.Context(), s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("Moved %s to %s\n", src, dst)
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	mgr := newStateManager()

	if err := mgr.Lock(); err != nil {
		return err
	}
	defer mgr.Unlock()

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	target := args[0]
	newResources := make([]*ir.ResourceState, 0, len(s.Resources))
	found := false

	for _, res := range s.Resources {
		if res.Address() == target {
			found = true
			continue
		}
		newResources = append(newResources, res)
	}

	if !found {
		return fmt.Errorf("resource %s not found in state", target)
	}

	s.Resources = newResources
	if err := mgr.Write(cmd.Context(), s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("Removed %s from state (resource was NOT destroyed)\n", target)
	return nil
}

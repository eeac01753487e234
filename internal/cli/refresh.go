package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keel-iac/keel/internal/ir"
	"github.com/keel-iac/keel/internal/provider"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Update state to match real infrastructure",
	Long: `Reads the current state of all managed resources from their providers
and updates the state file to reflect actual infrastructure.

This detects drift between what keel thinks exists and what actually exists.
Resources that no longer exist are removed from state.`,
	RunE: runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	stateMgr := newStateManager()
	registry := newRegistry()

	if err := stateMgr.Lock(); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	fmt.Print("Reading state... ")
	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to read state: %w", err)
	}
	fmt.Println("OK")

	if len(currentState.Resources) == 0 {
		fmt.Println("No resources to refresh.")
		return nil
	}

	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	fmt.Printf("Refreshing %d resource(s)...\n\n", len(currentState.Resources))

	drifted := 0
	deleted := 0
	kept := make([]*ir.ResourceState, 0, len(currentState.Resources))

	for _, res := range currentState.Resources {
		addr := res.Address()
		prov, err := registry.Get(res.Provider)
		if err != nil {
			fmt.Printf("  %s: SKIP (provider %s not available)\n", addr, res.Provider)
			kept = append(kept, res)
			continue
		}

		var resourceID string
		if id, ok := res.Outputs["id"]; ok {
			resourceID = fmt.Sprintf("%v", id)
		}

		var currentJSON []byte
		if res.Outputs != nil {
			currentJSON, _ = json.Marshal(res.Outputs)
		}

		resp, err := prov.Read(ctx, &provider.ReadRequest{
			Type:         res.Type,
			ID:           resourceID,
			CurrentState: currentJSON,
		})
		if err != nil {
			fmt.Printf("  %s: ERROR (%v)\n", addr, err)
			kept = append(kept, res)
			continue
		}

		if !resp.Exists {
			fmt.Printf("  \033[31m%s: DELETED (no longer exists in provider)\033[0m\n", addr)
			deleted++
			continue
		}

		if len(resp.NewState) > 0 {
			var newOutputs map[string]any
			if err := json.Unmarshal(resp.NewState, &newOutputs); err == nil {
				if fmt.Sprintf("%v", newOutputs) != fmt.Sprintf("%v", res.Outputs) {
					fmt.Printf("  \033[33m%s: DRIFTED (state updated)\033[0m\n", addr)
					res.Outputs = newOutputs
					drifted++
				} else {
					fmt.Printf("  %s: OK\n", addr)
				}
			}
		} else {
			fmt.Printf("  %s: OK\n", addr)
		}
		kept = append(kept, res)
	}

	if drifted > 0 || deleted > 0 {
		currentState.Resources = kept
		if err := stateMgr.Write(ctx, currentState); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}

	fmt.Printf("\nRefresh complete. %d drifted, %d deleted.\n", drifted, deleted)
	return nil
}

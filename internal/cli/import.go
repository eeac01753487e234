package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keel-iac/keel/internal/ir"
	"github.com/keel-iac/keel/internal/provider"
)

var importCmd = &cobra.Command{
	Use:   "import <resource-address> <id>",
	Short: "Import existing infrastructure into keel state",
	Long: `Import an existing resource into the keel state file.

This does not generate configuration - you must write the corresponding
HCL configuration manually. It only adds the resource to the state so
that keel will manage it going forward.

Example:
  keel import docker_container.web my-container-id`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	addr := args[0]
	resourceID := args[1]

	parts := strings.SplitN(addr, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid resource address %q, expected format type.name", addr)
	}
	resourceType := parts[0]
	resourceName := parts[1]

	providerName := "null"
	if strings.Contains(resourceType, ":") {
		providerName = strings.SplitN(resourceType, ":", 2)[0]
	} else if idx := strings.Index(resourceType, "_"); idx > 0 {
		providerName = resourceType[:idx]
	}

	ctx := cmd.Context()
	stateMgr := newStateManager()
	registry := newRegistry()

	if err := stateMgr.Lock(); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	prov, err := registry.Get(providerName)
	if err != nil {
		return fmt.Errorf("provider not available: %w", err)
	}

	fmt.Printf("Importing %s (id: %s)...\n", addr, resourceID)
	resp, err := prov.Read(ctx, &provider.ReadRequest{
		Type: resourceType,
		ID:   resourceID,
	})
	if err != nil {
		return fmt.Errorf("failed to read resource from provider: %w", err)
	}

	if !resp.Exists {
		return fmt.Errorf("resource %s with id %s does not exist", resourceType, resourceID)
	}

	var outputs map[string]any
	if len(resp.NewState) > 0 {
		if err := json.Unmarshal(resp.NewState, &outputs); err != nil {
			return fmt.Errorf("failed to parse provider response: %w", err)
		}
	}

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if _, exists := currentState.Resource(addr); exists {
		return fmt.Errorf("resource %s already exists in state", addr)
	}

	currentState.Resources = append(currentState.Resources, &ir.ResourceState{
		Type:     resourceType,
		Name:     resourceName,
		Provider: providerName,
		Inputs:   map[string]any{},
		Outputs:  outputs,
	})

	if err := stateMgr.Write(ctx, currentState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("Successfully imported %s\n", addr)
	fmt.Println("Note: You must also write the corresponding HCL configuration for this resource.")
	return nil
}

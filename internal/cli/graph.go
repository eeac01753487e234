package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keel-iac/keel/internal/config"
	"github.com/keel-iac/keel/internal/engine"
)

var graphCmd = &cobra.Command{
	Use:   "graph [config]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  keel graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	configPath, err := resolveConfigPath(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	resources := engine.ExpandResources(cfg.Resources)
	dag, err := engine.BuildDAG(resources)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Println("digraph keel {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, res := range resources {
		fmt.Printf("  %q;\n", res.Address())
	}
	fmt.Println()

	for _, res := range resources {
		for _, dep := range dag.Dependencies(res.Address()) {
			fmt.Printf("  %q -> %q;\n", res.Address(), dep)
		}
	}

	fmt.Println("}")
	return nil
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new keel project",
	Long:  `Creates a new keel project with a starter configuration file.`,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(keelDir(), 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", keelDir(), err)
	}

	mainHCL := "main.hcl"
	if _, err := os.Stat(mainHCL); os.IsNotExist(err) {
		content := `# Keel configuration
# See: https://github.com/keel-iac/keel

resource "null_resource" "example" {
  triggers = {
    version = "1"
  }
}

output "example_id" {
  value = "ptr://null:null_resource/example/id"
}
`
		if err := os.WriteFile(mainHCL, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", mainHCL, err)
		}
		fmt.Printf("Created %s\n", mainHCL)
	}

	fmt.Println("\nKeel initialized successfully!")
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit main.hcl to define your infrastructure")
	fmt.Println("  2. Run 'keel plan' to see what will be created")
	fmt.Println("  3. Run 'keel apply' to create your infrastructure")

	return nil
}

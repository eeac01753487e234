package main

import (
	"os"

	"github.com/keel-iac/keel/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

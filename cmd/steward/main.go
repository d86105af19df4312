package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petrijr/steward/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "Coordinate multi-step automation workflows with approval gates",
}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// Command cursorguard serves the cursor classifier, trains its model and runs
// a self-test of the full request pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cursorguard",
		Short:         "Human vs bot classification of mouse cursor activity",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newServeCmd(), newTrainCmd(), newSelfTestCmd(), newHealthCheckCmd())
	return rootCmd
}

// Command flowctl inspects workflow documents offline: it validates them,
// lists definitions in match order and dry-runs classifications against them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "Inspect on-call dispatch workflow documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("file", "f", "config/flow.yaml", "workflow document")

	root.AddCommand(newValidateCmd(), newListCmd(), newMatchCmd())
	return root
}

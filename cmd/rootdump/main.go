// Command rootdump inspects ROOT files from the command line: listing top-level
// keys, dumping an RNTuple's envelope structure, and running a batch of such
// inspections from a config file.
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
	cmd := &cobra.Command{
		Use:   "rootdump",
		Short: "Inspect ROOT files and RNTuple structures",
	}
	cmd.AddCommand(newKeysCmd())
	cmd.AddCommand(newRNTupleCmd())
	cmd.AddCommand(newBatchCmd())
	return cmd
}

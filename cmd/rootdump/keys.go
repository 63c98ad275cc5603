package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scigolib/rootio"
)

func newKeysCmd() *cobra.Command {
	var useMmap bool
	cmd := &cobra.Command{
		Use:   "keys <file.root>",
		Short: "List the top-level keys of a ROOT file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openFile(args[0], useMmap)
			if err != nil {
				return err
			}
			defer f.Close()

			kl, err := f.KeyList()
			if err != nil {
				return fmt.Errorf("reading key list: %w", err)
			}
			for _, k := range kl.Keys {
				fmt.Printf("%-20s %-24s cycle=%d nbytes=%d objlen=%d\n",
					k.Name.String(), k.ClassName.String(), k.Header.Cycle, k.Header.NBytes, k.Header.ObjLen)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useMmap, "mmap", false, "open the file via memory mapping instead of a full read")
	return cmd
}

func openFile(path string, useMmap bool) (*rootio.File, error) {
	if useMmap {
		return rootio.OpenMmap(path)
	}
	return rootio.Open(path)
}

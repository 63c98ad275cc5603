package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/xyproto/env/v2"
)

// batchConfigEnvVar names the environment variable a batch run falls back to
// for its config path when --config is not given, mirroring the
// environment-variable-default convention xyproto/env/v2 is built for.
const batchConfigEnvVar = "ROOTDUMP_BATCH_CONFIG"

// batchConfig is the TOML shape of a batch run: a list of (file, optional
// RNTuple key) jobs to dump in sequence.
type batchConfig struct {
	Jobs []batchJob `toml:"job"`
}

type batchJob struct {
	File    string `toml:"file"`
	RNTuple string `toml:"rntuple"`
	Mmap    bool   `toml:"mmap"`
}

func newBatchCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a batch of key-list/RNTuple dumps from a TOML config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = env.Str(batchConfigEnvVar, "rootdump.toml")
			}
			return runBatch(path)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", fmt.Sprintf("batch config file (defaults to $%s or rootdump.toml)", batchConfigEnvVar))
	return cmd
}

func runBatch(path string) error {
	var cfg batchConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return fmt.Errorf("decoding batch config %s: %w", path, err)
	}

	for i, job := range cfg.Jobs {
		fmt.Printf("=== job %d: %s ===\n", i, job.File)
		f, err := openFile(job.File, job.Mmap)
		if err != nil {
			fmt.Fprintf(os.Stderr, "job %d: opening %s: %v\n", i, job.File, err)
			continue
		}
		kl, err := f.KeyList()
		if err != nil {
			fmt.Fprintf(os.Stderr, "job %d: reading key list: %v\n", i, err)
			f.Close()
			continue
		}
		for _, k := range kl.Keys {
			fmt.Printf("%-20s %-24s cycle=%d\n", k.Name.String(), k.ClassName.String(), k.Header.Cycle)
		}
		if job.RNTuple != "" {
			if err := dumpRNTuple(job.File, job.RNTuple, job.Mmap); err != nil {
				fmt.Fprintf(os.Stderr, "job %d: dumping RNTuple %s: %v\n", i, job.RNTuple, err)
			}
		}
		f.Close()
	}
	return nil
}

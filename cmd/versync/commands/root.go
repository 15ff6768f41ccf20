// Package commands implements the CLI commands for versync.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"asisaid.cn/versync/internal/app"
	"asisaid.cn/versync/internal/common/config"
	"asisaid.cn/versync/internal/service"
)

// Version information injected at build time.
var Version = "dev"

// globalFlags are the flags shared by every command.
type globalFlags struct {
	configPath string
	rootDir    string
	backend    string
	verbose    bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "versync",
		Short: "Version metadata of a synchronized folder",
		Long: `versync keeps per-path version, deletion and sharing metadata for a
synchronized folder and merges it with the metadata of other replicas.

Use "versync [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&flags.rootDir, "root", "r", "", "Synchronized folder (overrides store.root_dir)")
	rootCmd.PersistentFlags().StringVar(&flags.backend, "backend", "", "Storage backend (overrides storage.backend)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newSyncCmd(flags),
		newMergeCmd(flags),
		newShowCmd(flags),
		newChildrenCmd(flags),
		newShareCmd(flags),
		newUnshareCmd(flags),
		newOwnerCmd(flags),
		newClearCmd(flags),
		newServeCmd(flags),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig reads the config file and applies the command line overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.rootDir != "" {
		cfg.Store.RootDir = flags.rootDir
	}
	if flags.backend != "" {
		cfg.Storage.Backend = flags.backend
	}
	if flags.verbose {
		cfg.Logger.Level = "debug"
	}
	if cfg.Logger.Output == "stdout" {
		cfg.Logger.Output = "stderr" // stdout carries command output
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := app.InitLogger(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// withService opens the store of the configured root, runs fn and closes
// the store again.
func withService(ctx context.Context, flags *globalFlags, fn func(svc *service.MetadataService) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	st, err := app.OpenStore(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(service.NewMetadataService(st, cfg.Peers, cfg.Store.Ignore))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"straznik/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config string
	Format string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Running it without a
// subcommand starts the bot.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "straznik",
		Short: "straznik - Discord change log bot",
		Long:  "Logs server changes into per-category channels and keeps reaction roles in sync.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "./config.jsonc", "path to config (json, jsonc or yaml)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewRouteCommand(opts))

	return cmd
}

// loadConfig parses the config without full validation. Offline commands
// only need the storage section.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.NewConfigManager(opts.Config).Parse()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.Config, err)
	}
	return cfg, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"straznik/internal/app"
	"straznik/internal/storage"
	logx "straznik/pkg/logx"
)

// MigrateResult is the printable form of storage.MigrationReport.
type MigrateResult struct {
	CreatedTable bool     `json:"created_table"`
	Added        []string `json:"added,omitempty"`
	Failed       []string `json:"failed,omitempty"`
	Columns      []string `json:"columns,omitempty"`
}

// NewMigrateCommand creates the migrate command. Opening the store runs
// the schema migration.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "migrate",
		Short:        "Create or upgrade the routing table and report the result",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd.OutOrStdout())
		},
	}
}

func runMigrate(opts *RootOptions, w io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, err := app.OpenStore(cfg, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	var res MigrateResult
	if m, ok := st.(storage.Migrated); ok {
		rep := m.Migration()
		res = MigrateResult{CreatedTable: rep.CreatedTable, Added: rep.Added, Columns: rep.Columns}
		for _, e := range rep.Failed {
			res.Failed = append(res.Failed, e.Error())
		}
	}

	if opts.Format == "json" {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "created table: %t\n", res.CreatedTable)
	if len(res.Added) > 0 {
		fmt.Fprintf(w, "added columns: %s\n", strings.Join(res.Added, ", "))
	}
	if len(res.Columns) > 0 {
		fmt.Fprintf(w, "columns: %s\n", strings.Join(res.Columns, ", "))
	}
	for _, f := range res.Failed {
		fmt.Fprintf(w, "failed: %s\n", f)
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("migration incomplete: %d column(s) failed", len(res.Failed))
	}
	return nil
}

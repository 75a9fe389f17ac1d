package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"straznik/internal/app"
	"straznik/internal/storage"
	logx "straznik/pkg/logx"
)

const routeTimeout = 10 * time.Second

// NewRouteCommand creates the route command group.
func NewRouteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Inspect or change a server's log channels",
	}
	cmd.AddCommand(&cobra.Command{
		Use:          "get <server-id>",
		Short:        "Print the log channels of a server",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRouteGet(cmd.Context(), rootOpts, cmd.OutOrStdout(), args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:          "set <server-id> <text|edit|voice|change> <channel-id>",
		Short:        "Set the log channel of one category",
		Long:         "Set the log channel of one category. The other categories keep their channels.",
		Args:         cobra.ExactArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRouteSet(cmd.Context(), rootOpts, cmd.OutOrStdout(), args[0], args[1], args[2])
		},
	})
	return cmd
}

func openRouteStore(ctx context.Context, opts *RootOptions) (storage.Store, context.Context, context.CancelFunc, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := app.OpenStore(cfg, logx.Nop())
	if err != nil {
		return nil, nil, nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, routeTimeout)
	return st, ctx, cancel, nil
}

func runRouteGet(ctx context.Context, opts *RootOptions, w io.Writer, serverID string) error {
	st, ctx, cancel, err := openRouteStore(ctx, opts)
	if err != nil {
		return err
	}
	defer cancel()
	defer st.Close()

	rc, ok, err := st.Get(ctx, serverID)
	if err != nil {
		return err
	}
	if !ok {
		rc = storage.RoutingConfig{ServerID: serverID}
	}
	if opts.Format == "json" {
		return writeJSON(w, rc)
	}
	for _, c := range storage.Categories {
		ch := rc.Channel(c)
		if ch == "" {
			ch = "-"
		}
		fmt.Fprintf(w, "%-6s %s\n", c, ch)
	}
	return nil
}

func runRouteSet(ctx context.Context, opts *RootOptions, w io.Writer, serverID, category, channelID string) error {
	cat, err := storage.ParseCategory(category)
	if err != nil {
		return err
	}
	st, ctx, cancel, err := openRouteStore(ctx, opts)
	if err != nil {
		return err
	}
	defer cancel()
	defer st.Close()

	if err := st.SetChannel(ctx, serverID, cat, channelID); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s log channel of %s set to %s\n", cat, serverID, channelID)
	return nil
}

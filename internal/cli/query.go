package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"torrentsqlite/internal/database"
	"torrentsqlite/internal/domain"
	"torrentsqlite/internal/vfs/sqlbind"
	"torrentsqlite/internal/vfs/torrentvfs"
)

func NewQueryCommand(rt *Runtime, rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <descriptor|path> <sql> [args...]",
		Short: "Run a statement against a database",
		Long: `Run one SQL statement and print the rows it returns.

A descriptor (magnet link, info-hash, .torrent path or btih-b64: form) is
read through the swarm. Any other argument is a local database file opened
read-only with the driver chosen by --driver. Extra arguments bind to the
statement's placeholders in order.`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			ctx, cancel := withTimeout(cmd.Context(), rootOpts.Timeout)
			defer cancel()
			return f.Error(runQuery(ctx, rt, rootOpts, f, args[0], args[1], args[2:]))
		},
	}
}

func runQuery(ctx context.Context, rt *Runtime, opts *RootOptions, f *OutputFormatter, target, stmt string, rawArgs []string) error {
	db, err := openTarget(ctx, rt, opts, target)
	if err != nil {
		return WrapExitError(ExitFailure, "open "+target, err)
	}
	defer db.Close()

	args := make([]any, len(rawArgs))
	for i, a := range rawArgs {
		args[i] = a
	}
	rows, err := db.FetchRows(ctx, stmt, database.ResultBoth, args...)
	if err != nil {
		return WrapExitError(ExitFailure, "query", err)
	}

	var cols []string
	nums := make([][]any, 0, len(rows))
	records := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		cols = r.Columns
		nums = append(nums, r.Num)
		records = append(records, r.Assoc)
	}
	return f.Table(cols, nums, records)
}

func openTarget(ctx context.Context, rt *Runtime, opts *RootOptions, target string) (*database.DB, error) {
	if !domain.IsDescriptor(target) {
		if opts.Driver == DriverPure {
			return database.Open(ctx, sqlbind.DriverPure, sqlbind.PureDSN(target, true))
		}
		return database.Open(ctx, sqlbind.DriverNative, sqlbind.NativeDSN(target, true))
	}

	desc, err := domain.ParseDescriptor(target)
	if err != nil {
		return nil, err
	}
	if err := rt.InstallVFS(); err != nil {
		return nil, fmt.Errorf("install torrent vfs: %w", err)
	}
	return database.OpenVFS(ctx, torrentvfs.Name, desc.Encode())
}

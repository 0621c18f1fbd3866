// Package cli holds the torrentsql commands.
package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
)

const (
	DriverNative = "native"
	DriverPure   = "pure"
)

var (
	ValidFormats = []string{"text", "json"}
	ValidDrivers = []string{DriverNative, DriverPure}
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string
	Driver  string
	Timeout time.Duration
}

func NewRootCommand(rt *Runtime) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "torrentsql",
		Short: "Query SQLite databases shared over BitTorrent",
		Long: `Query SQLite databases straight out of a BitTorrent swarm.

Only the pieces holding the pages a query touches are downloaded.
Databases are named by magnet link, info-hash or .torrent path.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if !slices.Contains(ValidDrivers, opts.Driver) {
				return fmt.Errorf("invalid driver %q: must be one of %v", opts.Driver, ValidDrivers)
			}
			if opts.Timeout < 0 {
				return fmt.Errorf("invalid timeout %s", opts.Timeout)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", DriverNative, "engine for local database files (native|pure)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Minute, "overall command timeout, 0 for none")

	cmd.AddCommand(NewQueryCommand(rt, opts))
	cmd.AddCommand(NewInfoCommand(rt, opts))
	cmd.AddCommand(NewEncodeCommand(opts))

	return cmd
}

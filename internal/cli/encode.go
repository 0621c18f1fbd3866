package cli

import (
	"github.com/spf13/cobra"

	"torrentsqlite/internal/domain"
)

func NewEncodeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "encode <descriptor>",
		Short: "Print the URI-safe form of a descriptor",
		Long: `Print the btih-b64: form of a descriptor. The encoded form can be
used as a file name in SQLite URIs, which cannot carry a raw magnet link.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			desc, err := domain.ParseDescriptor(args[0])
			if err != nil {
				return f.Error(WrapExitError(ExitCommandError, "parse descriptor", err))
			}
			return f.Text(desc.Encode())
		},
	}
}

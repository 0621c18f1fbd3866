package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"torrentsqlite/internal/app"
	"torrentsqlite/internal/domain"
	"torrentsqlite/internal/domain/ports"
)

// InfoResult is printed by the info command.
type InfoResult struct {
	Descriptor string                 `json:"descriptor"`
	Encoded    string                 `json:"encoded"`
	Stats      domain.AttachmentStats `json:"stats"`
	// Attached counts the session's live attachments of the same content,
	// this one included. Zero when the session cannot tell.
	Attached  int                `json:"attached,omitempty"`
	Storage   []app.StorageUsage `json:"storage,omitempty"`
	HeldBytes int64              `json:"heldBytes,omitempty"`
}

func NewInfoCommand(rt *Runtime, rootOpts *RootOptions) *cobra.Command {
	var showStorage bool

	cmd := &cobra.Command{
		Use:           "info <descriptor>",
		Short:         "Resolve a descriptor and print its geometry",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			ctx, cancel := withTimeout(cmd.Context(), rootOpts.Timeout)
			defer cancel()

			fetcher, err := rt.Fetcher()
			if err != nil {
				return f.Error(WrapExitError(ExitFailure, "start session", err))
			}
			handle, err := fetcher.Attach(ctx, args[0])
			if err != nil {
				return f.Error(WrapExitError(ExitFailure, "attach", err))
			}
			defer handle.Detach()

			res := InfoResult{
				Descriptor: handle.Descriptor().String(),
				Encoded:    handle.Descriptor().Encode(),
				Stats:      handle.Stats(),
			}
			swarm, _ := rt.Swarm()
			usage, hasUsage := swarm.(ports.SessionUsage)
			if hasUsage {
				res.Attached = usage.Attached(handle.InfoHash())
			}
			if showStorage {
				res.Storage = rt.Config.StorageUsage()
				if hasUsage {
					res.HeldBytes = usage.HeldBytes()
				}
			}
			return f.Fields(res, infoPairs(res))
		},
	}
	cmd.Flags().BoolVar(&showStorage, "storage", false, "also report session disk usage")
	return cmd
}

func infoPairs(res InfoResult) [][2]string {
	s := res.Stats
	pairs := [][2]string{
		{"descriptor", res.Descriptor},
		{"encoded", res.Encoded},
		{"info-hash", string(s.InfoHash)},
		{"name", s.Name},
		{"size", strconv.FormatInt(s.TotalSize, 10)},
		{"piece length", strconv.FormatInt(s.PieceLength, 10)},
		{"pieces", strconv.Itoa(s.NumPieces)},
		{"completed", fmt.Sprintf("%d/%d", s.PiecesCompleted, s.NumPieces)},
		{"peers", strconv.Itoa(s.Peers)},
	}
	if res.Attached > 0 {
		pairs = append(pairs, [2]string{"attached", strconv.Itoa(res.Attached)})
	}
	for _, u := range res.Storage {
		pairs = append(pairs, [2]string{"storage " + u.Dir, fmt.Sprintf("%d files, %d bytes (%d allocated)", u.Files, u.SizeBytes, u.AllocatedBytes)})
	}
	if res.HeldBytes > 0 {
		pairs = append(pairs, [2]string{"held in memory", strconv.FormatInt(res.HeldBytes, 10)})
	}
	return pairs
}

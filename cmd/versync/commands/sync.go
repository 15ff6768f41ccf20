package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"asisaid.cn/versync/internal/service"
)

func newSyncCmd(flags *globalFlags) *cobra.Command {
	var ignore []string

	cmd := &cobra.Command{
		Use:   "sync [path]",
		Short: "Record the current state of the folder",
		Long: `Rescan the synchronized folder and update the metadata of every path.
With a path, only that path is recorded again from scratch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), flags, func(svc *service.MetadataService) error {
				if len(args) == 1 {
					if err := svc.SyncFile(cmd.Context(), args[0]); err != nil {
						return err
					}
				} else if err := svc.Sync(cmd.Context(), ignore...); err != nil {
					return err
				}

				idx, err := svc.Index(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Synced %d paths in %s\n", idx.Len(), svc.Store().RootDir())
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&ignore, "ignore", "i", nil, "Path or glob pattern to ignore (repeatable)")
	return cmd
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"asisaid.cn/versync/internal/service"
)

func newClearCmd(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every record of the folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to clear without --force")
			}
			return withService(cmd.Context(), flags, func(svc *service.MetadataService) error {
				if err := svc.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cleared all records")
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Confirm dropping all records")
	return cmd
}

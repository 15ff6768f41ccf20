package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"asisaid.cn/versync/internal/service"
)

func newShareCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "share <path> <username> <READ|WRITE>",
		Short: "Grant a user access to a path",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), flags, func(svc *service.MetadataService) error {
				if err := svc.Share(cmd.Context(), args[0], args[1], args[2]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Shared %s with %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newUnshareCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unshare <path> <username>",
		Short: "Revoke the access of a user to a path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), flags, func(svc *service.MetadataService) error {
				if err := svc.Unshare(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unshared %s from %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newOwnerCmd(flags *globalFlags) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "owner <path> [username]",
		Short: "Print, set or remove the owner of a path",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), flags, func(svc *service.MetadataService) error {
				switch {
				case remove:
					return svc.SetOwner(cmd.Context(), args[0], "")
				case len(args) == 2:
					return svc.SetOwner(cmd.Context(), args[0], args[1])
				}

				obj, err := svc.Path(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), obj.OwnerName())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the owner")
	return cmd
}

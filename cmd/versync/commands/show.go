package commands

import (
	"github.com/spf13/cobra"

	"asisaid.cn/versync/internal/service"
)

func newShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <path>",
		Short: "Print the metadata of a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), flags, func(svc *service.MetadataService) error {
				obj, err := svc.Path(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), obj)
			})
		},
	}
}

func newChildrenCmd(flags *globalFlags) *cobra.Command {
	var namesOnly bool

	cmd := &cobra.Command{
		Use:   "children [path]",
		Short: "Print the metadata of every path below a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := ""
			if len(args) == 1 {
				parent = args[0]
			}
			return withService(cmd.Context(), flags, func(svc *service.MetadataService) error {
				children, err := svc.Children(cmd.Context(), parent)
				if err != nil {
					return err
				}
				if !namesOnly {
					return printJSON(cmd.OutOrStdout(), children)
				}
				paths := make([]string, 0, len(children))
				for _, c := range children {
					paths = append(paths, c.AbsolutePath())
				}
				return printJSON(cmd.OutOrStdout(), paths)
			})
		},
	}

	cmd.Flags().BoolVar(&namesOnly, "paths", false, "Only print the paths")
	return cmd
}

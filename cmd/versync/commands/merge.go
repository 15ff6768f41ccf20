package commands

import (
	"github.com/spf13/cobra"

	"asisaid.cn/versync/internal/app"
	"asisaid.cn/versync/internal/service"
	"asisaid.cn/versync/internal/version/store"
)

func newMergeCmd(flags *globalFlags) *cobra.Command {
	var localRoot string

	cmd := &cobra.Command{
		Use:   "merge [peer-url...]",
		Short: "Merge the metadata of other replicas",
		Long: `Merge the metadata of other replicas into this one and print which
paths changed, were deleted or conflict.

Peers are given by the base URL of their API. Without arguments every
configured peer is merged. With --local, the replica in another folder on
this machine is merged instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withService(ctx, flags, func(svc *service.MetadataService) error {
				if localRoot != "" {
					other, err := openLocal(cmd, flags, localRoot)
					if err != nil {
						return err
					}
					defer other.Close()

					result, err := svc.MergeSource(ctx, other.ObjectManager())
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), result)
				}

				if len(args) == 0 {
					return printJSON(cmd.OutOrStdout(), svc.MergePeers(ctx))
				}

				results := make(map[string]*store.MergeResult, len(args))
				for _, peer := range args {
					result, err := svc.Merge(ctx, peer)
					if err != nil {
						return err
					}
					results[peer] = result
				}
				return printJSON(cmd.OutOrStdout(), results)
			})
		},
	}

	cmd.Flags().StringVar(&localRoot, "local", "", "Folder of another replica on this machine")
	return cmd
}

// openLocal opens the store of another folder with the same configuration.
func openLocal(cmd *cobra.Command, flags *globalFlags, root string) (*store.ObjectStore, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	cfg.Store.RootDir = root
	cfg.Storage.Path = ""
	return app.OpenStore(cmd.Context(), cfg, nil)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/zitadelhost/internal/resource"
	"github.com/picklr-io/zitadelhost/internal/statusserver"
)

func newStatusCmd(g *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status [resource]",
		Short: "Show the state of a running stack",
		Long:  `Queries the status server of a running 'zitadelhost up' and prints the state of every resource, or of a single one.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := statusserver.NewClient(addr)
			var snaps []resource.Snapshot
			if len(args) == 1 {
				snap, err := client.Resource(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				snaps = []resource.Snapshot{snap}
			} else {
				var err error
				if snaps, err = client.Resources(cmd.Context()); err != nil {
					return err
				}
			}
			if len(snaps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No resources.")
				return nil
			}
			printSnapshots(cmd.OutOrStdout(), snaps, g.noColor)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultStatusAddr, "Address of the status server")
	return cmd
}

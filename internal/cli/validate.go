package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/zitadelhost/internal/resource"
	"github.com/picklr-io/zitadelhost/internal/runtime"
)

func newValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the stack declaration",
		Long: `Loads the stack declaration, declares every resource and checks that all
references and dependencies resolve without cycles. Nothing is started.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprint(out, "Checking stack... ")
			ls, err := g.loadStack(cmd.Context(), resource.ModePublish, nil, stackOptions(nil))
			if err != nil {
				fmt.Fprintln(out, "FAILED")
				return fmt.Errorf("validation failed: %w", err)
			}
			dag, err := runtime.BuildDAG(ls.builder.Graph)
			if err != nil {
				fmt.Fprintln(out, "FAILED")
				return fmt.Errorf("validation failed: %w", err)
			}
			fmt.Fprintln(out, "OK")
			fmt.Fprintf(out, "\nStack is valid! %d resource(s) declared.\n", len(dag.StartOrder()))
			return nil
		},
	}
}

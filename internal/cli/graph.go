package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/zitadelhost/internal/resource"
	"github.com/picklr-io/zitadelhost/internal/runtime"
)

func newGraphCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Output the dependency graph in DOT format",
		Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  zitadelhost graph | dot -Tpng > graph.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := g.loadStack(cmd.Context(), resource.ModePublish, nil, stackOptions(nil))
			if err != nil {
				return err
			}
			dag, err := runtime.BuildDAG(ls.builder.Graph)
			if err != nil {
				return fmt.Errorf("failed to build graph: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "digraph zitadelhost {")
			fmt.Fprintln(out, "  rankdir = \"BT\";")
			fmt.Fprintln(out, "  node [shape = rect];")
			fmt.Fprintln(out)

			order := dag.StartOrder()
			for _, name := range order {
				r, _ := dag.Resource(name)
				fmt.Fprintf(out, "  %q [label = %q];\n", name, name+"\n"+resource.TypeName(r))
			}
			fmt.Fprintln(out)
			for _, name := range order {
				for _, dep := range dag.Dependencies(name) {
					fmt.Fprintf(out, "  %q -> %q;\n", name, dep)
				}
			}
			fmt.Fprintln(out, "}")
			return nil
		},
	}
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/picklr-io/zitadelhost/internal/resource"
)

func newManifestCmd(g *globalOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Write the deployment manifest of the stack as YAML",
		Long: `Renders every resource with its image, environment, bindings and mounts.
Values only known at run time, such as allocated ports, generated secrets and
provisioned client ids, appear as {resource.path} placeholders.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := g.loadStack(cmd.Context(), resource.ModePublish, nil, stackOptions(nil))
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return ls.builder.WriteManifest(cmd.Context(), cmd.OutOrStdout())
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			if err := ls.builder.WriteManifest(cmd.Context(), f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Manifest written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

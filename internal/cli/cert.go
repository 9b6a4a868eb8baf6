package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/picklr-io/zitadelhost/internal/certs"
	"github.com/picklr-io/zitadelhost/internal/logging"
)

func newCertCmd(g *globalOptions) *cobra.Command {
	var (
		tool     string
		cacheDir string
		name     string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Export the local development certificate",
		Long: `Exports a development TLS certificate into the per-stack cache directory and
prints the paths of the certificate and key. A cached pair is reused.

Supported tools:
  dotnet   dotnet dev-certs https (default)
  mkcert   mkcert, issuing a certificate for localhost`,
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter := &certs.Exporter{BaseDir: cacheDir, Timeout: timeout, Log: logging.Logger()}
			switch tool {
			case "dotnet", "":
			case "mkcert":
				exporter.Command = "mkcert"
				exporter.Args = certs.MkcertArgs
			default:
				return fmt.Errorf("unknown certificate tool %q", tool)
			}

			if name == "" {
				if dir, _, err := g.stackFile(); err == nil {
					name = filepath.Base(dir)
				} else if wd, err := os.Getwd(); err == nil {
					name = filepath.Base(wd)
				}
			}

			cert, err := exporter.ExportDevCertificate(cmd.Context(), name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "certificate: %s\n", cert.CertPath)
			fmt.Fprintf(out, "key:         %s\n", cert.KeyPath)
			if cert.Cached {
				fmt.Fprintln(out, "(cached)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "dotnet", "Export tool (dotnet, mkcert)")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Base directory of the certificate cache (defaults to the system temp dir)")
	cmd.Flags().StringVar(&name, "name", "", "Stack name keying the cache directory (defaults to the stack directory name)")
	cmd.Flags().DurationVar(&timeout, "timeout", certs.DefaultTimeout, "How long the export tool may run")
	return cmd
}

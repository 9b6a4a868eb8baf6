package cli

import (
	"github.com/spf13/cobra"

	"github.com/picklr-io/zitadelhost/internal/logging"
)

const defaultStatusAddr = "127.0.0.1:18888"

// globalOptions are the flags shared by every command.
type globalOptions struct {
	logLevel   string
	file       string
	properties map[string]string
	stateDir   string
	noColor    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "zitadelhost",
		Short: "Run a local ZITADEL identity stack",
		Long: `zitadelhost starts ZITADEL, its database and the applications that depend on it
from a single PKL or YAML declaration.

Once an instance is ready, the projects, OIDC applications and roles declared on it are
provisioned and their credentials are handed to the containers that reference them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(opts.logLevel)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVarP(&opts.file, "file", "f", "", "Stack declaration (.pkl, .yaml or .yml). Defaults to stack.pkl, stack.yaml or stack.yml in the working directory")
	flags.StringToStringVarP(&opts.properties, "prop", "D", nil, "Set external properties (format: key=value)")
	flags.StringVar(&opts.stateDir, "state-dir", ".zitadelhost", "Directory for generated secrets and staged files, relative to the stack file")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		newUpCmd(opts),
		newValidateCmd(opts),
		newGraphCmd(opts),
		newManifestCmd(opts),
		newCertCmd(opts),
		newStatusCmd(opts),
		newFmtCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return newRootCmd().Execute()
}

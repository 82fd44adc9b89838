package app

import (
	"bytes"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/grdisco/grdisco/config"
	"github.com/grdisco/grdisco/cui"
	"github.com/grdisco/grdisco/discovery"
	"github.com/grdisco/grdisco/format"
	"github.com/grdisco/grdisco/logger"
	"github.com/grdisco/grdisco/meta"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const usageFormat = `
Usage: %s

%s
`

type command struct {
	*cobra.Command

	flags *flags
	ui    cui.UI
}

// runFunc is a common entrypoint for Run func.
func runFunc(
	flags *flags,
	f func(*cobra.Command, *mergedConfig) error,
) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := flags.validate(); err != nil {
			return &usageError{errors.Wrap(err, "invalid flag condition")}
		}

		if flags.meta.verbose {
			logger.SetOutput(cmd.ErrOrStderr())
		}

		switch {
		case flags.meta.version:
			printVersion(cmd.OutOrStdout())
			return nil
		case flags.meta.help:
			printUsage(cmd)
			return nil
		}

		// Pass Flags instead of PersistentFlags because the config is merged with common and local flags.
		cfg, err := mergeConfig(cmd.Flags(), flags)
		if err != nil {
			var verr *config.ValidationError
			if errors.As(err, &verr) {
				printUsage(cmd)
				return err
			}
			return errors.Wrap(err, "failed to merge command line flags and config files")
		}

		// The entrypoint for the command.
		return f(cmd, cfg)
	}
}

func newRootCommand(flags *flags, ui cui.UI, newDiscoverer func() *discovery.Discoverer) *command {
	cmd := &cobra.Command{
		Use: meta.AppName,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return &usageError{errors.Errorf("unknown command '%s'", args[0])}
			}
			return nil
		},
		RunE: runFunc(flags, func(cmd *cobra.Command, _ *mergedConfig) error {
			printUsage(cmd)
			return &usageError{errors.New("a command is required")}
		}),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	bindFlags(cmd.PersistentFlags(), flags, ui.Writer())
	cmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		usageFunc(ui.Writer(), cmd)()
	})
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err}
	})
	cmd.SetOut(ui.Writer())
	cmd.SetErr(ui.ErrWriter())
	cmd.AddCommand(newListServicesCommand(flags, ui, newDiscoverer))
	return &command{cmd, flags, ui}
}

func newListServicesCommand(flags *flags, ui cui.UI, newDiscoverer func() *discovery.Discoverer) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list-services",
		Aliases: []string{"ls", "services"},
		Short:   "list services and describe their methods",
		Long: `list-services lists the services the server exposes by gRPC server reflection,
then describes each of them.

If reflection is disabled by --reflection=false, the services are read from the proto files
specified by --proto instead of the server.`,
		Example: `        $ grdisco list-services -e localhost:50051
        $ grdisco ls -e example.com:443 --tls --format proto
        $ grdisco ls --reflection=false --path api --proto api/service.proto`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return &usageError{errors.Errorf("list-services takes no arguments, but got '%s'", args[0])}
			}
			return nil
		},
		RunE: runFunc(flags, func(cmd *cobra.Command, cfg *mergedConfig) error {
			ui := ui
			if cfg.Output.Colored && !cfg.noColor && cui.IsTerminal(ui.ErrWriter()) {
				ui = cui.NewColored(ui)
			}

			err := newDiscoverer().Discover(cmd.Context(), ui, cfg.Server.Endpoint, cfg.Config)
			if discovery.KindOf(err) == discovery.KindMissingArgument {
				printUsage(cmd)
			}
			return err
		}),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.Flags().SortFlags = false
	return cmd
}

func bindFlags(f *pflag.FlagSet, flags *flags, w io.Writer) {
	initFlagSet(f, w)

	f.StringVarP(&flags.common.endpoint, "endpoint", "e", "", "gRPC server endpoint formatted as host:port")
	f.StringVar(&flags.common.config, "config", "", "the config file used instead of the project local config file")

	f.BoolVarP(&flags.security.tls, "tls", "t", false, "use a secure TLS connection")
	f.StringVar(&flags.security.cacert, "cacert", "", "the CA certificate file for verifying the server")
	f.StringVar(
		&flags.security.cert,
		"cert", "", "the certificate file for mutual TLS auth. it must be provided with --certkey.")
	f.StringVar(
		&flags.security.certKey,
		"certkey", "", "the private key file for mutual TLS auth. it must be provided with --cert.")
	f.StringVar(
		&flags.security.serverName,
		"servername", "", "override the server name used to verify the hostname (ignored if --tls is disabled)")
	f.BoolVar(&flags.security.insecure, "insecure", false, "skip the verification of the server certificate")

	f.StringVar(&flags.oauth.accessTokenPath, "oauth-access-token-path", "", "a file containing an OAuth2 access token")
	f.StringVar(&flags.oauth.tokenURL, "oauth-token-url", "", "the OAuth2 token endpoint")
	f.StringVar(&flags.oauth.clientID, "oauth-client-id", "", "the OAuth2 client ID")
	f.StringVar(&flags.oauth.clientSecret, "oauth-client-secret", "", "the OAuth2 client secret")
	f.StringVar(
		&flags.oauth.refreshTokenPath,
		"oauth-refresh-token-path", "", "a file containing an OAuth2 refresh token")
	f.StringSliceVar(&flags.oauth.scopes, "oauth-scopes", nil, "OAuth2 scopes requested with the client credentials")

	f.Var(
		newStringToStringValue(nil, &flags.common.header),
		"header", "default headers that set to each requests (example: foo=bar)")
	f.DurationVar(&flags.common.timeout, "timeout", 0, "timeout of each reflection request (0 means no timeout)")
	f.BoolVarP(&flags.common.reflection, "reflection", "r", true, "use gRPC reflection")
	f.StringSliceVar(&flags.common.path, "path", nil, "proto file paths")
	f.StringSliceVar(&flags.common.proto, "proto", nil, "proto files used if reflection is disabled")
	f.StringVarP(
		&flags.common.format,
		"format", "o", format.Text, fmt.Sprintf("output format (one of %s)", format.Names()))

	f.BoolVar(&flags.meta.noColor, "no-color", false, "disable colored output")
	f.BoolVar(&flags.meta.verbose, "verbose", false, "verbose output")
	f.BoolVarP(&flags.meta.version, "version", "v", false, "display version and exit")
	f.BoolVarP(&flags.meta.help, "help", "h", false, "display help text and exit")
}

func initFlagSet(f *pflag.FlagSet, w io.Writer) {
	f.SortFlags = false
	f.SetOutput(w)
}

// usage is the generator for usage output.
func usageFunc(out io.Writer, cmd *cobra.Command) func() {
	return func() {
		printVersion(out)
		var buf bytes.Buffer
		w := tabwriter.NewWriter(&buf, 0, 8, 8, ' ', tabwriter.TabIndent)
		if cmd.HasAvailableSubCommands() {
			fmt.Fprintln(w, "Commands:")
			for _, sub := range cmd.Commands() {
				if !sub.IsAvailableCommand() {
					continue
				}
				fmt.Fprintf(w, "        %s\t%s\n", sub.Name(), sub.Short)
			}
			fmt.Fprintln(w)
		}
		if cmd.HasExample() {
			fmt.Fprintf(w, "Examples:\n%s\n\n", cmd.Example)
		}
		fmt.Fprintln(w, "Options:")
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Hidden {
				return
			}
			flag := "--" + f.Name
			if f.Shorthand != "" {
				flag += ", -" + f.Shorthand
			}
			name, _ := pflag.UnquoteUsage(f)
			if name != "" {
				flag += " " + name
			}
			usage := f.Usage
			if f.DefValue != "" && f.DefValue != "[]" {
				usage += fmt.Sprintf(` (default "%s")`, f.DefValue)
			}
			fmt.Fprintf(w, "        %s\t%s\n", flag, usage)
		})
		w.Flush()
		fmt.Fprintf(out, usageFormat, usageLine(cmd), buf.String())
	}
}

func usageLine(cmd *cobra.Command) string {
	if cmd.HasAvailableSubCommands() {
		return fmt.Sprintf("%s [--help] [--version] <command> [options ...]", cmd.CommandPath())
	}
	return fmt.Sprintf("%s [--help] [options ...]", cmd.CommandPath())
}

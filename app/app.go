// Package app provides the entrypoint for grdisco.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/grdisco/grdisco/config"
	"github.com/grdisco/grdisco/cui"
	"github.com/grdisco/grdisco/discovery"
	"github.com/grdisco/grdisco/meta"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Exit codes returned by Run.
const (
	ExitOK = iota
	// ExitFailure means the operation could not be completed, such as a broken connection.
	ExitFailure
	// ExitUsage means the command line or the config is invalid.
	ExitUsage
)

// App is the root component for running the application.
type App struct {
	cui cui.UI
	cmd *command
}

// Option configures an App.
type Option func(*options)

type options struct {
	discoveryOpts []discovery.Option
}

// WithDiscoveryOptions passes opts to the discoverer of every command.
func WithDiscoveryOptions(opts ...discovery.Option) Option {
	return func(o *options) {
		o.discoveryOpts = append(o.discoveryOpts, opts...)
	}
}

// New instantiates a new App instance. ui must not be a nil.
func New(ui cui.UI, opts ...Option) *App {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var flags flags
	cmd := newRootCommand(&flags, ui, func() *discovery.Discoverer {
		return discovery.New(o.discoveryOpts...)
	})
	return &App{
		cui: ui,
		cmd: cmd,
	}
}

// Run starts the application. The return value means the exit code.
// SIGINT and SIGTERM cancel the running command.
func (a *App) Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.cmd.SetArgs(args)
	err := a.cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	a.cui.Error(fmt.Sprintf("%s: %s", meta.AppName, err))
	return exitCode(err)
}

// usageError represents an invalid command line.
type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func exitCode(err error) int {
	var (
		uerr *usageError
		verr *config.ValidationError
	)
	if errors.As(err, &uerr) || errors.As(err, &verr) {
		return ExitUsage
	}

	switch discovery.KindOf(err) {
	case discovery.KindMissingArgument, discovery.KindInvalidArgument:
		return ExitUsage
	}
	return ExitFailure
}

// printUsage shows the command usage text to cui.Writer. Do not call it before parsing flags.
func printUsage(cmd interface{ Help() error }) {
	_ = cmd.Help() // Help never return errors.
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", meta.AppName, meta.Version.String())
}

// mergedConfig represents the conclusive config. Common config items are stored to *config.Config.
// Flags that can be specified by command line only are represented as fields.
type mergedConfig struct {
	*config.Config

	// Disable colored output even if the config enables it.
	noColor bool
}

func mergeConfig(fs *pflag.FlagSet, flags *flags) (*mergedConfig, error) {
	cfg, err := config.Get(fs, flags.common.config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get config")
	}
	for k, v := range flags.common.header {
		cfg.Request.Header[k] = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &mergedConfig{
		Config:  cfg,
		noColor: flags.meta.noColor,
	}, nil
}

// Package cli implements the staysense command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/staysense/staysense-go/internal/app"
	"github.com/staysense/staysense-go/internal/conf"
	"github.com/staysense/staysense-go/internal/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
	jsonOutput bool

	settings *conf.Settings
	logger   logger.Logger
	appOpts  []app.Option
}

// NewRootCommand builds the command tree. Extra app options are applied to
// every App the commands create.
func NewRootCommand(appOpts ...app.Option) *cobra.Command {
	o := &rootOptions{appOpts: appOpts}

	root := &cobra.Command{
		Use:           "staysense",
		Short:         "Offline-resilient StaySense client",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := conf.Load(o.configPath)
			if err != nil {
				return err
			}
			level := settings.Main.LogLevel
			if o.logLevel != "" {
				level = o.logLevel
			}
			o.settings = settings
			o.logger = logger.NewTextLogger(cmd.ErrOrStderr(), logger.ParseLevel(level))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&o.configPath, "config", "c", "", "path to staysense.yaml")
	flags.StringVar(&o.logLevel, "log-level", "", "override main.log_level (debug, info, warn, error)")
	flags.BoolVar(&o.jsonOutput, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newServeCommand(o),
		newScoreCommand(o),
		newSignalCommand(o),
		newQueueCommand(o),
		newStatusCommand(o),
		newDeviceCommand(o),
		newSettingsCommand(o),
		newConfigCommand(o),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

// withApp builds and starts an App for one command and closes it afterwards.
func (o *rootOptions) withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := app.New(o.settings, o.logger, o.appOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			o.logger.Warn("shutdown incomplete", logger.Error(cerr))
		}
	}()
	if err := a.Start(ctx); err != nil {
		return err
	}
	return fn(a)
}

// print writes v as indented JSON with --json, otherwise calls human.
func (o *rootOptions) print(w io.Writer, v any, human func(io.Writer)) error {
	if o.jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/staysense/staysense-go/internal/app"
	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/settings"
)

func newSettingsCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change user preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd.Context(), func(a *app.App) error {
				return printSettings(o, cmd.OutOrStdout(), a.Preferences.Get())
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "signals on|off",
		Short:     "Turn signal reporting on or off",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch strings.ToLower(args[0]) {
			case "on", "true":
				enabled = true
			case "off", "false":
			default:
				return errors.Newf("expected on or off, got %q", args[0]).
					Component("cli").
					Category(errors.CategoryValidation).
					Build()
			}
			return o.withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Preferences.SetSignalsEnabled(cmd.Context(), enabled); err != nil {
					return err
				}
				return printSettings(o, cmd.OutOrStdout(), a.Preferences.Get())
			})
		},
	})
	return cmd
}

func printSettings(o *rootOptions, w io.Writer, v settings.Values) error {
	return o.print(w, v, func(w io.Writer) {
		fmt.Fprintf(w, "Signals: %s\n", onOff(v.SignalsEnabled))
	})
}

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/staysense/staysense-go/internal/app"
	"github.com/staysense/staysense-go/internal/signalqueue"
)

func newSignalCommand(o *rootOptions) *cobra.Command {
	var coords coordinates
	cmd := &cobra.Command{
		Use:       "signal TYPE",
		Short:     "Report a signal for the spot at a location",
		Long:      "Report a signal (" + strings.Join(signalqueue.KnownSignalTypes, ", ") + ") for the spot at a location. Signals that cannot be delivered are queued.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: signalqueue.KnownSignalTypes,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(a *app.App) error {
				if _, err := coords.load(cmd, a); err != nil {
					return err
				}
				outcome, err := a.Spot.SendSignal(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return o.print(cmd.OutOrStdout(), outcome, func(w io.Writer) {
					fmt.Fprintln(w, outcome.Message)
				})
			})
		},
	}
	coords.register(cmd)
	return cmd
}

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/staysense/staysense-go/internal/app"
)

func newDeviceCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Show the device token, creating it on first use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd.Context(), func(a *app.App) error {
				token, err := a.Identity.DeviceToken(cmd.Context())
				if err != nil {
					return err
				}
				return o.print(cmd.OutOrStdout(), map[string]string{"device_token": token}, func(w io.Writer) {
					fmt.Fprintln(w, token)
				})
			})
		},
	}
}

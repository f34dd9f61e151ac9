package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/staysense/staysense-go/internal/app"
)

func newQueueCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or flush the outbound signal queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued signals in send order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd.Context(), func(a *app.App) error {
				signals := a.Queue.Snapshot()
				return o.print(cmd.OutOrStdout(), signals, func(w io.Writer) {
					if len(signals) == 0 {
						fmt.Fprintln(w, "Queue is empty")
						return
					}
					for _, s := range signals {
						fmt.Fprintf(w, "%s  %-7s spot=%s  %s\n", s.ID, s.SignalType, s.SpotID, s.Timestamp.Local().Format("2006-01-02 15:04:05"))
					}
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Send queued signals now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd.Context(), func(a *app.App) error {
				report, err := a.FlushQueue(cmd.Context())
				if err != nil {
					return err
				}
				return o.print(cmd.OutOrStdout(), report, func(w io.Writer) {
					fmt.Fprintf(w, "Sent %d, dropped %d, still queued %d\n", report.Sent, len(report.Dropped), report.Remaining)
				})
			})
		},
	})
	return cmd
}

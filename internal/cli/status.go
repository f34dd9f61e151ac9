package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/staysense/staysense-go/internal/app"
	"github.com/staysense/staysense-go/internal/monitor"
)

func newStatusCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe the API once and show the client state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd.Context(), func(a *app.App) error {
				a.Monitor.Probe(cmd.Context())
				snap := a.Snapshot(cmd.Context())
				return o.print(cmd.OutOrStdout(), snap, func(w io.Writer) { printStatus(w, snap) })
			})
		},
	}
}

func printStatus(w io.Writer, s app.Snapshot) {
	c := s.Connectivity
	switch c.State {
	case monitor.StateOnline:
		fmt.Fprintf(w, "API:      online (%d ms)\n", c.Latency.Milliseconds())
	case monitor.StateOffline:
		fmt.Fprintf(w, "API:      offline (%s)\n", c.LastError)
	default:
		fmt.Fprintln(w, "API:      unknown")
	}
	if len(c.Freshness.StaleSources) > 0 {
		fmt.Fprintf(w, "Stale:    %v\n", c.Freshness.StaleSources)
	}
	fmt.Fprintf(w, "Queue:    %d signal(s)\n", s.QueueLength)
	fmt.Fprintf(w, "Cache:    %d/%d scores\n", s.CacheSize, s.CacheCapacity)
	fmt.Fprintf(w, "Signals:  %s\n", onOff(s.SignalsEnabled))
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

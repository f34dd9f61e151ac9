package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/staysense/staysense-go/internal/app"
	"github.com/staysense/staysense-go/internal/spot"
)

type coordinates struct {
	lat, lon float64
	here     bool
}

func (c *coordinates) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&c.lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&c.lon, "lon", 0, "longitude")
	cmd.Flags().BoolVar(&c.here, "here", false, "use the configured device position")
	cmd.MarkFlagsRequiredTogether("lat", "lon")
	cmd.MarkFlagsMutuallyExclusive("here", "lat")
	cmd.MarkFlagsOneRequired("here", "lat")
}

func (c *coordinates) load(cmd *cobra.Command, a *app.App) (*spot.ScoreView, error) {
	if c.here {
		return a.Spot.LoadHere(cmd.Context())
	}
	return a.Spot.LoadScore(cmd.Context(), c.lat, c.lon)
}

func newScoreCommand(o *rootOptions) *cobra.Command {
	var coords coordinates
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Show the score for a location, falling back to the cache when offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd.Context(), func(a *app.App) error {
				view, err := coords.load(cmd, a)
				if err != nil {
					return err
				}
				return o.print(cmd.OutOrStdout(), view, func(w io.Writer) { printScore(w, view) })
			})
		},
	}
	coords.register(cmd)
	return cmd
}

func printScore(w io.Writer, v *spot.ScoreView) {
	fmt.Fprintf(w, "Spot:    %s (%s)\n", v.SpotID, v.Key)
	fmt.Fprintf(w, "Score:   %g (%s)\n", v.Summary.Score, v.Summary.Ampel)
	if nw := v.Summary.NightWindow; nw.Start != "" {
		fmt.Fprintf(w, "Night:   %s-%s\n", nw.Start, nw.End)
	}
	if len(v.Summary.Reasons) > 0 {
		fmt.Fprintf(w, "Reasons: %s\n", strings.Join(v.Summary.Reasons, "; "))
	}
	if v.FromCache() {
		fmt.Fprintf(w, "Source:  cache, fetched %s\n", v.FetchedAt.Local().Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintln(w, "Source:  live")
	}
}

package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"binstore/pkg/meta"

	"github.com/spf13/cobra"
)

var (
	lsState string
	lsLimit int
	lsStats bool
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List content recorded in the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if BS == nil {
			return fmt.Errorf("app not initialized")
		}
		if BS.Catalog == nil {
			return fmt.Errorf("catalog disabled (database.driver=none)")
		}
		ctx := cmd.Context()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		defer w.Flush()

		if lsStats {
			stats, err := BS.Catalog.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "STATE\tCOUNT\tBYTES")
			for _, s := range []string{meta.StateLive, meta.StateQuarantined, meta.StateDeleted} {
				fmt.Fprintf(w, "%s\t%d\t%d\n", s, stats[s].Count, stats[s].Bytes)
			}
			return nil
		}

		switch lsState {
		case "", meta.StateLive, meta.StateQuarantined, meta.StateDeleted:
		default:
			return fmt.Errorf("unknown state %q", lsState)
		}
		recs, err := BS.Catalog.List(ctx, lsState, lsLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "KEY\tSIZE\tSTATE\tUPDATED")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.Key, r.Size, r.State, r.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	lsCmd.Flags().StringVar(&lsState, "state", "", "filter by state (live|quarantined|deleted)")
	lsCmd.Flags().IntVar(&lsLimit, "limit", 50, "maximum number of records (0 = all)")
	lsCmd.Flags().BoolVar(&lsStats, "stats", false, "show totals per state")
	rootCmd.AddCommand(lsCmd)
}

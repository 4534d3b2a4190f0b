package commands

import (
	"fmt"

	"binstore/pkg/types"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm [key]...",
	Short: "Mark content as unused",
	Long: `Move content into quarantine. It stays readable (and is restored on access)
until 'binstore gc' removes it after gc.max_age.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if BS == nil {
			return fmt.Errorf("app not initialized")
		}
		keys := make([]types.Key, 0, len(args))
		for _, a := range args {
			k, err := types.ParseKey(a)
			if err != nil {
				return err
			}
			keys = append(keys, k)
		}

		if err := BS.Store.MarkUnused(cmd.Context(), keys); err != nil {
			return fmt.Errorf("rm failed: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Marked %d key(s) unused.\n", len(keys))
		if p, ok := BS.Backend.(interface{ Pending() int }); ok && p.Pending() > 0 {
			fmt.Fprintf(out, "%d key(s) busy, will be quarantined by the next gc.\n", p.Pending())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

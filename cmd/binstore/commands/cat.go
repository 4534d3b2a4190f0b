package commands

import (
	"fmt"
	"io"

	"binstore/pkg/types"

	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat [key]",
	Short: "Write stored content to stdout",
	Long:  `Stream content by key. Quarantined content is restored on access.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if BS == nil {
			return fmt.Errorf("app not initialized")
		}
		key, err := types.ParseKey(args[0])
		if err != nil {
			return err
		}

		rc, err := BS.Store.Get(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("cat failed: %w", err)
		}
		defer rc.Close()

		// 二进制内容可以通过 > file.bin 重定向
		if _, err := io.Copy(cmd.OutOrStdout(), rc); err != nil {
			return fmt.Errorf("cat failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
}

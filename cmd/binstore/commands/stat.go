package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"binstore/pkg/core"
	"binstore/pkg/meta"
	"binstore/pkg/storage"
	"binstore/pkg/types"

	"github.com/spf13/cobra"
)

var statText bool

// locator 由磁盘引擎实现
type locator interface {
	Locate(key types.Key) (path string, quarantined bool, err error)
}

var statCmd = &cobra.Command{
	Use:   "stat [key]",
	Short: "Show where and how content is stored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if BS == nil {
			return fmt.Errorf("app not initialized")
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		key, err := types.ParseKey(args[0])
		if err != nil {
			return err
		}

		ok, err := BS.Store.Has(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		fmt.Fprintf(out, "Key:      %s\n", key)

		size := int64(-1)
		quarantined := false
		if loc, ok := BS.Backend.(locator); ok {
			path, q, err := loc.Locate(key)
			if err != nil {
				return err
			}
			quarantined = q
			if fi, err := os.Stat(path); err == nil {
				size = fi.Size()
			}
			fmt.Fprintf(out, "Path:     %s\n", path)
		}
		state := meta.StateLive
		if quarantined {
			state = meta.StateQuarantined
		}
		fmt.Fprintf(out, "State:    %s\n", state)
		if size >= 0 {
			fmt.Fprintf(out, "Size:     %d\n", size)
		}

		if BS.Catalog != nil {
			rec, err := BS.Catalog.Get(ctx, key)
			switch {
			case errors.Is(err, meta.ErrRecordNotFound):
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "Stored:   %d time(s), %d dedup hit(s)\n", rec.StoredCount, rec.DedupCount)
				fmt.Fprintf(out, "Created:  %s\n", rec.CreatedAt.Format(time.RFC3339))
				if rec.QuarantinedAt != nil {
					fmt.Fprintf(out, "Unused:   %s\n", rec.QuarantinedAt.Format(time.RFC3339))
				}
			}
		}

		// 读取会复活隔离区中的内容，stat 不应该有这个副作用
		if quarantined {
			return nil
		}
		h := core.NewStored(key, size, BS.Store)
		if mt, err := h.MimeType(ctx, BS.Detector, ""); err == nil {
			fmt.Fprintf(out, "MIME:     %s\n", mt)
		}
		if statText {
			if text, ok := BS.Store.ExtractText(ctx, h); ok {
				fmt.Fprintf(out, "\n%s\n", text)
			}
		}
		return nil
	},
}

func init() {
	statCmd.Flags().BoolVar(&statText, "text", false, "print extracted text for text-like content")
	rootCmd.AddCommand(statCmd)
}

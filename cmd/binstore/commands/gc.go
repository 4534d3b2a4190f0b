package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"binstore/pkg/config"
	"binstore/pkg/metrics"

	"github.com/spf13/cobra"
)

var (
	gcOlderThan time.Duration
	gcWatch     bool
	gcInterval  time.Duration
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Permanently remove content that has been unused long enough",
	Long: `Delete quarantined content older than --older-than (default gc.max_age).
With --watch, keep sweeping every --interval until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if BS == nil {
			return fmt.Errorf("app not initialized")
		}
		gcCfg := config.GC()
		olderThan := gcOlderThan
		if !cmd.Flags().Changed("older-than") {
			olderThan = gcCfg.MaxAge
		}
		interval := gcInterval
		if !cmd.Flags().Changed("interval") {
			interval = gcCfg.Interval
		}

		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if !gcWatch {
			return sweep(ctx, out, olderThan)
		}
		if interval <= 0 {
			return fmt.Errorf("gc interval must be positive, got %s", interval)
		}

		if BS.Registry != nil {
			stop := serveMetrics(config.Metrics().Listen)
			defer stop()
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := sweep(ctx, out, olderThan); err != nil {
				// 单次失败不终止守护循环，下一轮重试
				BS.Logger.Warn("sweep failed", "err", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

func sweep(ctx context.Context, out io.Writer, olderThan time.Duration) error {
	res, err := BS.Store.SweepUnused(ctx, olderThan)
	fmt.Fprintf(out, "Swept %d object(s), %d bytes freed, %d skipped\n", len(res.Removed), res.Bytes, res.Skipped)
	return err
}

func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(BS.Registry))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			BS.Logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func init() {
	gcCmd.Flags().DurationVar(&gcOlderThan, "older-than", 24*time.Hour, "minimum time in quarantine before deletion")
	gcCmd.Flags().BoolVar(&gcWatch, "watch", false, "keep sweeping periodically")
	gcCmd.Flags().DurationVar(&gcInterval, "interval", time.Hour, "sweep period with --watch")
	rootCmd.AddCommand(gcCmd)
}

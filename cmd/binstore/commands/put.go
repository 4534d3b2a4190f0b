package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"binstore/pkg/core"
	"binstore/pkg/ignore"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	putJobs     int
	putExcludes []string
)

type putResult struct {
	path   string
	handle *core.Handle
}

var putCmd = &cobra.Command{
	Use:   "put [file|dir]...",
	Short: "Store files by content",
	Long: `Store each file and print its content key. Directories are walked recursively;
.binstoreignore and --exclude rules are applied relative to each directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if BS == nil {
			return fmt.Errorf("app not initialized")
		}
		out := cmd.OutOrStdout()
		start := time.Now()

		// 1. 收集文件
		var files []string
		for _, target := range args {
			found, err := collectFiles(target, putExcludes)
			if err != nil {
				return err
			}
			files = append(files, found...)
		}
		if len(files) == 0 {
			fmt.Fprintln(out, "No files to store.")
			return nil
		}

		// 2. 并发存储。相同内容的并发写由存储的锁串行化
		results := make([]putResult, len(files))
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(max(putJobs, 1))
		for i, path := range files {
			g.Go(func() error {
				h, err := putFile(ctx, path)
				if err != nil {
					return fmt.Errorf("failed to store %s: %w", path, err)
				}
				results[i] = putResult{path: path, handle: h}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		// 3. 按输入顺序输出
		var total int64
		for _, r := range results {
			fmt.Fprintf(out, "%s  %10d  %-6s  %s\n", r.handle.Key(), r.handle.Size(), r.handle.Kind(), r.path)
			total += r.handle.Size()
		}
		fmt.Fprintf(out, "Stored %d files (%d bytes) in %s\n", len(results), total, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func putFile(ctx context.Context, path string) (*core.Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return BS.Store.Put(ctx, f)
}

// collectFiles 展开目录，跳过被忽略的路径
func collectFiles(target string, excludes []string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{target}, nil
	}

	matcher, err := ignore.NewMatcher(target, excludes...)
	if err != nil {
		return nil, fmt.Errorf("failed to load ignore rules: %w", err)
	}

	var files []string
	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(target, path)
		if err != nil {
			return err
		}
		if matcher.Matches(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk failed: %w", err)
	}
	return files, nil
}

func init() {
	putCmd.Flags().IntVarP(&putJobs, "jobs", "j", runtime.NumCPU(), "number of files stored in parallel")
	putCmd.Flags().StringSliceVar(&putExcludes, "exclude", nil, "extra ignore patterns (gitignore syntax)")
	rootCmd.AddCommand(putCmd)
}

package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"binstore/pkg/config"

	"github.com/spf13/cobra"
)

const defaultConfig = `# binstore configuration
storage:
  type: disk
  digest: sha256
  min_persisted_size: 4096
gc:
  max_age: 24h
database:
  driver: sqlite
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a binstore repository",
	Long:  `Create an empty binstore repository (.binstore) in the current directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		// 1. 存储目录
		objectsPath := config.Storage().Path
		repoPath := filepath.Dir(objectsPath)

		// 2. 检查是否已存在
		if _, err := os.Stat(objectsPath); err == nil {
			fmt.Fprintf(out, "binstore repository already exists in %s\n", repoPath)
			return nil
		}

		// 3. 创建目录结构
		if err := os.MkdirAll(objectsPath, 0o755); err != nil {
			return fmt.Errorf("failed to create repo directory: %w", err)
		}

		// 4. 写一份默认配置 (不覆盖已有的)
		cfgPath := filepath.Join(repoPath, "config.yaml")
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if err := os.WriteFile(cfgPath, []byte(defaultConfig), 0o644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
		}

		fmt.Fprintf(out, "Initialized empty binstore repository in %s\n", repoPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

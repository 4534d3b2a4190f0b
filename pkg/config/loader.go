package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 BINSTORE_STORAGE_PATH
const EnvPrefix = "BINSTORE"

// RepoDirName 默认的存储目录名
const RepoDirName = ".binstore"

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：当前目录 -> ./.binstore -> ~/.binstore
		viper.AddConfigPath(".")
		viper.AddConfigPath(RepoDirName)
		viper.AddConfigPath(filepath.Join(home, RepoDirName))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (BINSTORE_STORAGE_PATH 等)
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件。没找到不算错，格式错才是错
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("fatal error config file: %w", err)
		}
		slog.Debug("no config file found, using defaults/env vars")
	} else {
		slog.Debug("using config file", slog.String("path", viper.ConfigFileUsed()))
	}
	return nil
}

func setDefaults() {
	wd, _ := os.Getwd()
	repo := filepath.Join(wd, RepoDirName)

	// 存储
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(repo, "objects"))
	viper.SetDefault("storage.digest", "sha256")
	viper.SetDefault("storage.min_persisted_size", 4096)
	viper.SetDefault("storage.shard_depth", 3)
	viper.SetDefault("storage.shard_width", 2)

	// 锁与回收
	viper.SetDefault("lock.timeout", "30s")
	viper.SetDefault("gc.max_age", "24h")
	viper.SetDefault("gc.interval", "1h")

	// 对象存储
	viper.SetDefault("s3.region", "us-east-1")

	// 缓存
	viper.SetDefault("redis.ttl", "24h")

	// 目录数据库
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", filepath.Join(repo, "catalog.db"))
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	// 指标
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", ":9090")
}

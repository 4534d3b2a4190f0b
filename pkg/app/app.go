// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"binstore/pkg/config"
	"binstore/pkg/core"
	"binstore/pkg/extract"
	"binstore/pkg/lock"
	"binstore/pkg/meta"
	"binstore/pkg/metrics"
	"binstore/pkg/storage"
	"binstore/pkg/storage/cache"
	"binstore/pkg/storage/disk"
	"binstore/pkg/storage/s3"

	"github.com/prometheus/client_golang/prometheus"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务
type App struct {
	// Store 是对外使用的存储 (可能被 Redis 缓存装饰)
	Store storage.Store
	// Backend 是未装饰的引擎，用于 stat 之类需要引擎细节的命令
	Backend storage.Store

	Catalog  *meta.Catalog // database.driver=none 时为 nil
	Metrics  *metrics.StoreMetrics
	Registry *prometheus.Registry
	Detector core.Detector

	RepoPath string
	Logger   *slog.Logger

	closers []func() error
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. 获取存储根路径
	storePath := config.Storage().Path
	if storePath == "" {
		return nil, fmt.Errorf("storage path not set")
	}
	// storePath: .../.binstore/objects
	// repoPath:  .../.binstore
	repoPath := filepath.Dir(storePath)

	a := &App{
		RepoPath: repoPath,
		Logger:   logger,
		Detector: extract.MimeDetector{},
	}

	// 2. 观察者：目录 + 指标
	var observers storage.Observers
	if dbCfg := config.Database(); dbCfg.Driver != "none" {
		db, err := meta.NewDB(ctx, meta.Config{
			Driver:   dbCfg.Driver,
			Path:     dbCfg.Path,
			Host:     dbCfg.Host,
			Port:     dbCfg.Port,
			User:     dbCfg.User,
			Password: dbCfg.Password,
			DBName:   dbCfg.DBName,
			SSLMode:  dbCfg.SSLMode,
			Debug:    dbCfg.Debug,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init catalog: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.Catalog = meta.NewCatalog(db, logger)
		observers = append(observers, a.Catalog)
	}
	if config.Metrics().Enabled {
		a.Registry = prometheus.NewRegistry()
		a.Metrics = metrics.New(a.Registry)
		observers = append(observers, a.Metrics)
	}

	// 3. 初始化存储层 (Dependency Injection)
	backend, err := initStore(ctx, repoPath, logger, observers)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Backend, a.Store = backend, backend

	// 4. 可选的 Redis 存在性缓存
	if redisCfg := config.Redis(); redisCfg.URL != "" {
		cached, err := cache.NewCachedStore(backend, cache.Config{
			RedisURL: redisCfg.URL,
			TTL:      redisCfg.TTL,
			Logger:   logger,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, cached.Close)
		a.Store = cached
	}

	return a, nil
}

// Close 释放数据库和 Redis 连接
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// initStore 按 storage.type 选择引擎
func initStore(ctx context.Context, repoPath string, logger *slog.Logger, observer storage.Observer) (storage.Store, error) {
	cfg := config.Storage()
	layout := storage.Layout{Depth: cfg.ShardDepth, Width: cfg.ShardWidth}
	// 两个都没配置时用默认布局
	if cfg.ShardDepth == 0 && cfg.ShardWidth == 0 {
		layout = storage.DefaultLayout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = storage.Observers(nil)
	}

	switch cfg.Type {
	case "disk", "":
		store, err := disk.NewAdapter(disk.Config{
			Root:                 cfg.Path,
			TempDir:              cfg.TempDir,
			Digest:               core.Digest(cfg.Digest),
			Layout:               layout,
			MinimumPersistedSize: cfg.MinPersistedSize,
			LockTimeout:          config.LockTimeout(),
			Locks:                lock.NewRegistry(logger),
			Logger:               logger,
			Observer:             observer,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init storage: %w", err)
		}
		store.SetExtractor(extract.TextExtractor{})
		store.SetDetector(extract.MimeDetector{})
		return store, nil

	case "s3":
		s3Cfg := config.S3()
		if s3Cfg.Bucket == "" {
			return nil, fmt.Errorf("s3 bucket is required")
		}
		lockDir := s3Cfg.LockDir
		if lockDir == "" {
			lockDir = filepath.Join(repoPath, storage.LocksDir)
		}
		store, err := s3.NewAdapter(ctx, s3.Config{
			Endpoint:             s3Cfg.Endpoint,
			Region:               s3Cfg.Region,
			Bucket:               s3Cfg.Bucket,
			AccessKeyID:          s3Cfg.AccessKeyID,
			SecretAccessKey:      s3Cfg.SecretAccessKey,
			TempDir:              cfg.TempDir,
			LockDir:              lockDir,
			Digest:               core.Digest(cfg.Digest),
			Layout:               layout,
			MinimumPersistedSize: cfg.MinPersistedSize,
			LockTimeout:          config.LockTimeout(),
			Logger:               logger,
			Observer:             observer,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init s3 storage: %w", err)
		}
		store.SetExtractor(extract.TextExtractor{})
		store.SetDetector(extract.MimeDetector{})
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %q", cfg.Type)
	}
}

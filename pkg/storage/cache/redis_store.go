package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"binstore/pkg/core"
	"binstore/pkg/storage"
	"binstore/pkg/types"

	"github.com/redis/go-redis/v9"
)

// CachedStore 是一个装饰器，它为底层的 storage.Store 添加 Redis 存在性缓存
type CachedStore struct {
	storage.Store               // 被装饰的底层存储，未覆盖的方法直接透传
	client        *redis.Client // Redis 客户端
	ttl           time.Duration // 缓存过期时间 (例如 24h)
	logger        *slog.Logger
}

var _ storage.Store = (*CachedStore)(nil)

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
	Logger   *slog.Logger
}

func NewCachedStore(backend storage.Store, cfg Config) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{
		Store:  backend,
		client: client,
		ttl:    cfg.TTL,
		logger: logger.With(slog.String("cache", "redis")),
	}, nil
}

// Close 关闭 Redis 连接
func (s *CachedStore) Close() error {
	return s.client.Close()
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *CachedStore) cacheKey(key types.Key) string {
	return "binstore:key:" + key.String()
}

// Has 优先查 Redis
func (s *CachedStore) Has(ctx context.Context, key types.Key) (bool, error) {
	ck := s.cacheKey(key)

	// 1. 查 Redis。Exists 返回 1 表示存在
	val, err := s.client.Exists(ctx, ck).Result()
	if err != nil {
		// 缓存故障降级：退化为无缓存模式，直接查底层
		s.logger.Warn("redis exists failed", slog.Any("err", err))
	} else if val > 0 {
		return true, nil
	}

	// 2. 缓存未命中，查底层存储
	found, err := s.Store.Has(ctx, key)
	if err != nil {
		return false, err
	}

	// 3. 异步回填，不阻塞主流程。
	// 使用 context.Background() 确保即使上层 ctx 取消，回填也能完成
	if found {
		go func() {
			fillCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.client.Set(fillCtx, ck, "1", s.ttl)
		}()
	}
	return found, nil
}

// Put 穿透到底层存储，只有落盘的内容才写缓存
func (s *CachedStore) Put(ctx context.Context, r io.Reader) (*core.Handle, error) {
	h, err := s.Store.Put(ctx, r)
	if err != nil {
		return nil, err
	}
	if !h.IsInline() {
		// Set 错误可以忽略，不影响主流程
		if err := s.client.Set(ctx, s.cacheKey(h.Key()), "1", s.ttl).Err(); err != nil {
			s.logger.Warn("redis set failed", slog.Any("err", err))
		}
	}
	return h, nil
}

// SweepUnused 被物理删除的内容同时从缓存中移除
func (s *CachedStore) SweepUnused(ctx context.Context, olderThan time.Duration) (storage.SweepResult, error) {
	res, err := s.Store.SweepUnused(ctx, olderThan)
	if len(res.Removed) > 0 {
		keys := make([]string, len(res.Removed))
		for i, k := range res.Removed {
			keys[i] = s.cacheKey(k)
		}
		if derr := s.client.Del(ctx, keys...).Err(); derr != nil {
			s.logger.Warn("redis del failed", slog.Any("err", derr))
		}
	}
	return res, err
}

// Get 透传 - 我们不缓存内容本身，Redis 内存只存存在性
func (s *CachedStore) Get(ctx context.Context, key types.Key) (io.ReadCloser, error) {
	return s.Store.Get(ctx, key)
}

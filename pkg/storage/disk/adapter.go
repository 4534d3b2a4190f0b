package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"binstore/pkg/core"
	"binstore/pkg/lock"
	"binstore/pkg/storage"
	"binstore/pkg/types"
)

const dirPerm = 0o755

// Config 用于初始化 Adapter
type Config struct {
	Root    string // 比如: /var/lib/binstore
	TempDir string // 为空时使用 <Root>/tmp；放在其他设备上时发布会走拷贝回退路径

	Digest               core.Digest    // 为空时使用 sha256
	Layout               storage.Layout // 零值使用 storage.DefaultLayout
	MinimumPersistedSize int64          // <= 0 使用默认值 4096
	LockTimeout          time.Duration  // 阻塞加锁的超时，0 表示一直等

	// Locks 必须被同一存储根目录上的所有 Adapter 共享；为 nil 时新建一个私有的
	Locks    *lock.Registry
	Logger   *slog.Logger
	Observer storage.Observer
	Clock    func() time.Time
}

// Adapter 实现了 storage.Store 接口：分片目录 + 去重 + 隔离区延迟删除
type Adapter struct {
	storage.Base

	root  string // 比如: /var/lib/binstore
	trash string // <root>/trash
	temp  string
	locks string // <root>/locks

	digest      core.Digest
	layout      storage.Layout
	registry    *lock.Registry
	lockTimeout time.Duration
	observer    storage.Observer
	now         func() time.Time

	// 因锁竞争没能隔离的 Key，下次 MarkUnused / SweepUnused 时重试
	pending storage.Pending
}

var _ storage.Store = (*Adapter)(nil)

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("storage root not set")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	digest := cfg.Digest
	if digest == "" {
		digest = core.DefaultDigest
	}
	// 摘要算法不可用是致命的配置错误，在构造时就失败
	if err := digest.Validate(); err != nil {
		return nil, err
	}

	layout := cfg.Layout
	if layout == (storage.Layout{}) {
		layout = storage.DefaultLayout
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	// 确保根目录存在
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}

	temp := cfg.TempDir
	if temp == "" {
		temp = filepath.Join(root, storage.TempDir)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("store", "disk"))

	registry := cfg.Locks
	if registry == nil {
		registry = lock.NewRegistry(logger)
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	a := &Adapter{
		root:        root,
		trash:       filepath.Join(root, storage.TrashDir),
		temp:        temp,
		locks:       filepath.Join(root, storage.LocksDir),
		digest:      digest,
		layout:      layout,
		registry:    registry,
		lockTimeout: cfg.LockTimeout,
		observer:    cfg.Observer,
		now:         now,
	}
	a.Base.Init(cfg.MinimumPersistedSize, logger)
	return a, nil
}

func (s *Adapter) Root() string        { return s.root }
func (s *Adapter) Digest() core.Digest { return s.digest }

// livePath 返回 Key 对应的物理路径
// Example (默认布局): "aabbccdd..." -> root/aa/bb/cc/aabbccdd...
func (s *Adapter) livePath(key types.Key) string {
	return filepath.Join(append([]string{s.root}, s.layout.Segments(key)...)...)
}

// trashPath 隔离区使用同样的分片
func (s *Adapter) trashPath(key types.Key) string {
	return filepath.Join(append([]string{s.trash}, s.layout.Segments(key)...)...)
}

// lockPath 锁以摘要字符串为名，而不是内容路径：它保护的是“发布同一份内容”这件事
func (s *Adapter) lockPath(key types.Key) string {
	return filepath.Join(append([]string{s.locks}, s.layout.LockSegments(key)...)...)
}

// Locate 返回内容当前的物理位置，以及它是否在隔离区
func (s *Adapter) Locate(key types.Key) (string, bool, error) {
	live := s.livePath(key)
	if ok, err := exists(live); err != nil || ok {
		return live, false, err
	}
	trash := s.trashPath(key)
	if ok, err := exists(trash); err != nil || ok {
		return trash, true, err
	}
	return "", false, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
}

// Put 存储一个字节流
func (s *Adapter) Put(ctx context.Context, r io.Reader) (*core.Handle, error) {
	// 1. 边写临时文件边计算摘要，此时 Key 未知，不需要锁
	sp, err := storage.Spool(ctx, r, s.digest, s.temp)
	if err != nil {
		return nil, err
	}
	// 无论成功失败都清理临时文件 (如果 Rename 成功了，这个删除是无害的)
	defer sp.Remove(s.Logger)

	// 2. 小内容不进入存储，也不碰任何锁
	if sp.Size < s.MinimumPersistedSize() {
		data, err := sp.ReadAll()
		if err != nil {
			return nil, err
		}
		s.observe(ctx, storage.EventInlined, sp.Key, sp.Size)
		return core.NewInline(sp.Key, data), nil
	}

	// 3. 准备目录
	dest := s.livePath(sp.Key)
	if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		return nil, storage.Failure("create shard dir", sp.Key, err)
	}

	// 4. 串行化同一内容的并发发布者
	l, err := s.acquireWrite(ctx, sp.Key)
	if err != nil {
		return nil, err
	}
	defer s.release(l)

	// 5. 已经存在：去重命中
	switch ok, err := exists(dest); {
	case err != nil:
		return nil, storage.Failure("stat", sp.Key, err)
	case ok:
		s.Logger.Debug("dedup hit", slog.String("key", sp.Key.String()))
		s.observe(ctx, storage.EventDeduplicated, sp.Key, sp.Size)
		return core.NewStored(sp.Key, sp.Size, s), nil
	}

	// 在隔离区里：复活它，而不是重新写一份
	restored, err := s.restoreLocked(ctx, sp.Key)
	if err != nil {
		return nil, err
	}
	if !restored {
		// 6. 原子发布
		if err := s.move(sp.Path, dest); err != nil {
			return nil, err
		}
		s.observe(ctx, storage.EventStored, sp.Key, sp.Size)
	}

	return core.NewStored(sp.Key, sp.Size, s), nil
}

// Get 返回一个惰性加锁的流：第一次 Read 时才拿读锁，Close 时释放
func (s *Adapter) Get(ctx context.Context, key types.Key) (io.ReadCloser, error) {
	if err := s.ensureLive(ctx, key); err != nil {
		return nil, err
	}
	return &reader{s: s, ctx: ctx, key: key}, nil
}

// Has 检查内容是否存在于存活区或隔离区
func (s *Adapter) Has(ctx context.Context, key types.Key) (bool, error) {
	for _, p := range []string{s.livePath(key), s.trashPath(key)} {
		ok, err := exists(p)
		if err != nil {
			return false, storage.Failure("stat", key, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// ensureLive 确认内容在存活区；如果在隔离区，在写锁下把它移回来
func (s *Adapter) ensureLive(ctx context.Context, key types.Key) error {
	if ok, err := exists(s.livePath(key)); err != nil {
		return storage.Failure("stat", key, err)
	} else if ok {
		return nil
	}
	if ok, err := exists(s.trashPath(key)); err != nil {
		return storage.Failure("stat", key, err)
	} else if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}

	l, err := s.acquireWrite(ctx, key)
	if err != nil {
		return err
	}
	defer s.release(l)

	// 加锁后重新检查：可能别人已经复活或者清扫了它
	if ok, err := exists(s.livePath(key)); err != nil {
		return storage.Failure("stat", key, err)
	} else if ok {
		return nil
	}
	restored, err := s.restoreLocked(ctx, key)
	if err != nil {
		return err
	}
	if !restored {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return nil
}

// restoreLocked 调用方必须持有 key 的写锁
func (s *Adapter) restoreLocked(ctx context.Context, key types.Key) (bool, error) {
	src := s.trashPath(key)
	fi, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, storage.Failure("stat", key, err)
	}

	dst := s.livePath(key)
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return false, storage.Failure("create shard dir", key, err)
	}
	if err := s.move(src, dst); err != nil {
		return false, err
	}
	s.prune(filepath.Dir(src), s.trash)

	s.Logger.Info("restored from quarantine", slog.String("key", key.String()))
	s.observe(ctx, storage.EventRestored, key, fi.Size())
	return true, nil
}

func (s *Adapter) acquireWrite(ctx context.Context, key types.Key) (*lock.Lock, error) {
	ctx, cancel := s.lockContext(ctx)
	defer cancel()
	l, err := s.registry.AcquireWriteContext(ctx, s.lockPath(key))
	return l, s.lockError(key, err)
}

func (s *Adapter) acquireRead(ctx context.Context, key types.Key) (*lock.Lock, error) {
	ctx, cancel := s.lockContext(ctx)
	defer cancel()
	l, err := s.registry.AcquireReadContext(ctx, s.lockPath(key))
	return l, s.lockError(key, err)
}

func (s *Adapter) lockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.lockTimeout > 0 {
		return context.WithTimeout(ctx, s.lockTimeout)
	}
	return ctx, func() {}
}

// lockError 超时和竞争保持原样 (可重试)，其余归为 ErrStoreFailure
func (s *Adapter) lockError(key types.Key, err error) error {
	if err == nil || storage.IsRetryable(err) {
		return err
	}
	return storage.Failure("lock", key, err)
}

func (s *Adapter) release(l *lock.Lock) {
	if err := l.Release(); err != nil {
		s.Logger.Warn("failed to release lock", slog.String("path", l.Path()), slog.Any("err", err))
	}
}

func (s *Adapter) observe(ctx context.Context, kind storage.EventKind, key types.Key, size int64) {
	if s.observer == nil {
		return
	}
	s.observer.Observe(ctx, storage.Event{Kind: kind, Key: key, Size: size, At: s.now()})
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Package lock 提供跨线程 + 跨进程的命名读写锁。
//
// 进程内用 sync.RWMutex 做互斥，进程间用操作系统文件锁 (flock / LockFileEx)。
// 同一个路径在一个 Registry 里只对应一个 holder，也只会打开一个 OS 锁，
// 这样同一进程内的多个读者共享同一个 OS 共享锁，而不会因为多次打开同一文件而互相阻塞。
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrWouldBlock 非阻塞获取失败：锁正被占用。这不是 I/O 错误，调用方稍后重试即可。
	ErrWouldBlock = errors.New("lock would block")
	// ErrTimeout 阻塞获取在 context 到期前没有拿到锁
	ErrTimeout = errors.New("lock acquisition timed out")
	// ErrUnsupported 当前平台或文件系统不支持 OS 级文件锁
	ErrUnsupported = errors.New("file locking not supported")
)

// FileSuffix 以此结尾的路径被视为临时锁文件：最后一个释放者在能证明独占时会删除它
const FileSuffix = ".lock"

const (
	minPoll = 2 * time.Millisecond
	maxPoll = 100 * time.Millisecond
)

// Registry 管理 path -> holder 的映射。
// 同一个存储根目录上的所有锁必须走同一个 Registry 才能互相可见。
type Registry struct {
	mu      sync.Mutex // master mutex，只保护 holders 和 refs，从不跨 I/O 持有
	holders map[string]*holder
	logger  *slog.Logger
}

// NewRegistry 创建一个新的锁注册表。logger 为 nil 时使用 slog.Default()。
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		holders: make(map[string]*holder),
		logger:  logger,
	}
}

// Lock 是一次成功获取的凭证。它只记录 path (holder 的 id)，释放时交回 Registry。
type Lock struct {
	reg       *Registry
	path      string
	exclusive bool
	released  atomic.Bool
}

func (l *Lock) Path() string    { return l.path }
func (l *Lock) Exclusive() bool { return l.exclusive }

// Release 释放进程内锁；如果是最后一个持有者，同时释放 OS 锁并关闭文件。
// 重复调用是安全的。
func (l *Lock) Release() error {
	if !l.released.CompareAndSwap(false, true) {
		return nil
	}
	return l.reg.release(l.path, l.exclusive)
}

// AcquireWrite 阻塞直到拿到独占锁
func (r *Registry) AcquireWrite(path string) (*Lock, error) {
	return r.acquire(path, true, true)
}

// AcquireRead 阻塞直到拿到共享锁
func (r *Registry) AcquireRead(path string) (*Lock, error) {
	return r.acquire(path, false, true)
}

// TryAcquireWrite 立即返回；锁不可用时返回 ErrWouldBlock
func (r *Registry) TryAcquireWrite(path string) (*Lock, error) {
	return r.acquire(path, true, false)
}

// TryAcquireRead 立即返回；锁不可用时返回 ErrWouldBlock
func (r *Registry) TryAcquireRead(path string) (*Lock, error) {
	return r.acquire(path, false, false)
}

// AcquireWriteContext 带超时/取消的阻塞获取。到期返回 ErrTimeout。
func (r *Registry) AcquireWriteContext(ctx context.Context, path string) (*Lock, error) {
	return r.acquireContext(ctx, path, true)
}

// AcquireReadContext 带超时/取消的阻塞获取。到期返回 ErrTimeout。
func (r *Registry) AcquireReadContext(ctx context.Context, path string) (*Lock, error) {
	return r.acquireContext(ctx, path, false)
}

// Len 返回当前存活的 holder 数量 (诊断 / 测试用)
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders)
}

func (r *Registry) acquireContext(ctx context.Context, path string, exclusive bool) (*Lock, error) {
	// 没有截止时间也不能取消：直接走普通的阻塞路径
	if ctx.Done() == nil {
		return r.acquire(path, exclusive, true)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, timeoutError(abs, err)
	}

	h := r.claim(abs)

	// 1. 进程内锁在 goroutine 里真正排队：等待中的写者会挡住新的读者。
	// 超时后由这个 goroutine 在拿到锁之后立刻归还，并撤销引用。
	acquired := make(chan struct{})
	go func() {
		h.lockRW(exclusive)
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-ctx.Done():
		go func() {
			<-acquired
			h.unlockRW(exclusive)
			r.unclaim(abs)
		}()
		return nil, timeoutError(abs, ctx.Err())
	}

	// 2. OS 锁：被其他进程占用时轮询，直到 ctx 到期
	wait := minPoll
	for {
		err := h.lockOS(exclusive, false)
		if err == nil {
			return &Lock{reg: r, path: abs, exclusive: exclusive}, nil
		}
		if !errors.Is(err, ErrWouldBlock) {
			h.unlockRW(exclusive)
			r.unclaim(abs)
			r.logger.Warn("lock: os lock failed", slog.String("path", abs), slog.Any("err", err))
			return nil, err
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			h.unlockRW(exclusive)
			r.unclaim(abs)
			return nil, timeoutError(abs, ctx.Err())
		case <-t.C:
		}
		wait = min(wait*2, maxPoll)
	}
}

func timeoutError(path string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrTimeout, path, cause)
}

func (r *Registry) acquire(path string, exclusive, block bool) (*Lock, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	// 1. 在 master mutex 下 lookup-or-create + 引用计数
	h := r.claim(abs)

	// 2. 在 master mutex 之外获取进程内锁，竞争中的 path 不会拖慢其他 path
	if block {
		h.lockRW(exclusive)
	} else if !h.tryLockRW(exclusive) {
		r.unclaim(abs)
		return nil, ErrWouldBlock
	}

	// 3. OS 级锁。失败时回滚本次获取的所有进程内状态
	if err := h.lockOS(exclusive, block); err != nil {
		h.unlockRW(exclusive)
		r.unclaim(abs)
		if !errors.Is(err, ErrWouldBlock) {
			r.logger.Warn("lock: os lock failed", slog.String("path", abs), slog.Any("err", err))
		}
		return nil, err
	}

	return &Lock{reg: r, path: abs, exclusive: exclusive}, nil
}

func (r *Registry) release(path string, exclusive bool) error {
	r.mu.Lock()
	h := r.holders[path]
	r.mu.Unlock()
	if h == nil {
		// 只有 Registry 自身有 bug 时才会发生
		return fmt.Errorf("lock %s: no holder registered", path)
	}

	var err error
	if exclusive {
		err = h.releaseExclusive(r.logger)
	} else {
		err = h.releaseShared(r.logger)
	}
	h.unlockRW(exclusive)
	r.unclaim(path)

	if err != nil {
		return fmt.Errorf("unlock %s: %w", path, err)
	}
	return nil
}

func (r *Registry) claim(path string) *holder {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.holders[path]
	if !ok {
		h = &holder{path: path}
		r.holders[path] = h
	}
	h.refs++
	return h
}

func (r *Registry) unclaim(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.holders[path]
	if !ok {
		return
	}
	h.refs--
	if h.refs == 0 {
		delete(r.holders, path)
	}
}

func isEphemeral(path string) bool {
	return strings.HasSuffix(path, FileSuffix)
}

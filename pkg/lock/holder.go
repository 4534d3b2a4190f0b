package lock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// 锁文件在加锁后被别人替换 (删除 + 重建) 时的最大重开次数
const maxReopen = 16

// holder 是一个 path 在进程内的全部锁状态
type holder struct {
	path string
	refs int // 受 Registry.mu 保护

	rw sync.RWMutex

	// osMu 只保护下面两个字段，与 rw 相互独立，
	// 这样创建 OS 锁的簿记永远不会和读写锁本身死锁
	osMu    sync.Mutex
	file    *os.File
	readers int
}

func (h *holder) lockRW(exclusive bool) {
	if exclusive {
		h.rw.Lock()
	} else {
		h.rw.RLock()
	}
}

func (h *holder) tryLockRW(exclusive bool) bool {
	if exclusive {
		return h.rw.TryLock()
	}
	return h.rw.TryRLock()
}

func (h *holder) unlockRW(exclusive bool) {
	if exclusive {
		h.rw.Unlock()
	} else {
		h.rw.RUnlock()
	}
}

func (h *holder) lockOS(exclusive, block bool) error {
	if exclusive {
		return h.lockExclusive(block)
	}
	return h.lockShared(block)
}

// lockExclusive 调用方已经持有 rw 写锁，因此不会有其他进程内竞争者
func (h *holder) lockExclusive(block bool) error {
	h.osMu.Lock()
	defer h.osMu.Unlock()

	if h.file != nil {
		return fmt.Errorf("lock %s: os lock still open", h.path)
	}
	f, err := openLocked(h.path, true, block)
	if err != nil {
		return err
	}
	h.file = f
	return nil
}

// lockShared 第一个读者创建共享 OS 锁，后续读者只增加计数
func (h *holder) lockShared(block bool) error {
	if block {
		h.osMu.Lock()
	} else if !h.osMu.TryLock() {
		// 另一个读者正在建立 OS 锁 (可能正被其他进程阻塞)
		return ErrWouldBlock
	}
	defer h.osMu.Unlock()

	if h.file == nil {
		f, err := openLocked(h.path, false, block)
		if err != nil {
			return err
		}
		h.file = f
	}
	h.readers++
	return nil
}

func (h *holder) releaseExclusive(logger *slog.Logger) error {
	h.osMu.Lock()
	defer h.osMu.Unlock()

	f := h.file
	h.file = nil
	if f == nil {
		return nil
	}
	// 持有独占锁时删除，其他进程拿到的旧 inode 会在 sameFile 检查中被识破
	if isEphemeral(h.path) {
		removeLockFile(h.path, logger)
	}
	return closeLocked(f)
}

func (h *holder) releaseShared(logger *slog.Logger) error {
	h.osMu.Lock()
	defer h.osMu.Unlock()

	h.readers--
	if h.readers > 0 {
		return nil
	}
	f := h.file
	h.file = nil
	if f == nil {
		return nil
	}
	// 最后一个读者：如果能非阻塞地升级为独占锁，说明没有其他进程在用，可以清理锁文件
	if isEphemeral(h.path) && flock(f, true, false) == nil {
		removeLockFile(h.path, logger)
	}
	return closeLocked(f)
}

func removeLockFile(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Debug("lock: failed to remove lock file", slog.String("path", path), slog.Any("err", err))
	}
}

// openLocked 打开 path 并加 OS 锁。
// 加锁之后确认 fd 仍然指向 path 上的文件；如果文件在等待期间被删除重建，则重试。
func openLocked(path string, exclusive, block bool) (*os.File, error) {
	flag := os.O_RDONLY | os.O_CREATE
	if exclusive {
		flag = os.O_RDWR | os.O_CREATE
	}

	for attempt := 0; attempt < maxReopen; attempt++ {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		f, err := os.OpenFile(path, flag, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// 父目录刚被并发清理掉
				continue
			}
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if err := flock(f, exclusive, block); err != nil {
			_ = f.Close()
			return nil, err
		}
		if sameFile(f, path) {
			return f, nil
		}
		_ = closeLocked(f)
	}
	return nil, fmt.Errorf("lock %s: lock file kept being replaced", path)
}

func sameFile(f *os.File, path string) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	pi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(fi, pi)
}

func closeLocked(f *os.File) error {
	return errors.Join(funlock(f), f.Close())
}

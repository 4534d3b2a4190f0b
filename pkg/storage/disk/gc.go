package disk

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"binstore/pkg/lock"
	"binstore/pkg/storage"
	"binstore/pkg/types"
)

// MarkUnused 把内容从存活区移入隔离区。
// 使用非阻塞写锁：被读者占用的 Key 进入待处理队列，在下次调用时重试。
// 单个 Key 的失败不会中断整个批次，所有错误合并后返回。
func (s *Adapter) MarkUnused(ctx context.Context, keys []types.Key) error {
	batch := s.pending.Drain(keys)

	var errs []error
	for i, key := range batch {
		if err := ctx.Err(); err != nil {
			s.pending.Add(batch[i:]...)
			errs = append(errs, err)
			break
		}
		err := s.quarantine(ctx, key)
		switch {
		case errors.Is(err, lock.ErrWouldBlock):
			s.Logger.Debug("content busy, quarantine deferred", slog.String("key", key.String()))
			s.pending.Add(key)
		case err != nil:
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending 返回排队等待隔离的 Key 数量
func (s *Adapter) Pending() int { return s.pending.Len() }

func (s *Adapter) quarantine(ctx context.Context, key types.Key) error {
	live := s.livePath(key)
	// 不存在的 Key 直接忽略，不用去抢锁
	if ok, err := exists(live); err != nil {
		return storage.Failure("stat", key, err)
	} else if !ok {
		return nil
	}

	l, err := s.registry.TryAcquireWrite(s.lockPath(key))
	if err != nil {
		if errors.Is(err, lock.ErrWouldBlock) {
			return err
		}
		return storage.Failure("lock", key, err)
	}
	defer s.release(l)

	fi, err := os.Stat(live)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return storage.Failure("stat", key, err)
	}

	dst := s.trashPath(key)
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return storage.Failure("create trash dir", key, err)
	}
	if err := s.move(live, dst); err != nil {
		return err
	}
	// 隔离时间记在 mtime 上，清扫按它判断年龄。
	// 设置失败时旧的 mtime 会让它被立刻清扫，所以放回存活区
	now := s.now()
	if err := chtimes(dst, now, now); err != nil {
		if merr := s.move(dst, live); merr != nil {
			s.Logger.Error("failed to restore content after touch failure",
				slog.String("key", key.String()), slog.Any("err", merr))
			return errors.Join(storage.Failure("touch", key, err), merr)
		}
		s.prune(filepath.Dir(dst), s.trash)
		return storage.Failure("touch", key, err)
	}
	s.prune(filepath.Dir(live), s.root)

	s.Logger.Debug("quarantined", slog.String("key", key.String()))
	s.observe(ctx, storage.EventQuarantined, key, fi.Size())
	return nil
}

// chtimes 默认就是 os.Chtimes，测试里替换它来模拟失败
var chtimes = os.Chtimes

type candidate struct {
	key  types.Key
	path string
}

// SweepUnused 物理删除隔离时间早于 now-olderThan 的内容。
// 被占用的内容跳过，留给下一次清扫。
func (s *Adapter) SweepUnused(ctx context.Context, olderThan time.Duration) (storage.SweepResult, error) {
	var (
		res  storage.SweepResult
		errs []error
	)

	// 先处理之前因竞争没能隔离的 Key
	if s.Pending() > 0 {
		if err := s.MarkUnused(ctx, nil); err != nil {
			errs = append(errs, err)
		}
	}

	cutoff := s.now().Add(-olderThan)
	candidates, err := s.collectExpired(cutoff)
	if err != nil {
		errs = append(errs, err)
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		size, removed, err := s.sweepOne(ctx, c, cutoff)
		switch {
		case errors.Is(err, lock.ErrWouldBlock):
			res.Skipped++
		case err != nil:
			errs = append(errs, err)
		case removed:
			res.Removed = append(res.Removed, c.key)
			res.Bytes += size
		}
	}

	if len(res.Removed) > 0 || res.Skipped > 0 {
		s.Logger.Info("sweep finished",
			slog.Int("removed", len(res.Removed)),
			slog.Int64("bytes", res.Bytes),
			slog.Int("skipped", res.Skipped))
	}
	return res, errors.Join(errs...)
}

// collectExpired 遍历隔离区，收集过期的内容文件。锁文件和拷贝临时文件不是合法的 Key，会被跳过。
func (s *Adapter) collectExpired(cutoff time.Time) ([]candidate, error) {
	var out []candidate
	err := filepath.WalkDir(s.trash, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// 隔离区不存在或目录被并发清理
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		key, perr := types.ParseKey(d.Name())
		if perr != nil {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			if errors.Is(ierr, fs.ErrNotExist) {
				return nil
			}
			return ierr
		}
		if info.ModTime().Before(cutoff) {
			out = append(out, candidate{key: key, path: path})
		}
		return nil
	})
	if err != nil {
		return out, storage.Failure("scan", s.trash, err)
	}
	return out, nil
}

func (s *Adapter) sweepOne(ctx context.Context, c candidate, cutoff time.Time) (int64, bool, error) {
	l, err := s.registry.TryAcquireWrite(s.lockPath(c.key))
	if err != nil {
		if errors.Is(err, lock.ErrWouldBlock) {
			return 0, false, err
		}
		return 0, false, storage.Failure("lock", c.key, err)
	}
	defer s.release(l)

	// 加锁后重新检查：可能已被复活或者重新隔离
	fi, err := os.Stat(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storage.Failure("stat", c.key, err)
	}
	if !fi.ModTime().Before(cutoff) {
		return 0, false, nil
	}

	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, false, storage.Failure("remove", c.key, err)
	}
	s.prune(filepath.Dir(c.path), s.trash)
	s.observe(ctx, storage.EventSwept, c.key, fi.Size())
	return fi.Size(), true, nil
}

// prune 从 dir 向上删除空目录，直到 stopAt (不含)。遇到非空目录即停止。
func (s *Adapter) prune(dir, stopAt string) {
	prefix := stopAt + string(filepath.Separator)
	for dir != stopAt && strings.HasPrefix(dir, prefix) {
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return
		}
		dir = filepath.Dir(dir)
	}
}

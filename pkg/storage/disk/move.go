package disk

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"binstore/pkg/lock"
	"binstore/pkg/storage"
)

// rename 默认就是 os.Rename，测试里替换它来模拟跨设备
var rename = os.Rename

// moveLocksDir 拷贝回退路径的锁文件目录，不是合法的 Hex 分片名
const moveLocksDir = "move"

// move 把 src 原子地放到 dst。优先 rename；失败 (比如跨设备) 则退化为加锁拷贝。
// 调用方必须持有内容 Key 的写锁。
func (s *Adapter) move(src, dst string) error {
	err := renameInto(src, dst)
	if err == nil {
		return nil
	}
	s.Logger.Debug("rename failed, falling back to copy",
		slog.String("src", src), slog.String("dst", dst), slog.Any("err", err))

	if err := s.copyLocked(src, dst); err != nil {
		return storage.Failure("move", dst, err)
	}
	return nil
}

// renameInto 目标目录可能在 MkdirAll 之后被并发清理掉，此时重建一次再试
func renameInto(src, dst string) error {
	err := rename(src, dst)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if _, serr := os.Stat(src); serr != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return err
	}
	return rename(src, dst)
}

// copyLocked 拷贝到目标目录中的临时文件，fsync 后再 rename 到位，最后删除源文件。
// 目标持有写锁，源持有读锁；锁文件都在 <root>/locks 下，不会让分片目录变成非空。
func (s *Adapter) copyLocked(src, dst string) (err error) {
	dstLock, err := s.registry.AcquireWrite(s.moveLockPath(dst))
	if err != nil {
		return err
	}
	defer s.release(dstLock)

	srcLock, err := s.registry.AcquireRead(s.moveLockPath(src))
	if err != nil {
		return err
	}
	defer s.release(srcLock)

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	out, err := os.CreateTemp(dir, ".copy-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(out.Name())
		}
	}()

	buf := make([]byte, storage.BestBufferSize(fi.Size()))
	if _, err = io.CopyBuffer(out, in, buf); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	// 同目录 rename，不会跨设备
	if err = rename(out.Name(), dst); err != nil {
		return err
	}

	if rmErr := os.Remove(src); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		return fmt.Errorf("remove source after copy: %w", rmErr)
	}
	return nil
}

// moveLockPath 把文件路径映射为 <root>/locks/move/ 下的扁平锁文件名。
// 存储根目录之外的路径 (比如另一个设备上的临时目录) 使用绝对路径。
func (s *Adapter) moveLockPath(path string) string {
	name := path
	if rel, err := filepath.Rel(s.root, path); err == nil && !strings.HasPrefix(rel, "..") {
		name = rel
	}
	name = strings.NewReplacer(string(filepath.Separator), "_", "/", "_", ":", "_").Replace(name)
	return filepath.Join(s.locks, moveLocksDir, name+lock.FileSuffix)
}

package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"binstore/pkg/core"
	"binstore/pkg/types"
)

// Spooled 是已经写入私有临时文件并完成哈希的输入
type Spooled struct {
	Path string
	Key  types.Key
	Size int64
}

// Spool 把输入流拷贝到 dir 下的临时文件，同时计算摘要和字节数。
// 此时 Key 还未知，不可能和任何人冲突，所以不需要任何锁。
func Spool(ctx context.Context, r io.Reader, digest core.Digest, dir string) (*Spooled, error) {
	hasher, err := core.NewHasher(digest)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, Failure("create temp dir", dir, err)
	}

	f, err := os.CreateTemp(dir, "spool-*")
	if err != nil {
		return nil, Failure("create temp file", dir, err)
	}

	buf := make([]byte, BestBufferSize(sizeHint(r)))
	n, err := io.CopyBuffer(io.MultiWriter(f, hasher), &ctxReader{ctx: ctx, r: r}, buf)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, Failure("spool", f.Name(), err)
	}

	return &Spooled{
		Path: f.Name(),
		Key:  types.KeyFromDigest(hasher.Sum(nil)),
		Size: n,
	}, nil
}

// ReadAll 读回内容 (只用于小于阈值的内容)
func (s *Spooled) ReadAll() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, Failure("read spool", s.Path, err)
	}
	return data, nil
}

// Remove 尽力删除临时文件。失败只记日志：残留的临时文件不会破坏存储。
func (s *Spooled) Remove(logger *slog.Logger) {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove temp file", slog.String("path", s.Path), slog.Any("err", err))
	}
}

// ctxReader 让长时间的拷贝可以被取消
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// sizeHint 尽量猜出输入的大小，用来挑选缓冲区
func sizeHint(r io.Reader) int64 {
	switch v := r.(type) {
	case interface{ Len() int }:
		return int64(v.Len())
	case interface{ Stat() (os.FileInfo, error) }:
		if fi, err := v.Stat(); err == nil && fi.Mode().IsRegular() {
			return fi.Size()
		}
	}
	return 0
}

package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"binstore/pkg/lock"
	"binstore/pkg/storage"
	"binstore/pkg/types"
)

// reader 在第一次 Read 时获取共享锁并打开文件，Close 时释放
type reader struct {
	s   *Adapter
	ctx context.Context
	key types.Key

	lock   *lock.Lock
	f      *os.File
	err    error
	closed bool
}

func (r *reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, os.ErrClosed
	}
	if r.f == nil {
		if r.err != nil {
			return 0, r.err
		}
		if r.err = r.open(); r.err != nil {
			return 0, r.err
		}
	}
	return r.f.Read(p)
}

func (r *reader) open() error {
	// 最多复活一次：Get 和第一次 Read 之间内容可能被隔离了
	for attempt := 0; attempt < 2; attempt++ {
		l, err := r.s.acquireRead(r.ctx, r.key)
		if err != nil {
			return err
		}
		f, err := os.Open(r.s.livePath(r.key))
		if err == nil {
			r.lock, r.f = l, f
			return nil
		}
		r.s.release(l)
		if !errors.Is(err, fs.ErrNotExist) {
			return storage.Failure("open", r.key, err)
		}
		if err := r.s.ensureLive(r.ctx, r.key); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s", storage.ErrNotFound, r.key)
}

// Close 可重复调用
func (r *reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.f != nil {
		err = r.f.Close()
	}
	if r.lock != nil {
		r.s.release(r.lock)
	}
	return err
}

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package lock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// flock 对整个文件加 BSD 风格的锁。它绑定在打开的文件描述上，
// 对同一台机器上的其他进程可见，在 NFSv4 等网络文件系统上由内核转发给服务端。
func flock(f *os.File, exclusive, block bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if !block {
		how |= unix.LOCK_NB
	}

	for {
		err := unix.Flock(int(f.Fd()), how)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case !block && errors.Is(err, unix.EWOULDBLOCK):
			return ErrWouldBlock
		case errors.Is(err, unix.ENOLCK), errors.Is(err, unix.EOPNOTSUPP):
			return fmt.Errorf("%w: %s: %w", ErrUnsupported, f.Name(), err)
		default:
			return fmt.Errorf("flock %s: %w", f.Name(), err)
		}
	}
}

func funlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

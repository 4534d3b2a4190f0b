//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly && !windows

package lock

import (
	"fmt"
	"os"
)

func flock(f *os.File, _, _ bool) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, f.Name())
}

func funlock(*os.File) error { return nil }

package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	settle  = 50 * time.Millisecond // 给阻塞中的 goroutine 足够的时间“本应”返回
	waitFor = 2 * time.Second
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	return NewRegistry(nil), filepath.Join(t.TempDir(), "res")
}

func mustRelease(t *testing.T, l *Lock) {
	t.Helper()
	require.NoError(t, l.Release())
}

func TestRegistry_WriteExcludesWrite(t *testing.T) {
	reg, path := newTestRegistry(t)

	first, err := reg.AcquireWrite(path)
	require.NoError(t, err)
	assert.True(t, first.Exclusive())

	// 非阻塞版本立刻失败
	_, err = reg.TryAcquireWrite(path)
	assert.ErrorIs(t, err, ErrWouldBlock)

	acquired := make(chan *Lock)
	go func() {
		l, err := reg.AcquireWrite(path)
		assert.NoError(t, err)
		acquired <- l
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired the lock while the first still holds it")
	case <-time.After(settle):
	}

	mustRelease(t, first)

	select {
	case second := <-acquired:
		mustRelease(t, second)
	case <-time.After(waitFor):
		t.Fatal("second writer never acquired the lock")
	}

	assert.Equal(t, 0, reg.Len(), "所有 holder 都应该被回收")
}

func TestRegistry_SharedReaders(t *testing.T) {
	reg, path := newTestRegistry(t)

	r1, err := reg.AcquireRead(path)
	require.NoError(t, err)

	done := make(chan *Lock)
	go func() {
		l, err := reg.AcquireRead(path)
		assert.NoError(t, err)
		done <- l
	}()

	var r2 *Lock
	select {
	case r2 = <-done:
	case <-time.After(waitFor):
		t.Fatal("concurrent reader blocked")
	}

	r3, err := reg.TryAcquireRead(path)
	require.NoError(t, err)

	// 读者存在时写者拿不到
	_, err = reg.TryAcquireWrite(path)
	assert.ErrorIs(t, err, ErrWouldBlock)

	reg.mu.Lock()
	h := reg.holders[path]
	reg.mu.Unlock()
	require.NotNil(t, h)
	h.osMu.Lock()
	assert.Equal(t, 3, h.readers, "三个读者共享同一个 OS 锁")
	h.osMu.Unlock()

	mustRelease(t, r1)
	mustRelease(t, r2)
	mustRelease(t, r3)

	w, err := reg.TryAcquireWrite(path)
	require.NoError(t, err)
	mustRelease(t, w)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_PendingWriterExcludesReaders(t *testing.T) {
	reg, path := newTestRegistry(t)

	reader, err := reg.AcquireRead(path)
	require.NoError(t, err)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		w, err := reg.AcquireWrite(path)
		if assert.NoError(t, err) {
			assert.NoError(t, w.Release())
		}
	}()

	// 等写者进入等待队列：此后新的读者必须被挡住
	assert.Eventually(t, func() bool {
		l, err := reg.TryAcquireRead(path)
		if err == nil {
			_ = l.Release()
			return false
		}
		return errors.Is(err, ErrWouldBlock)
	}, waitFor, time.Millisecond)

	mustRelease(t, reader)

	select {
	case <-writerDone:
	case <-time.After(waitFor):
		t.Fatal("pending writer never acquired the lock")
	}
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_TimedWriterExcludesReaders(t *testing.T) {
	reg, path := newTestRegistry(t)

	reader, err := reg.AcquireRead(path)
	require.NoError(t, err)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		w, err := reg.AcquireWriteContext(ctx, path)
		if assert.NoError(t, err) {
			assert.NoError(t, w.Release())
		}
	}()

	// 带超时的写者同样排在读写锁上，新的读者必须被挡住
	assert.Eventually(t, func() bool {
		l, err := reg.TryAcquireRead(path)
		if err == nil {
			_ = l.Release()
			return false
		}
		return errors.Is(err, ErrWouldBlock)
	}, waitFor, time.Millisecond)

	mustRelease(t, reader)

	select {
	case <-writerDone:
	case <-time.After(waitFor):
		t.Fatal("timed writer never acquired the lock")
	}
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_TimedWriterNotStarvedByReaders(t *testing.T) {
	reg, path := newTestRegistry(t)

	// 一串互相重叠的读者：任何时刻都至少有一个读者持有锁
	var stop atomic.Bool
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				l, err := reg.AcquireRead(path)
				if !assert.NoError(t, err) {
					return
				}
				time.Sleep(time.Millisecond)
				_ = l.Release()
			}
		}()
	}
	time.Sleep(settle)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	w, err := reg.AcquireWriteContext(ctx, path)
	require.NoError(t, err, "writer must not be starved by overlapping readers")
	mustRelease(t, w)

	stop.Store(true)
	wg.Wait()
}

func TestRegistry_TimedOutWaiterReleasesClaim(t *testing.T) {
	reg, path := newTestRegistry(t)

	w, err := reg.AcquireWrite(path)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = reg.AcquireWriteContext(ctx, path)
	require.ErrorIs(t, err, ErrTimeout)

	// 超时的等待者拿到锁后立刻归还，不会挡住后来的人
	mustRelease(t, w)
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, waitFor, time.Millisecond)

	l, err := reg.TryAcquireWrite(path)
	require.NoError(t, err)
	mustRelease(t, l)
}

func TestRegistry_CrossRegistryExclusion(t *testing.T) {
	// 两个 Registry 各自打开文件，行为等同于两个独立进程
	path := filepath.Join(t.TempDir(), "shared")
	procA := NewRegistry(nil)
	procB := NewRegistry(nil)

	w, err := procA.AcquireWrite(path)
	if errors.Is(err, ErrUnsupported) {
		t.Skip("os file locks are not supported here")
	}
	require.NoError(t, err)

	_, err = procB.TryAcquireWrite(path)
	assert.ErrorIs(t, err, ErrWouldBlock)
	_, err = procB.TryAcquireRead(path)
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.Equal(t, 0, procB.Len(), "失败的尝试必须回滚 holder")

	mustRelease(t, w)

	r1, err := procA.TryAcquireRead(path)
	require.NoError(t, err)
	r2, err := procB.TryAcquireRead(path)
	require.NoError(t, err, "共享锁在进程之间也应该兼容")
	mustRelease(t, r1)
	mustRelease(t, r2)
}

func TestRegistry_ContextTimeout(t *testing.T) {
	reg, path := newTestRegistry(t)

	w, err := reg.AcquireWrite(path)
	require.NoError(t, err)
	defer mustRelease(t, w)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = reg.AcquireReadContext(ctx, path)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), waitFor)
	assert.Equal(t, 1, reg.Len(), "超时的等待者不能残留引用")
}

func TestRegistry_ContextAcquireAfterRelease(t *testing.T) {
	reg, path := newTestRegistry(t)

	w, err := reg.AcquireWrite(path)
	require.NoError(t, err)

	go func() {
		time.Sleep(settle)
		_ = w.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	l, err := reg.AcquireWriteContext(ctx, path)
	require.NoError(t, err)
	mustRelease(t, l)
}

func TestRegistry_EphemeralLockFiles(t *testing.T) {
	reg := NewRegistry(nil)
	dir := t.TempDir()

	ephemeral := filepath.Join(dir, "aa", "key"+FileSuffix)
	w, err := reg.AcquireWrite(ephemeral)
	require.NoError(t, err)
	assert.FileExists(t, ephemeral, "锁文件 (及父目录) 按需创建")
	mustRelease(t, w)
	assert.NoFileExists(t, ephemeral, "写者释放时删除临时锁文件")

	r, err := reg.AcquireRead(ephemeral)
	require.NoError(t, err)
	mustRelease(t, r)
	assert.NoFileExists(t, ephemeral, "最后一个读者在无竞争时也会清理")

	durable := filepath.Join(dir, "durable")
	w, err = reg.AcquireWrite(durable)
	require.NoError(t, err)
	mustRelease(t, w)
	assert.FileExists(t, durable, "普通路径不会被删除")
}

func TestLock_ReleaseIsIdempotent(t *testing.T) {
	reg, path := newTestRegistry(t)

	l, err := reg.AcquireWrite(path)
	require.NoError(t, err)
	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_FailureRollsBack(t *testing.T) {
	reg := NewRegistry(nil)
	// 父路径是一个普通文件，打开锁文件必然失败
	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, []byte("x"), 0o644))
	path := filepath.Join(parent, "child")

	_, err := reg.AcquireWrite(path)
	require.Error(t, err)
	assert.Equal(t, 0, reg.Len())

	// 进程内的读写锁也必须已经回滚，否则这里会死锁
	_, err = reg.TryAcquireWrite(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrWouldBlock)
}

func TestRegistry_ConcurrentWritersSerialize(t *testing.T) {
	reg, path := newTestRegistry(t)

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				l, err := reg.AcquireWrite(path)
				if !assert.NoError(t, err) {
					return
				}
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				inside.Add(-1)
				assert.NoError(t, l.Release())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load(), "临界区内最多只有一个写者")
	assert.Equal(t, 0, reg.Len())
}

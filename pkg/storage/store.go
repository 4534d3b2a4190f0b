package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"binstore/pkg/core"
	"binstore/pkg/lock"
	"binstore/pkg/types"
)

var (
	// ErrNotFound 内容既不在存活区也不在隔离区
	ErrNotFound = errors.New("content not found")

	// ErrStoreFailure 读、写、移动或加锁时的 I/O 错误。总是和底层错误一起包装。
	ErrStoreFailure = errors.New("store failure")

	// ErrDigestUnavailable 摘要算法不可用，致命配置错误 (SystemFailure)
	ErrDigestUnavailable = core.ErrDigestUnavailable

	// ErrLockTimeout 阻塞加锁超时，可重试
	ErrLockTimeout = lock.ErrTimeout
)

// IsRetryable 判断错误是否只是锁竞争/超时，调用方可以稍后重试
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, lock.ErrWouldBlock)
}

// Store defines the interface for a content-addressable binary store.
// Implementations can be local disk or object storage.
type Store interface {
	// Put 读取整个流，按内容摘要存储，返回句柄。
	// 相同的字节永远得到相同的 Key，重复存储是幂等的。
	Put(ctx context.Context, r io.Reader) (*core.Handle, error)

	// Get 按 Key 打开内容流。隔离区中的内容会被自动复活。
	// 返回的是 io.ReadCloser 而不是 []byte，大文件走流式读取。
	Get(ctx context.Context, key types.Key) (io.ReadCloser, error)

	// Has 检查内容是否存在 (存活区或隔离区)
	Has(ctx context.Context, key types.Key) (bool, error)

	// MarkUnused 把内容移入隔离区，之后由 SweepUnused 真正删除。
	// 不会无限期阻塞：被占用的 Key 会排队，下次再试。不存在的 Key 被忽略。
	MarkUnused(ctx context.Context, keys []types.Key) error

	// SweepUnused 删除在隔离区中停留超过 olderThan 的内容
	SweepUnused(ctx context.Context, olderThan time.Duration) (SweepResult, error)

	// MinimumPersistedSize 小于该阈值的内容不会落盘，直接以内存句柄返回
	MinimumPersistedSize() int64
	SetMinimumPersistedSize(n int64)

	// ExtractText 委托给文本抽取协作者，失败只记日志
	ExtractText(ctx context.Context, h *core.Handle) (string, bool)
}

// SweepResult 描述一次清扫的结果
type SweepResult struct {
	Removed []types.Key // 被物理删除的 Key
	Bytes   int64       // 回收的字节数
	Skipped int         // 因锁竞争跳过的数量，下次清扫再处理
}

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"binstore/pkg/core"
)

// DefaultMinimumPersistedSize 默认的最小持久化阈值
const DefaultMinimumPersistedSize int64 = 4096

// 缓冲区分档 (单位: 字节)
const (
	TinyBuffer   = 4 * 1024
	SmallBuffer  = 16 * 1024
	MediumBuffer = 64 * 1024
	LargeBuffer  = 256 * 1024

	smallContent  = 16 * 1024
	mediumContent = 1024 * 1024
	largeContent  = 16 * 1024 * 1024
)

// Extractor 是文本抽取协作者
type Extractor interface {
	ExtractText(ctx context.Context, h *core.Handle) (string, error)
}

// Base 是所有具体 Store 共享的策略部分，供嵌入使用
type Base struct {
	minSize   atomic.Int64
	extractor Extractor
	detector  core.Detector
	Logger    *slog.Logger
}

// Init 初始化策略。minSize <= 0 时使用默认值；
// 需要把所有内容都落盘时，构造后调用 SetMinimumPersistedSize(0)。
func (b *Base) Init(minSize int64, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if minSize <= 0 {
		minSize = DefaultMinimumPersistedSize
	}
	b.Logger = logger
	b.minSize.Store(minSize)
}

func (b *Base) MinimumPersistedSize() int64 { return b.minSize.Load() }

func (b *Base) SetMinimumPersistedSize(n int64) {
	if n < 0 {
		n = 0
	}
	b.minSize.Store(n)
}

// SetExtractor / SetDetector 注入外部协作者
func (b *Base) SetExtractor(e Extractor)    { b.extractor = e }
func (b *Base) SetDetector(d core.Detector) { b.detector = d }

// BestBufferSize 根据预期大小选择拷贝缓冲区。只影响性能，不影响正确性。
// expected <= 0 表示未知大小。
func BestBufferSize(expected int64) int {
	switch {
	case expected <= 0:
		return MediumBuffer
	case expected < smallContent:
		return TinyBuffer
	case expected < mediumContent:
		return SmallBuffer
	case expected < largeContent:
		return MediumBuffer
	default:
		return LargeBuffer
	}
}

// ExtractText 调用抽取器；错误和 panic 都被吞掉并记录，永远不算存储失败
func (b *Base) ExtractText(ctx context.Context, h *core.Handle) (text string, ok bool) {
	if b.extractor == nil || h == nil {
		return "", false
	}
	defer func() {
		if r := recover(); r != nil {
			b.Logger.Error("text extraction panicked", slog.String("key", h.Key().String()), slog.Any("panic", r))
			text, ok = "", false
		}
	}()

	text, err := b.extractor.ExtractText(ctx, h)
	if err != nil {
		b.Logger.Warn("text extraction failed", slog.String("key", h.Key().String()), slog.Any("err", err))
		return "", false
	}
	return text, text != ""
}

// MimeType 延迟探测 MIME 类型
func (b *Base) MimeType(ctx context.Context, nameHint string, h *core.Handle) (string, bool) {
	if b.detector == nil || h == nil {
		return "", false
	}
	mt, err := h.MimeType(ctx, b.detector, nameHint)
	if err != nil {
		b.Logger.Warn("mime detection failed", slog.String("key", h.Key().String()), slog.Any("err", err))
		return "", false
	}
	return mt, mt != ""
}

// Failure 把底层错误包装为 ErrStoreFailure
func Failure(op string, subject any, err error) error {
	return fmt.Errorf("%w: %s %v: %w", ErrStoreFailure, op, subject, err)
}

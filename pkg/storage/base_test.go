package storage

import (
	"context"
	"errors"
	"testing"

	"binstore/pkg/core"

	"github.com/stretchr/testify/assert"
)

type extractorFunc func(ctx context.Context, h *core.Handle) (string, error)

func (f extractorFunc) ExtractText(ctx context.Context, h *core.Handle) (string, error) {
	return f(ctx, h)
}

func TestBestBufferSize(t *testing.T) {
	tests := []struct {
		expected int64
		want     int
	}{
		{-1, MediumBuffer},
		{0, MediumBuffer},
		{1, TinyBuffer},
		{16*1024 - 1, TinyBuffer},
		{16 * 1024, SmallBuffer},
		{1024*1024 - 1, SmallBuffer},
		{1024 * 1024, MediumBuffer},
		{16 * 1024 * 1024, LargeBuffer},
		{1 << 40, LargeBuffer},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BestBufferSize(tt.expected), "expected=%d", tt.expected)
	}
}

func TestBase_MinimumPersistedSize(t *testing.T) {
	var b Base
	b.Init(0, nil)
	assert.Equal(t, DefaultMinimumPersistedSize, b.MinimumPersistedSize())

	b.SetMinimumPersistedSize(100)
	assert.Equal(t, int64(100), b.MinimumPersistedSize())

	b.SetMinimumPersistedSize(-1)
	assert.Equal(t, int64(0), b.MinimumPersistedSize(), "负数按 0 处理")
}

func TestBase_ExtractText(t *testing.T) {
	ctx := context.Background()
	data := []byte("some text")
	key, _ := core.Sum(core.DefaultDigest, data)
	h := core.NewInline(key, data)

	var b Base
	b.Init(0, nil)

	// 1. 没有抽取器
	_, ok := b.ExtractText(ctx, h)
	assert.False(t, ok)

	// 2. 正常
	b.SetExtractor(extractorFunc(func(context.Context, *core.Handle) (string, error) {
		return "some text", nil
	}))
	text, ok := b.ExtractText(ctx, h)
	assert.True(t, ok)
	assert.Equal(t, "some text", text)

	// 3. 错误被吞掉
	b.SetExtractor(extractorFunc(func(context.Context, *core.Handle) (string, error) {
		return "partial", errors.New("boom")
	}))
	text, ok = b.ExtractText(ctx, h)
	assert.False(t, ok)
	assert.Empty(t, text)

	// 4. panic 也被吞掉
	b.SetExtractor(extractorFunc(func(context.Context, *core.Handle) (string, error) {
		panic("extractor bug")
	}))
	assert.NotPanics(t, func() {
		text, ok = b.ExtractText(ctx, h)
	})
	assert.False(t, ok)
	assert.Empty(t, text)
}

func TestFailureWrapsBoth(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Failure("rename", "/x", cause)
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsRetryable(err))
	assert.True(t, IsRetryable(ErrLockTimeout))
}

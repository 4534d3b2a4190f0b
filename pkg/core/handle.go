package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"binstore/pkg/types"
)

// Kind 区分句柄的两种表示
type Kind uint8

const (
	// KindInline 小于最小持久化阈值的内容，字节直接保存在内存里
	KindInline Kind = iota + 1
	// KindStored 已经落盘 (或落到对象存储) 的内容，通过 Source 读取
	KindStored
)

func (k Kind) String() string {
	switch k {
	case KindInline:
		return "inline"
	case KindStored:
		return "stored"
	default:
		return "unknown"
	}
}

var ErrBadReference = errors.New("malformed handle reference")

// Source 是 Stored 句柄背后的存储，storage.Store 满足这个接口
type Source interface {
	Get(ctx context.Context, key types.Key) (io.ReadCloser, error)
}

// Detector 是 MIME 类型探测协作者。
// 只有在调用方真正需要 MIME 类型时才会被调用。
type Detector interface {
	Detect(ctx context.Context, nameHint string, h *Handle) (string, error)
}

// Handle 代表一份逻辑内容：Key + Size + 读取能力。
// 句柄是不可变的，不提供任何写能力。两个句柄相等当且仅当 Key 相等。
type Handle struct {
	kind Kind
	key  types.Key
	size int64

	data   []byte // KindInline
	source Source // KindStored

	mimeOnce sync.Once
	mime     string
	mimeErr  error
}

// NewInline 创建内存句柄。data 的所有权转移给句柄，调用方之后不能再修改它。
func NewInline(key types.Key, data []byte) *Handle {
	return &Handle{
		kind: KindInline,
		key:  key,
		size: int64(len(data)),
		data: data,
	}
}

// NewStored 创建指向持久化内容的句柄
func NewStored(key types.Key, size int64, src Source) *Handle {
	return &Handle{
		kind:   KindStored,
		key:    key,
		size:   size,
		source: src,
	}
}

func (h *Handle) Kind() Kind            { return h.kind }
func (h *Handle) Key() types.Key        { return h.key }
func (h *Handle) Size() int64           { return h.size }
func (h *Handle) IsInline() bool        { return h.kind == KindInline }
func (h *Handle) Equal(o *Handle) bool  { return o != nil && h.key.Equal(o.key) }
func (h *Handle) Compare(o *Handle) int { return h.key.Compare(o.key) }

func (h *Handle) String() string {
	return fmt.Sprintf("%s(%s, %d bytes)", h.kind, h.key, h.size)
}

// Open 打开一个可读流。调用方必须 Close。
// 对于 Stored 句柄，锁在第一次 Read 时才获取 (见 storage 实现)，
// 所以持有一个未读的流不会占用锁。
func (h *Handle) Open(ctx context.Context) (io.ReadCloser, error) {
	switch h.kind {
	case KindInline:
		return io.NopCloser(bytes.NewReader(h.data)), nil
	case KindStored:
		if h.source == nil {
			return nil, fmt.Errorf("handle %s is not bound to a store", h.key)
		}
		return h.source.Get(ctx, h.key)
	default:
		return nil, fmt.Errorf("handle %s: unknown kind %d", h.key, h.kind)
	}
}

// MimeType 延迟探测 MIME 类型，结果在句柄上缓存
func (h *Handle) MimeType(ctx context.Context, d Detector, nameHint string) (string, error) {
	h.mimeOnce.Do(func() {
		h.mime, h.mimeErr = d.Detect(ctx, nameHint, h)
	})
	return h.mime, h.mimeErr
}

// -----------------------------------------------------------------------------
// 句柄引用编码 (供节点缓存持久化)
// -----------------------------------------------------------------------------

type handleRef struct {
	Kind Kind   `cbor:"t"`
	Key  []byte `cbor:"k"`
	Size int64  `cbor:"s"`
	Data []byte `cbor:"d,omitempty"` // 只有 Inline 才有
}

// MarshalCBOR 把句柄编码为紧凑的引用。Inline 句柄连同数据一起编码。
func (h *Handle) MarshalCBOR() ([]byte, error) {
	ref := handleRef{
		Kind: h.kind,
		Key:  h.key.Bytes(),
		Size: h.size,
	}
	if h.kind == KindInline {
		ref.Data = h.data
	}
	return em.Marshal(ref)
}

// DecodeHandle 还原句柄，并把 Stored 句柄重新绑定到 src
func DecodeHandle(data []byte, src Source) (*Handle, error) {
	var ref handleRef
	if err := dm.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadReference, err)
	}
	if len(ref.Key) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrBadReference)
	}
	key := types.KeyFromDigest(ref.Key)

	switch ref.Kind {
	case KindInline:
		if int64(len(ref.Data)) != ref.Size {
			return nil, fmt.Errorf("%w: inline size %d != %d", ErrBadReference, len(ref.Data), ref.Size)
		}
		return NewInline(key, ref.Data), nil
	case KindStored:
		if ref.Size < 0 {
			return nil, fmt.Errorf("%w: negative size", ErrBadReference)
		}
		return NewStored(key, ref.Size, src), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrBadReference, ref.Kind)
	}
}

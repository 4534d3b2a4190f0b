// pkg/types/key.go
package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidKey = errors.New("invalid content key")

// Key 是内容的唯一标识符 (摘要字节 + 规范的小写 Hex 形式)
// 这是一个“值对象”，不可变，可以直接用 == 比较，也可以作为 map 的 key。
type Key struct {
	// raw 保存原始摘要字节。用 string 而不是 []byte，保证不可变且可比较。
	raw string
}

// KeyFromDigest 从哈希器输出的摘要构造 Key
func KeyFromDigest(digest []byte) Key {
	return Key{raw: string(digest)}
}

// ParseKey 解析 Hex 形式的 Key (大小写不敏感)
func ParseKey(s string) (Key, error) {
	if s == "" || len(s)%2 != 0 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, s, err)
	}
	return Key{raw: string(b)}, nil
}

// MustParseKey 用于测试和常量
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// String 返回规范 Hex 形式，它也是磁盘上的文件名
func (k Key) String() string { return hex.EncodeToString([]byte(k.raw)) }

// Bytes 返回摘要的副本
func (k Key) Bytes() []byte { return []byte(k.raw) }

// Len 摘要字节数 (sha256/blake3 为 32，sha1 为 20)
func (k Key) Len() int { return len(k.raw) }

func (k Key) IsZero() bool { return k.raw == "" }

func (k Key) Equal(o Key) bool { return k.raw == o.raw }

// Compare 按摘要字节排序，返回 -1, 0, +1
func (k Key) Compare(o Key) int { return strings.Compare(k.raw, o.raw) }

package core

import (
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	"errors"
	"fmt"
	"hash"

	"binstore/pkg/types"

	"github.com/zeebo/blake3"
)

// ErrDigestUnavailable 表示配置的摘要算法在当前运行环境中不可用。
// 这是致命的配置错误，不应重试。
var ErrDigestUnavailable = errors.New("digest algorithm unavailable")

// Digest 是内容摘要算法的名字
type Digest string

const (
	DigestSHA256 Digest = "sha256" // 默认
	DigestSHA1   Digest = "sha1"   // 160 位，兼容旧仓库
	DigestBLAKE3 Digest = "blake3"

	DefaultDigest = DigestSHA256
)

// NewHasher 返回一个新的哈希器
func NewHasher(d Digest) (hash.Hash, error) {
	switch d {
	case "", DigestSHA256:
		return newStd(crypto.SHA256, d)
	case DigestSHA1:
		return newStd(crypto.SHA1, d)
	case DigestBLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrDigestUnavailable, string(d))
	}
}

func newStd(h crypto.Hash, d Digest) (hash.Hash, error) {
	if !h.Available() {
		return nil, fmt.Errorf("%w: %q is not linked into the binary", ErrDigestUnavailable, string(d))
	}
	return h.New(), nil
}

// Validate 在构造 Store 时调用，fail-fast
func (d Digest) Validate() error {
	_, err := NewHasher(d)
	return err
}

// Sum 计算一段内存数据的 Key
func Sum(d Digest, data []byte) (types.Key, error) {
	h, err := NewHasher(d)
	if err != nil {
		return types.Key{}, err
	}
	h.Write(data)
	return types.KeyFromDigest(h.Sum(nil)), nil
}

package core

import (
	"github.com/fxamacker/cbor/v2"
)

// 句柄引用使用规范 CBOR 编码 (Canonical)，
// 保证同一个句柄在节点缓存里永远序列化为相同的字节。
var encOptions = cbor.EncOptions{
	// 强制 Map Key 排序
	Sort: cbor.SortCanonical,

	// 禁止不定长编码，容器必须在头部声明长度
	IndefLength: cbor.IndefLengthForbidden,

	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,
}

var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// --- 安全性配置 (防 DoS 攻击) ---
	MaxArrayElements: 1024,
	MaxMapPairs:      64,
	MaxNestedLevels:  8,

	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	TimeTag:     cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

package storage

import (
	"fmt"

	"binstore/pkg/types"
)

// 保留的目录名。分片目录只由 Hex 字符组成，不会和它们冲突。
const (
	TrashDir = "trash"
	TempDir  = "tmp"
	LocksDir = "locks"
)

// Layout 决定 Key 到相对路径的映射：连续取 Depth 个 Width 字符的前缀作为目录，
// 最后是完整的 Hex 作为文件名。这是一个纯函数，不需要任何索引文件。
//
// Example (Depth 3, Width 2): "aabbccdd..." -> aa/bb/cc/aabbccdd...
type Layout struct {
	Depth int
	Width int
}

// DefaultLayout 每层最多 256 个子目录
var DefaultLayout = Layout{Depth: 3, Width: 2}

func (l Layout) Validate() error {
	if l.Depth < 0 || l.Depth > 8 {
		return fmt.Errorf("shard depth %d out of range [0, 8]", l.Depth)
	}
	if l.Width < 1 || l.Width > 4 {
		return fmt.Errorf("shard width %d out of range [1, 4]", l.Width)
	}
	return nil
}

// Segments 返回目录段和文件名，调用方按需用 filepath.Join 或 "/" 拼接
func (l Layout) Segments(key types.Key) []string {
	hex := key.String()
	segs := make([]string, 0, l.Depth+1)
	for i := 0; i < l.Depth; i++ {
		end := (i + 1) * l.Width
		if end > len(hex) {
			break
		}
		segs = append(segs, hex[i*l.Width:end])
	}
	return append(segs, hex)
}

// LockSegments 锁文件只用一层分片：它们是临时的，目录数量有界即可
func (l Layout) LockSegments(key types.Key) []string {
	hex := key.String()
	name := hex + ".lock"
	if len(hex) < l.Width {
		return []string{name}
	}
	return []string{hex[:l.Width], name}
}

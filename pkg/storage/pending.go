package storage

import (
	"sync"

	"binstore/pkg/types"
)

// Pending 是因锁竞争而推迟隔离的 Key 集合。零值可用。
type Pending struct {
	mu   sync.Mutex
	keys map[types.Key]struct{}
}

func (p *Pending) Add(keys ...types.Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.keys == nil {
		p.keys = make(map[types.Key]struct{}, len(keys))
	}
	for _, k := range keys {
		p.keys[k] = struct{}{}
	}
}

func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Drain 取出所有排队的 Key，与 keys 合并去重。排队的 Key 在前。
func (p *Pending) Drain(keys []types.Key) []types.Key {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[types.Key]struct{}, len(keys)+len(p.keys))
	out := make([]types.Key, 0, len(keys)+len(p.keys))
	for k := range p.keys {
		seen[k] = struct{}{}
		out = append(out, k)
	}
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	clear(p.keys)
	return out
}

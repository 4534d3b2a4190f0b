package storage

import (
	"context"
	"time"

	"binstore/pkg/types"
)

// EventKind 存储生命周期事件
type EventKind string

const (
	EventStored       EventKind = "stored"       // 新内容落盘
	EventDeduplicated EventKind = "deduplicated" // 内容已存在
	EventInlined      EventKind = "inlined"      // 小于阈值，未落盘
	EventQuarantined  EventKind = "quarantined"
	EventRestored     EventKind = "restored" // 从隔离区复活
	EventSwept        EventKind = "swept"    // 物理删除
)

type Event struct {
	Kind EventKind
	Key  types.Key
	Size int64
	At   time.Time
}

// Observer 接收存储事件 (目录、指标等)。
// 实现必须自己处理错误，不能让观察者的失败影响存储操作。
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// Observers 把事件扇出给多个观察者
type Observers []Observer

func (o Observers) Observe(ctx context.Context, ev Event) {
	for _, ob := range o {
		ob.Observe(ctx, ev)
	}
}

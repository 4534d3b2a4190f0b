package metrics

import (
	"context"
	"net/http"

	"binstore/pkg/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StoreMetrics 把存储事件转换为 Prometheus 计数器。
// 所有方法对 nil 接收者安全。
type StoreMetrics struct {
	// events 按事件类型计数 (stored, deduplicated, inlined, quarantined, restored, swept)
	events *prometheus.CounterVec

	// bytes 按事件类型累计字节数；swept 即回收的空间
	bytes *prometheus.CounterVec
}

var _ storage.Observer = (*StoreMetrics)(nil)

// New 创建并注册指标。reg 为 nil 时只创建不注册 (测试用)。
// 重复注册时复用已有的 collector。
func New(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binstore",
			Subsystem: "store",
			Name:      "events_total",
			Help:      "Total number of content store events by kind",
		}, []string{"kind"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binstore",
			Subsystem: "store",
			Name:      "event_bytes_total",
			Help:      "Total content bytes involved in store events by kind",
		}, []string{"kind"}),
	}

	if reg != nil {
		m.events = registerOrReuse(reg, m.events).(*prometheus.CounterVec)
		m.bytes = registerOrReuse(reg, m.bytes).(*prometheus.CounterVec)
	}
	return m
}

func (m *StoreMetrics) Observe(_ context.Context, ev storage.Event) {
	if m == nil {
		return
	}
	kind := string(ev.Kind)
	m.events.WithLabelValues(kind).Inc()
	if ev.Size > 0 {
		m.bytes.WithLabelValues(kind).Add(float64(ev.Size))
	}
}

// Handler 返回 /metrics 的 HTTP handler
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

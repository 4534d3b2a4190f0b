package meta

import "time"

// 内容记录的状态
const (
	StateLive        = "live"
	StateQuarantined = "quarantined"
	StateDeleted     = "deleted" // 已被清扫，记录保留用于审计
)

// ContentRecord 是存储中一份内容在关系型数据库中的投影 (索引)
// 由存储事件驱动更新，存储本身不依赖它
type ContentRecord struct {
	// Key 是主键 (摘要的 hex 形式)
	Key string `gorm:"column:content_key;primaryKey;type:varchar(128)"`

	Size  int64  `gorm:"not null"`
	State string `gorm:"index;type:varchar(16);not null"`

	// 发布次数 / 去重命中次数
	StoredCount int64 `gorm:"default:0"`
	DedupCount  int64 `gorm:"default:0"`

	QuarantinedAt *time.Time
	SweptAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

// TableName 强制指定表名
func (ContentRecord) TableName() string {
	return "content_records"
}

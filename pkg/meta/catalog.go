package meta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"binstore/pkg/storage"
	"binstore/pkg/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrRecordNotFound = errors.New("content record not found")

// Catalog 把存储事件投影到 content_records 表，并提供查询
type Catalog struct {
	db     *DB
	logger *slog.Logger
}

var _ storage.Observer = (*Catalog)(nil)

func NewCatalog(db *DB, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{db: db, logger: logger.With(slog.String("component", "catalog"))}
}

// Observe 实现 storage.Observer。目录失败只记日志，不影响存储操作。
func (c *Catalog) Observe(ctx context.Context, ev storage.Event) {
	if err := c.Record(ctx, ev); err != nil {
		c.logger.Warn("failed to record event",
			slog.String("kind", string(ev.Kind)),
			slog.String("key", ev.Key.String()),
			slog.Any("err", err))
	}
}

// Record 幂等地把一个事件写入目录 (UPSERT)
func (c *Catalog) Record(ctx context.Context, ev storage.Event) error {
	rec := ContentRecord{
		Key:       ev.Key.String(),
		Size:      ev.Size,
		CreatedAt: ev.At,
		UpdatedAt: ev.At,
	}
	updates := map[string]any{
		"updated_at": ev.At,
	}

	switch ev.Kind {
	case storage.EventInlined:
		// 内联内容从未落盘，不进目录
		return nil
	case storage.EventStored:
		rec.State, rec.StoredCount = StateLive, 1
		updates["state"] = StateLive
		updates["size"] = ev.Size
		updates["stored_count"] = gorm.Expr("content_records.stored_count + 1")
		updates["quarantined_at"] = nil
		updates["swept_at"] = nil
	case storage.EventDeduplicated:
		rec.State, rec.DedupCount = StateLive, 1
		updates["state"] = StateLive
		updates["dedup_count"] = gorm.Expr("content_records.dedup_count + 1")
	case storage.EventRestored:
		rec.State = StateLive
		updates["state"] = StateLive
		updates["quarantined_at"] = nil
	case storage.EventQuarantined:
		at := ev.At
		rec.State, rec.QuarantinedAt = StateQuarantined, &at
		updates["state"] = StateQuarantined
		updates["quarantined_at"] = ev.At
	case storage.EventSwept:
		at := ev.At
		rec.State, rec.SweptAt = StateDeleted, &at
		updates["state"] = StateDeleted
		updates["swept_at"] = ev.At
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	err := c.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "content_key"}},
			DoUpdates: clause.Assignments(updates),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", ev.Kind, err)
	}
	return nil
}

// Get 按 Key 查询记录
func (c *Catalog) Get(ctx context.Context, key types.Key) (*ContentRecord, error) {
	var rec ContentRecord
	// 用 Find 而不是 First：未命中是正常情况，不应该在 gorm 日志里报错
	res := c.db.GetConn().WithContext(ctx).
		Where("content_key = ?", key.String()).
		Limit(1).
		Find(&rec)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

// List 按状态列出记录，最近更新的在前。state 为空表示全部，limit <= 0 表示不限
func (c *Catalog) List(ctx context.Context, state string, limit int) ([]ContentRecord, error) {
	q := c.db.GetConn().WithContext(ctx).Order("updated_at DESC").Order("content_key")
	if state != "" {
		q = q.Where("state = ?", state)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []ContentRecord
	err := q.Find(&recs).Error
	return recs, err
}

// StateStats 是某个状态下的数量和总字节数
type StateStats struct {
	Count int64
	Bytes int64
}

// Stats 按状态聚合
func (c *Catalog) Stats(ctx context.Context) (map[string]StateStats, error) {
	var rows []struct {
		State string
		Count int64
		Bytes int64
	}
	err := c.db.GetConn().WithContext(ctx).
		Model(&ContentRecord{}).
		Select("state, COUNT(*) AS count, COALESCE(SUM(size), 0) AS bytes").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]StateStats, len(rows))
	for _, r := range rows {
		out[r.State] = StateStats{Count: r.Count, Bytes: r.Bytes}
	}
	return out, nil
}

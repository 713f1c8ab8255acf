package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"stock_reservation/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxLastErrorLen 与 order_events.last_error 列宽一致（按字符计）。
const maxLastErrorLen = 255

// Publisher 投递一条 outbox 事件；Producer 为 Kafka 实现。
type Publisher interface {
	Publish(ctx context.Context, ev model.OrderEvent) error
}

// Relay 将 order_events 表中的 pending 事件异步转发到 Kafka。
// 语义：发布成功后才标记 sent，失败则记录错误并保留，下一轮重试。
// 同一时刻只应运行一个 Relay 实例。
type Relay struct {
	db  *gorm.DB
	pub Publisher
	log *zap.Logger

	interval time.Duration
	batch    int
}

func NewRelay(db *gorm.DB, pub Publisher, log *zap.Logger, interval time.Duration, batch int) *Relay {
	return &Relay{
		db:       db,
		pub:      pub,
		log:      log,
		interval: interval,
		batch:    batch,
	}
}

func (r *Relay) Run(ctx context.Context) {
	r.log.Info("outbox relay started", zap.Duration("interval", r.interval), zap.Int("batch", r.batch))
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-t.C:
			if _, err := r.Flush(ctx); err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				r.log.Warn("outbox relay flush", zap.Error(err))
			}
		}
	}
}

// Flush 按 id 顺序投递一批 pending 事件，返回成功条数。
// 遇到第一条发布失败即停止本轮，保持同一订单号事件的先后顺序。
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var events []model.OrderEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OrderEventPending).
		Order("id ASC").
		Limit(r.batch).
		Find(&events).Error
	if err != nil {
		return 0, fmt.Errorf("load pending events: %w", err)
	}

	sent := 0
	for _, ev := range events {
		if err := r.processOne(ctx, ev); err != nil {
			return sent, fmt.Errorf("event id=%d: %w", ev.ID, err)
		}
		sent++
	}
	return sent, nil
}

func (r *Relay) processOne(ctx context.Context, ev model.OrderEvent) error {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.pub.Publish(pubCtx, ev); err != nil {
		msg := truncateRunes(err.Error(), maxLastErrorLen)
		upd := r.db.WithContext(ctx).Model(&model.OrderEvent{}).
			Where("id = ?", ev.ID).
			Updates(map[string]any{
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": msg,
			})
		if upd.Error != nil {
			r.log.Error("outbox record failure", zap.Uint("event_id", ev.ID), zap.Error(upd.Error))
		}
		return err
	}

	return r.db.WithContext(ctx).Model(&model.OrderEvent{}).
		Where("id = ? AND status = ?", ev.ID, model.OrderEventPending).
		Update("status", model.OrderEventSent).Error
}

// truncateRunes 按字符截断，不会切开多字节 UTF-8 字符。
func truncateRunes(s string, n int) string {
	s = strings.ToValidUTF8(s, "?")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

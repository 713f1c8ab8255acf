package model

import "time"

// OrderEventStatus 描述 outbox 事件投递状态。
type OrderEventStatus string

const (
	OrderEventPending OrderEventStatus = "pending"
	OrderEventSent    OrderEventStatus = "sent"
)

// OrderEventCompleted 结算成功事件类型。
const OrderEventCompleted = "order.completed"

// OrderEvent 是事务性 outbox 记录：与订单同事务写入，由 Relay 异步投递 Kafka。
type OrderEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Type        string           `gorm:"size:64;not null" json:"type"`
	AggregateID string           `gorm:"size:64;not null;index" json:"aggregate_id"` // 订单号
	Payload     []byte           `gorm:"not null" json:"payload"`
	Status      OrderEventStatus `gorm:"size:16;not null;default:'pending';index" json:"status"`
	// Attempts + LastError 便于排查投递失败。
	Attempts  int    `gorm:"not null;default:0" json:"attempts"`
	LastError string `gorm:"size:255" json:"last_error"`
}

func (OrderEvent) TableName() string { return "order_events" }

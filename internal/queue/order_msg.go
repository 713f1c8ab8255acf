package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"stock_reservation/internal/model"

	"github.com/shopspring/decimal"
)

// OrderMessage 是写入 Kafka 的结算完成事件。
type OrderMessage struct {
	OrderNo    string          `json:"order_no"`
	OrderID    uint            `json:"order_id"`
	ProductID  uint            `json:"product_id"`
	UserID     string          `json:"user_id"`
	Quantity   int64           `json:"quantity"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Validate 做最小字段校验，防止投递脏消息。
func (m OrderMessage) Validate() error {
	if m.OrderNo == "" {
		return fmt.Errorf("order_no is required")
	}
	if m.ProductID == 0 {
		return fmt.Errorf("product_id is required")
	}
	if m.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if m.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0")
	}
	return nil
}

// NewOrderCompletedEvent 将已创建订单封装为 outbox 记录，调用方负责在订单事务内写入。
func NewOrderCompletedEvent(o *model.Order) (*model.OrderEvent, error) {
	msg := OrderMessage{
		OrderNo:    o.OrderNo,
		OrderID:    o.ID,
		ProductID:  o.ProductID,
		UserID:     o.UserID,
		Quantity:   o.Quantity,
		TotalPrice: o.TotalPrice,
		CreatedAt:  o.CreatedAt,
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("order event: %w", err)
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal order event: %w", err)
	}
	return &model.OrderEvent{
		Type:        model.OrderEventCompleted,
		AggregateID: o.OrderNo,
		Payload:     b,
		Status:      model.OrderEventPending,
	}, nil
}

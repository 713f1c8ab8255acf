package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单状态。本服务只会产生 completed。
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// Order 结算订单，与库存扣减在同一事务内创建，之后不再修改。
type Order struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	OrderNo    string          `gorm:"size:64;uniqueIndex;not null" json:"orderNo"`
	UserID     string          `gorm:"size:128;not null;index" json:"userId"`
	ProductID  uint            `gorm:"not null;index" json:"productId"`
	Product    *Product        `gorm:"foreignKey:ProductID" json:"-"`
	Quantity   int64           `gorm:"not null" json:"quantity"`
	TotalPrice decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"totalPrice"` // price × quantity
	Status     OrderStatus     `gorm:"size:16;not null;default:'pending'" json:"status"`
}

func (Order) TableName() string { return "orders" }

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product 可售商品。TotalStock 是持久化的权威库存，只在结算成功时扣减；
// 购物车占位只存在于 Redis，不落库。
type Product struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name        string          `gorm:"size:128;not null" json:"name"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	TotalStock  int64           `gorm:"not null;default:0" json:"totalStock"`
}

func (Product) TableName() string { return "products" }

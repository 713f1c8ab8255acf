// Package ledger 是库存的权威账本：商品总库存与已完成订单都在这里持久化，
// 只有 CommitSale 会修改库存。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stock_reservation/internal/model"
	"stock_reservation/internal/queue"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// ProductSpec 创建商品所需字段。
type ProductSpec struct {
	Name        string
	Description string
	Price       decimal.Decimal
	TotalStock  int64
}

// Ledger 基于 gorm 的库存账本。
type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger { return &Ledger{db: db} }

// Create 写入新商品。价格与库存不能为负，即使上层已校验也再检查一次。
func (l *Ledger) Create(ctx context.Context, spec ProductSpec) (*model.Product, error) {
	if spec.Price.IsNegative() {
		return nil, fmt.Errorf("%w: price must be >= 0", ErrInvalidArgument)
	}
	if spec.TotalStock < 0 {
		return nil, fmt.Errorf("%w: totalStock must be >= 0", ErrInvalidArgument)
	}

	p := &model.Product{
		Name:        spec.Name,
		Description: spec.Description,
		Price:       spec.Price,
		TotalStock:  spec.TotalStock,
	}
	if err := l.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return p, nil
}

// Get 按 ID 读取商品。
func (l *Ledger) Get(ctx context.Context, productID uint) (*model.Product, error) {
	var p model.Product
	if err := l.db.WithContext(ctx).First(&p, productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product %d: %w", productID, err)
	}
	return &p, nil
}

// WithTx 在单个事务内执行 fn：fn 返回 nil 则提交，返回错误或 panic 都会回滚。
func (l *Ledger) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return l.db.WithContext(ctx).Transaction(fn)
}

// CommitSale 在一个事务内：加行锁重读商品 → 校验库存 → 扣减 → 写 completed 订单 → 写 outbox 事件。
// 任一步失败整体回滚，库存与订单都不会留下痕迹。
func (l *Ledger) CommitSale(ctx context.Context, productID uint, userID string, quantity int64) (*model.Order, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be > 0", ErrInvalidArgument)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidArgument)
	}

	var order *model.Order
	err := l.WithTx(ctx, func(tx *gorm.DB) error {
		var p model.Product
		// postgres 下为 SELECT ... FOR UPDATE；sqlite 驱动会忽略该子句，由单连接串行化保证隔离。
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, productID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProductNotFound
			}
			return fmt.Errorf("lock product: %w", err)
		}
		if p.TotalStock < quantity {
			return ErrInsufficientStock
		}

		// 条件更新兜底：即使锁语义缺失，也不会扣成负数。
		res := tx.Model(&model.Product{}).
			Where("id = ? AND total_stock >= ?", p.ID, quantity).
			Update("total_stock", gorm.Expr("total_stock - ?", quantity))
		if res.Error != nil {
			return fmt.Errorf("decrement stock: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientStock
		}

		o := &model.Order{
			OrderNo:    "SO" + strings.ReplaceAll(uuid.NewString(), "-", ""),
			UserID:     userID,
			ProductID:  p.ID,
			Quantity:   quantity,
			TotalPrice: p.Price.Mul(decimal.NewFromInt(quantity)),
			Status:     model.OrderCompleted,
		}
		if err := tx.Create(o).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		ev, err := queue.NewOrderCompletedEvent(o)
		if err != nil {
			return err
		}
		if err := tx.Create(ev).Error; err != nil {
			return fmt.Errorf("create order event: %w", err)
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

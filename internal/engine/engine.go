// Package engine 协调 Redis 占位与数据库账本：占位只是可撤销的软锁，
// 真正不可逆的库存扣减只发生在账本事务里。
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stock_reservation/internal/ledger"
	"stock_reservation/internal/model"

	"go.uber.org/zap"
)

// StockLedger 权威库存账本。
type StockLedger interface {
	Create(ctx context.Context, spec ledger.ProductSpec) (*model.Product, error)
	Get(ctx context.Context, productID uint) (*model.Product, error)
	CommitSale(ctx context.Context, productID uint, userID string, quantity int64) (*model.Order, error)
}

// HoldStore 带 TTL 的占位存储与计数器。
type HoldStore interface {
	ReservedCount(ctx context.Context, productID uint) (int64, error)
	Hold(ctx context.Context, productID uint, userID string) (int64, bool, error)
	AddHold(ctx context.Context, productID uint, userID string, quantity int64, ttl time.Duration) (int64, error)
	RemoveHold(ctx context.Context, productID uint, userID string) (int64, bool, error)
	LockCheckout(ctx context.Context, productID uint, userID string, ttl time.Duration) (string, bool, error)
	UnlockCheckout(ctx context.Context, productID uint, userID, token string) error
}

type Options struct {
	HoldTTL         time.Duration
	CheckoutLockTTL time.Duration
}

// Status 商品库存视图。AvailableStock 永不为负。
type Status struct {
	TotalStock     int64 `json:"totalStock"`
	ReservedStock  int64 `json:"reservedStock"`
	AvailableStock int64 `json:"availableStock"`
}

// Engine 是唯一同时读写占位存储和账本的组件。
// 不在进程内缓存任何库存状态，每次操作都重新读取。
type Engine struct {
	ledger StockLedger
	holds  HoldStore
	opts   Options
	log    *zap.Logger
}

func New(l StockLedger, h HoldStore, opts Options, log *zap.Logger) *Engine {
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = 600 * time.Second
	}
	if opts.CheckoutLockTTL <= 0 {
		opts.CheckoutLockTTL = 30 * time.Second
	}
	return &Engine{ledger: l, holds: h, opts: opts, log: log}
}

// CreateProduct 创建商品。
func (e *Engine) CreateProduct(ctx context.Context, spec ledger.ProductSpec) (*model.Product, error) {
	p, err := e.ledger.Create(ctx, spec)
	if err != nil {
		return nil, translate(err)
	}
	e.log.Info("product created", zap.Uint("product_id", p.ID), zap.Int64("total_stock", p.TotalStock))
	return p, nil
}

// Status 返回 {totalStock, reservedStock, availableStock}。
func (e *Engine) Status(ctx context.Context, productID uint) (Status, error) {
	p, err := e.ledger.Get(ctx, productID)
	if err != nil {
		return Status{}, translate(err)
	}
	reserved, err := e.holds.ReservedCount(ctx, productID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		TotalStock:     p.TotalStock,
		ReservedStock:  reserved,
		AvailableStock: max(0, p.TotalStock-reserved),
	}, nil
}

// Reserve 为用户占位 quantity 件。库存不足返回 false，不产生副作用。
//
// 「读 → 判断 → 写」不是线性一致的：并发 Reserve 可能共同超占。
// 这是有意为之，超占会在 Checkout 的账本事务中被拦下。
func (e *Engine) Reserve(ctx context.Context, productID uint, userID string, quantity int64) (bool, error) {
	if quantity < 1 {
		return false, fmt.Errorf("%w: quantity must be >= 1", ErrValidation)
	}
	if err := checkUserID(userID); err != nil {
		return false, err
	}

	p, err := e.ledger.Get(ctx, productID)
	if err != nil {
		return false, translate(err)
	}
	reserved, err := e.holds.ReservedCount(ctx, productID)
	if err != nil {
		return false, err
	}
	if p.TotalStock-reserved < quantity {
		return false, nil
	}

	prev, err := e.holds.AddHold(ctx, productID, userID, quantity, e.opts.HoldTTL)
	if err != nil {
		return false, err
	}
	e.log.Debug("hold placed",
		zap.Uint("product_id", productID),
		zap.String("user_id", userID),
		zap.Int64("quantity", quantity),
		zap.Int64("replaced", prev),
	)
	return true, nil
}

// Cancel 释放用户占位。没有占位返回 false，重复调用是安全的。
func (e *Engine) Cancel(ctx context.Context, productID uint, userID string) (bool, error) {
	if err := checkUserID(userID); err != nil {
		return false, err
	}
	_, removed, err := e.holds.RemoveHold(ctx, productID, userID)
	if err != nil {
		return false, err
	}
	return removed, nil
}

// Checkout 结算用户占位，仅当账本事务提交成功时返回 true。
func (e *Engine) Checkout(ctx context.Context, productID uint, userID string) (bool, error) {
	order, err := e.CheckoutOrder(ctx, productID, userID)
	if err != nil {
		return false, err
	}
	return order != nil, nil
}

// CheckoutOrder 与 Checkout 相同，但返回创建的订单；未结算时返回 (nil, nil)。
//
// 流程：
// 1. 获取用户结算锁（同一占位不会被并发结算两次）
// 2. 读取占位，没有或已过期则直接返回
// 3. 账本事务：加锁重读、校验、扣减、写订单；失败时占位保持不变
// 4. 事务提交后清理占位与计数器；清理失败只记日志，不回滚已提交的销售
func (e *Engine) CheckoutOrder(ctx context.Context, productID uint, userID string) (*model.Order, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	log := e.log.With(zap.Uint("product_id", productID), zap.String("user_id", userID))

	token, locked, err := e.holds.LockCheckout(ctx, productID, userID, e.opts.CheckoutLockTTL)
	if err != nil {
		return nil, err
	}
	if !locked {
		log.Info("checkout already in progress")
		return nil, nil
	}
	defer func() {
		if err := e.holds.UnlockCheckout(context.WithoutCancel(ctx), productID, userID, token); err != nil {
			log.Warn("release checkout lock", zap.Error(err))
		}
	}()

	quantity, ok, err := e.holds.Hold(ctx, productID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	order, err := e.ledger.CommitSale(ctx, productID, userID, quantity)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientStock) || errors.Is(err, ledger.ErrProductNotFound) {
			log.Info("checkout rejected by ledger", zap.Int64("quantity", quantity), zap.Error(err))
			return nil, nil
		}
		return nil, translate(err)
	}

	// 销售已落库，后续步骤不再受调用方取消影响。
	if _, _, err := e.holds.RemoveHold(context.WithoutCancel(ctx), productID, userID); err != nil {
		log.Error("checkout committed but hold cleanup failed; stale hold remains until ttl",
			zap.Uint("order_id", order.ID),
			zap.String("order_no", order.OrderNo),
			zap.Int64("quantity", quantity),
			zap.Error(err),
		)
	}
	log.Info("checkout completed", zap.String("order_no", order.OrderNo), zap.Int64("quantity", quantity))
	return order, nil
}

func checkUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	return nil
}

// translate 把账本错误映射为引擎错误分类，其余错误原样返回。
func translate(err error) error {
	switch {
	case errors.Is(err, ledger.ErrProductNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, ledger.ErrInvalidArgument):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	case errors.Is(err, ledger.ErrInsufficientStock):
		return fmt.Errorf("%w: %v", ErrInsufficientStock, err)
	default:
		return err
	}
}

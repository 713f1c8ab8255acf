// Package reservation 维护 Redis 中带 TTL 的购物车占位，以及每个商品的占位总量计数器。
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	rediskey "stock_reservation/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// luaAddHold：原子地「读旧占位 → 计数器加新量、减旧量 → 覆盖写占位并设置过期」。
// KEYS[1]=计数器，KEYS[2]=用户占位；ARGV[1]=数量，ARGV[2]=过期毫秒。返回旧占位数量。
// 数量全程以字符串交给 INCRBY/DECRBY，不经过 Lua 浮点数。
const luaAddHold = `
local counter = KEYS[1]
local hold = KEYS[2]
local prev = redis.call('GET', hold)
redis.call('INCRBY', counter, ARGV[1])
if prev then
  redis.call('DECRBY', counter, prev)
end
redis.call('SET', hold, ARGV[1], 'PX', ARGV[2])
return prev or 0
`

// luaRemoveHold：原子地「读占位 → 计数器减去该数量 → 删除占位」。
// 占位不存在返回 0。
const luaRemoveHold = `
local counter = KEYS[1]
local hold = KEYS[2]
local qty = redis.call('GET', hold)
if not qty then
  return 0
end
redis.call('DECRBY', counter, qty)
redis.call('DEL', hold)
return qty
`

// Store 基于 go-redis 的占位存储。
type Store struct {
	rdb *rd.Client
}

func NewStore(rdb *rd.Client) *Store { return &Store{rdb: rdb} }

// ReservedCount 返回商品当前占位总量，缺省为 0；负值按 0 处理。
func (s *Store) ReservedCount(ctx context.Context, productID uint) (int64, error) {
	n, err := s.rdb.Get(ctx, rediskey.ReservedKey(productID)).Int64()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get reserved count: %w", err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// Hold 返回用户占位数量；found=false 表示没有占位或已过期。
func (s *Store) Hold(ctx context.Context, productID uint, userID string) (int64, bool, error) {
	n, err := s.rdb.Get(ctx, rediskey.HoldKey(productID, userID)).Int64()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get hold: %w", err)
	}
	return n, true, nil
}

// AddHold 写入（覆盖）用户占位并同步修正计数器，返回被覆盖的旧占位数量。
func (s *Store) AddHold(ctx context.Context, productID uint, userID string, quantity int64, ttl time.Duration) (int64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("hold quantity must be > 0")
	}
	if ttl < time.Millisecond {
		return 0, fmt.Errorf("hold ttl must be >= 1ms")
	}
	keys := []string{rediskey.ReservedKey(productID), rediskey.HoldKey(productID, userID)}
	prev, err := s.rdb.Eval(ctx, luaAddHold, keys, quantity, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("add hold: %w", err)
	}
	return prev, nil
}

// RemoveHold 删除用户占位并从计数器扣回；removed=false 表示本来就没有占位。
func (s *Store) RemoveHold(ctx context.Context, productID uint, userID string) (int64, bool, error) {
	keys := []string{rediskey.ReservedKey(productID), rediskey.HoldKey(productID, userID)}
	n, err := s.rdb.Eval(ctx, luaRemoveHold, keys).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("remove hold: %w", err)
	}
	return n, n > 0, nil
}

// LockCheckout 获取用户在该商品上的结算锁。
func (s *Store) LockCheckout(ctx context.Context, productID uint, userID string, ttl time.Duration) (string, bool, error) {
	token, ok, err := rediskey.AcquireCheckoutLock(ctx, s.rdb, productID, userID, ttl)
	if err != nil {
		return "", false, fmt.Errorf("acquire checkout lock: %w", err)
	}
	return token, ok, nil
}

// UnlockCheckout 释放结算锁（token 不匹配时什么也不做）。
func (s *Store) UnlockCheckout(ctx context.Context, productID uint, userID, token string) error {
	if err := rediskey.ReleaseCheckoutLock(ctx, s.rdb, productID, userID, token); err != nil {
		return fmt.Errorf("release checkout lock: %w", err)
	}
	return nil
}

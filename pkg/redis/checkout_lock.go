package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaReleaseIfMatch 仅当锁值匹配 token 时才删除，避免误删过期后被他人重新获取的锁。
const luaReleaseIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// AcquireCheckoutLock 尝试获取结算锁。ok=false 表示已有同一用户的结算在进行。
func AcquireCheckoutLock(ctx context.Context, rdb rd.Cmdable, productID uint, userID string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = rdb.SetNX(ctx, CheckoutLockKey(productID, userID), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseCheckoutLock 安全释放结算锁。
func ReleaseCheckoutLock(ctx context.Context, rdb rd.Cmdable, productID uint, userID, token string) error {
	_, err := rdb.Eval(ctx, luaReleaseIfMatch, []string{CheckoutLockKey(productID, userID)}, token).Int()
	return err
}

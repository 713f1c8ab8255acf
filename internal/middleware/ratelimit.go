package middleware

import (
	"net/http"
	"strconv"
	"time"

	rediskey "stock_reservation/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// luaRateLimit：按毫秒时间戳的滑动窗口计数，原子执行。
// KEYS[1]=限流key；ARGV[1]=当前毫秒，ARGV[2]=窗口毫秒，ARGV[3]=本次请求成员，ARGV[4]=窗口内上限。
// 返回 {是否放行(1/0), 剩余次数, 距离最早一条过期的毫秒数}。
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowMs = tonumber(ARGV[2])
local limit = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - windowMs)
local count = redis.call('ZCARD', key)

if count < limit then
  redis.call('ZADD', key, now, ARGV[3])
  redis.call('PEXPIRE', key, windowMs)
  return {1, limit - count - 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retryMs = windowMs
if oldest[2] then
  retryMs = tonumber(oldest[2]) + windowMs - now
end
return {0, 0, retryMs}
`

// RedisRateLimit 按客户端 IP 的分布式滑动窗口限流。Redis 出错时放行。
func RedisRateLimit(rdb *rd.Client, limit int, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	limitHeader := strconv.Itoa(limit)
	return func(c *gin.Context) {
		key := rediskey.RateLimitKey(c.ClientIP())

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			time.Now().UnixMilli(), window.Milliseconds(), uuid.NewString(), limit).Int64Slice()
		if err != nil || len(res) != 3 {
			log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}

		allowed, remaining, retryMs := res[0] == 1, res[1], res[2]
		c.Header("X-RateLimit-Limit", limitHeader)
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !allowed {
			c.Header("Retry-After", strconv.FormatInt(max(1, (retryMs+999)/1000), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"message": "Too many requests - please try again later",
			})
			return
		}
		c.Next()
	}
}

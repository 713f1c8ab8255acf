package redis

import "fmt"

// reservedKeyPrefix 与 ReservedKey 保持一致，供 SCAN 枚举所有商品计数器。
const reservedKeyPrefix = "reserved:"

// ReservedKey 商品维度的占位总量计数器。
func ReservedKey(productID uint) string {
	return fmt.Sprintf("%s%d", reservedKeyPrefix, productID)
}

// ReservedKeyPattern 匹配全部商品计数器。
func ReservedKeyPattern() string { return reservedKeyPrefix + "*" }

// ParseReservedKey 从计数器键名解析商品 ID。
func ParseReservedKey(key string) (uint, bool) {
	var id uint
	if _, err := fmt.Sscanf(key, reservedKeyPrefix+"%d", &id); err != nil {
		return 0, false
	}
	return id, ReservedKey(id) == key
}

// HoldKey 某用户在某商品上的占位，带 TTL。
func HoldKey(productID uint, userID string) string {
	return fmt.Sprintf("user:%s:product:%d", userID, productID)
}

// HoldKeyPattern 匹配某商品下所有用户的占位。
func HoldKeyPattern(productID uint) string {
	return fmt.Sprintf("user:*:product:%d", productID)
}

// CheckoutLockKey 标记某用户在某商品上的结算正在进行。
func CheckoutLockKey(productID uint, userID string) string {
	return fmt.Sprintf("checkout:lock:%d:%s", productID, userID)
}

// RateLimitKey 按客户端 IP 的限流键。
func RateLimitKey(clientIP string) string {
	return fmt.Sprintf("rate_limit:ip:%s", clientIP)
}

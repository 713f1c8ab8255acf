package reservation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	rediskey "stock_reservation/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	scanCount         = 200
	reconcileMaxRetry = 3
)

// keyReader 是 *rd.Client 与 *rd.Tx 共有的读命令子集。
type keyReader interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *rd.ScanCmd
	MGet(ctx context.Context, keys ...string) *rd.SliceCmd
}

// Reconcile 用当前存活占位之和重置商品计数器。
// 占位 TTL 到期后 Redis 只删除占位键，计数器不会随之减少，这里负责把漂移纠正回来。
// 整个过程 WATCH 计数器：期间若有 AddHold/RemoveHold 修改计数器则放弃本次写入并重试。
func (s *Store) Reconcile(ctx context.Context, productID uint) (before, after int64, err error) {
	counterKey := rediskey.ReservedKey(productID)

	for attempt := 0; attempt < reconcileMaxRetry; attempt++ {
		err = s.rdb.Watch(ctx, func(tx *rd.Tx) error {
			cur, err := tx.Get(ctx, counterKey).Int64()
			if err != nil && !errors.Is(err, rd.Nil) {
				return err
			}
			before = cur

			keys, err := scanAll(ctx, tx, rediskey.HoldKeyPattern(productID))
			if err != nil {
				return err
			}
			sum, err := sumHolds(ctx, tx, keys)
			if err != nil {
				return err
			}
			after = sum

			_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
				pipe.Set(ctx, counterKey, sum, 0)
				return nil
			})
			return err
		}, counterKey)

		if err == nil {
			return before, after, nil
		}
		if !errors.Is(err, rd.TxFailedErr) {
			return 0, 0, fmt.Errorf("reconcile product %d: %w", productID, err)
		}
	}
	return 0, 0, fmt.Errorf("reconcile product %d: %w", productID, err)
}

// ProductsWithCounters 枚举所有存在计数器的商品。
func (s *Store) ProductsWithCounters(ctx context.Context) ([]uint, error) {
	keys, err := scanAll(ctx, s.rdb, rediskey.ReservedKeyPattern())
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(keys))
	for _, k := range keys {
		if id, ok := rediskey.ParseReservedKey(k); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func scanAll(ctx context.Context, c keyReader, pattern string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := c.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func sumHolds(ctx context.Context, c keyReader, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("mget holds: %w", err)
	}
	var sum int64
	for _, v := range vals {
		// 扫描与读取之间过期的占位返回 nil，直接跳过。
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		sum += n
	}
	return sum, nil
}

// Reconciler 周期性地对所有商品执行 Reconcile。
type Reconciler struct {
	store    *Store
	interval time.Duration
	log      *zap.Logger
}

func NewReconciler(store *Store, interval time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{store: store, interval: interval, log: log}
}

// Run 阻塞运行直到 ctx 取消。
func (r *Reconciler) Run(ctx context.Context) {
	r.log.Info("reservation reconciler started", zap.Duration("interval", r.interval))
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reservation reconciler stopped")
			return
		case <-t.C:
			if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("reservation reconcile failed", zap.Error(err))
			}
		}
	}
}

// RunOnce 立即校正一轮，单个商品失败不影响其他商品。
func (r *Reconciler) RunOnce(ctx context.Context) error {
	ids, err := r.store.ProductsWithCounters(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		before, after, err := r.store.Reconcile(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if before != after {
			r.log.Info("reserved counter drift corrected",
				zap.Uint("product_id", id),
				zap.Int64("before", before),
				zap.Int64("after", after),
			)
		}
	}
	return errors.Join(errs...)
}

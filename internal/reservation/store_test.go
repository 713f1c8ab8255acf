package reservation

import (
	"context"
	"sync"
	"testing"
	"time"

	rediskey "stock_reservation/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *rd.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client), mr, client
}

func TestReservedCount_DefaultsToZero(t *testing.T) {
	s, _, _ := newTestStore(t)

	n, err := s.ReservedCount(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReservedCount_ClampsNegative(t *testing.T) {
	s, mr, _ := newTestStore(t)
	require.NoError(t, mr.Set(rediskey.ReservedKey(1), "-4"))

	n, err := s.ReservedCount(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAddHold_SetsHoldAndCounter(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()

	prev, err := s.AddHold(ctx, 7, "alice", 3, 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, prev)

	q, ok, err := s.Hold(ctx, 7, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 3, q)

	n, err := s.ReservedCount(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	ttl := mr.TTL(rediskey.HoldKey(7, "alice"))
	assert.Equal(t, 10*time.Minute, ttl)
	// 计数器本身不过期
	assert.Zero(t, mr.TTL(rediskey.ReservedKey(7)))
}

func TestAddHold_OverwriteCorrectsCounter(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddHold(ctx, 7, "alice", 3, time.Minute)
	require.NoError(t, err)
	_, err = s.AddHold(ctx, 7, "bob", 1, time.Minute)
	require.NoError(t, err)

	prev, err := s.AddHold(ctx, 7, "alice", 2, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 3, prev)

	n, err := s.ReservedCount(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	q, _, err := s.Hold(ctx, 7, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, q)
}

func TestAddHold_LargeQuantitiesStayExact(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()
	const big = int64(1<<60 - 1)

	_, err := s.AddHold(ctx, 8, "whale", big, time.Minute)
	require.NoError(t, err)

	counter, err := mr.Get(rediskey.ReservedKey(8))
	require.NoError(t, err)
	assert.Equal(t, "1152921504606846975", counter)

	q, ok, err := s.Hold(ctx, 8, "whale")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, big, q)

	prev, err := s.AddHold(ctx, 8, "whale", big-1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, big, prev)

	n, err := s.ReservedCount(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, big-1, n)

	removed, ok, err := s.RemoveHold(ctx, 8, "whale")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, big-1, removed)

	n, err = s.ReservedCount(ctx, 8)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAddHold_RejectsBadInput(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddHold(ctx, 1, "u", 0, time.Minute)
	assert.Error(t, err)
	_, err = s.AddHold(ctx, 1, "u", 1, 0)
	assert.Error(t, err)
}

func TestRemoveHold(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddHold(ctx, 9, "alice", 4, time.Minute)
	require.NoError(t, err)

	q, removed, err := s.RemoveHold(ctx, 9, "alice")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.EqualValues(t, 4, q)

	n, err := s.ReservedCount(ctx, 9)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, ok, err := s.Hold(ctx, 9, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	// 第二次删除：没有可删的占位
	q, removed, err = s.RemoveHold(ctx, 9, "alice")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Zero(t, q)

	n, err = s.ReservedCount(ctx, 9)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHold_ExpiresWithoutTouchingCounter(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddHold(ctx, 3, "alice", 2, 5*time.Second)
	require.NoError(t, err)

	mr.FastForward(6 * time.Second)

	_, ok, err := s.Hold(ctx, 3, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.ReservedCount(ctx, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "passive expiry leaves the counter untouched")
}

func TestReconcile_CorrectsDrift(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddHold(ctx, 5, "alice", 2, 5*time.Second)
	require.NoError(t, err)
	_, err = s.AddHold(ctx, 5, "bob", 3, time.Hour)
	require.NoError(t, err)
	_, err = s.AddHold(ctx, 50, "carol", 1, time.Hour)
	require.NoError(t, err)

	mr.FastForward(10 * time.Second)

	before, after, err := s.Reconcile(ctx, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, before)
	assert.EqualValues(t, 3, after)

	n, err := s.ReservedCount(ctx, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// 其他商品的占位不会被算进来
	n, err = s.ReservedCount(ctx, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestReconciler_RunOnce(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddHold(ctx, 1, "a", 4, time.Second)
	require.NoError(t, err)
	_, err = s.AddHold(ctx, 2, "b", 2, time.Second)
	require.NoError(t, err)
	_, err = s.AddHold(ctx, 2, "c", 1, time.Hour)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	ids, err := s.ProductsWithCounters(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1, 2}, ids)

	r := NewReconciler(s, time.Minute, zap.NewNop())
	require.NoError(t, r.RunOnce(ctx))

	n1, _ := s.ReservedCount(ctx, 1)
	n2, _ := s.ReservedCount(ctx, 2)
	assert.Zero(t, n1)
	assert.EqualValues(t, 1, n2)
}

func TestCheckoutLock(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	token, ok, err := s.LockCheckout(ctx, 1, "alice", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.LockCheckout(ctx, 1, "alice", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	// 错误 token 不会释放
	require.NoError(t, s.UnlockCheckout(ctx, 1, "alice", "not-the-token"))
	_, ok, err = s.LockCheckout(ctx, 1, "alice", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UnlockCheckout(ctx, 1, "alice", token))
	_, ok, err = s.LockCheckout(ctx, 1, "alice", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

// beforeMGetHook 在第一次 MGET 发出前执行 fn，模拟校正过程中插入的新占位。
type beforeMGetHook struct {
	once  sync.Once
	fired bool
	fn    func()
}

func (h *beforeMGetHook) DialHook(next rd.DialHook) rd.DialHook { return next }

func (h *beforeMGetHook) ProcessHook(next rd.ProcessHook) rd.ProcessHook {
	return func(ctx context.Context, cmd rd.Cmder) error {
		if cmd.Name() == "mget" {
			h.once.Do(func() {
				h.fired = true
				h.fn()
			})
		}
		return next(ctx, cmd)
	}
}

func (h *beforeMGetHook) ProcessPipelineHook(next rd.ProcessPipelineHook) rd.ProcessPipelineHook {
	return next
}

func TestReconcile_RetriesWhenHoldAddedConcurrently(t *testing.T) {
	s, mr, client := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddHold(ctx, 9, "early", 2, time.Hour)
	require.NoError(t, err)
	_, err = s.AddHold(ctx, 9, "gone", 5, time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	other := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	defer other.Close()
	late := NewStore(other)

	hook := &beforeMGetHook{fn: func() {
		_, err := late.AddHold(ctx, 9, "late", 4, time.Hour)
		require.NoError(t, err)
	}}
	client.AddHook(hook)

	before, after, err := s.Reconcile(ctx, 9)
	require.NoError(t, err)
	require.True(t, hook.fired)

	// 第一次 EXEC 因计数器被改动而放弃，重试时读到了新占位
	assert.EqualValues(t, 11, before)
	assert.EqualValues(t, 6, after)

	n, err := s.ReservedCount(ctx, 9)
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)
}

package redlock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Snarlbyte/redlock/pkg/redlock"
)

// =============================================================================
// 测试辅助
// =============================================================================

// newEndpoints 启动 n 个 miniredis 端点并创建对应客户端。
func newEndpoints(t *testing.T, n int) ([]*miniredis.Miniredis, []redis.UniversalClient) {
	t.Helper()

	servers := make([]*miniredis.Miniredis, n)
	clients := make([]redis.UniversalClient, n)
	for i := range n {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		servers[i] = mr
		clients[i] = client
	}
	return servers, clients
}

// unreachableClient 创建指向不可达地址的客户端。
func unreachableClient(t *testing.T) redis.UniversalClient {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// fastOpts 缩短重试节奏，让失败路径测试保持快速。
func fastOpts(retryCount int) []redlock.Option {
	return []redlock.Option{
		redlock.WithRetryCount(retryCount),
		redlock.WithRetryDelay(5 * time.Millisecond),
		redlock.WithRetryJitter(time.Millisecond),
	}
}

// =============================================================================
// 构造校验
// =============================================================================

func TestNew_NoEndpoints(t *testing.T) {
	_, err := redlock.New(nil)
	assert.ErrorIs(t, err, redlock.ErrNoEndpoints)
}

func TestNew_NilClient(t *testing.T) {
	_, clients := newEndpoints(t, 1)
	_, err := redlock.New([]redis.UniversalClient{clients[0], nil})
	assert.ErrorIs(t, err, redlock.ErrNilClient)
}

func TestNew_InvalidOptions(t *testing.T) {
	_, clients := newEndpoints(t, 1)

	tests := []struct {
		name string
		opt  redlock.Option
		want error
	}{
		{"drift_zero", redlock.WithDriftFactor(0), redlock.ErrInvalidDriftFactor},
		{"drift_one", redlock.WithDriftFactor(1), redlock.ErrInvalidDriftFactor},
		{"delay_zero", redlock.WithRetryDelay(0), redlock.ErrInvalidRetryDelay},
		{"jitter_negative", redlock.WithRetryJitter(-time.Millisecond), redlock.ErrInvalidRetryJitter},
		{"threshold_zero", redlock.WithAutoExtendThreshold(0), redlock.ErrInvalidThreshold},
		{"db_negative", redlock.WithDB(-1), redlock.ErrInvalidDB},
		{"name_count", redlock.WithEndpointNames([]string{"a", "b"}), redlock.ErrEndpointNameCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := redlock.New(clients, tt.opt)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNew_Quorum(t *testing.T) {
	for _, tt := range []struct {
		endpoints int
		quorum    int
	}{
		{1, 1}, {2, 2}, {3, 2}, {4, 3}, {5, 3},
	} {
		_, clients := newEndpoints(t, tt.endpoints)
		rl, err := redlock.New(clients)
		require.NoError(t, err)
		assert.Equal(t, tt.quorum, rl.Quorum())
	}
}

func TestHealth(t *testing.T) {
	servers, clients := newEndpoints(t, 2)
	rl, err := redlock.New(clients)
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, rl.Health(ctx))

	servers[0].Close()
	err = rl.Health(ctx)
	assert.True(t, redlock.IsTransport(err))
}

// =============================================================================
// 参数守卫
// =============================================================================

func TestAcquire_InvalidDuration(t *testing.T) {
	_, clients := newEndpoints(t, 1)
	rl, err := redlock.New(clients)
	require.NoError(t, err)

	ctx := context.Background()

	tests := []struct {
		name string
		ttl  time.Duration
	}{
		{"zero", 0},
		{"negative", -time.Second},
		{"sub_millisecond", 500 * time.Microsecond},
		{"fractional_millisecond", time.Millisecond + 300*time.Microsecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rl.Acquire(ctx, []string{"{r}f"}, tt.ttl)
			require.ErrorIs(t, err, redlock.ErrInvalidDuration)
			assert.Equal(t, "Duration must be an integer value in milliseconds.", redlock.ErrInvalidDuration.Error())
		})
	}
}

func TestAcquire_EmptyResources(t *testing.T) {
	_, clients := newEndpoints(t, 1)
	rl, err := redlock.New(clients)
	require.NoError(t, err)

	_, err = rl.Acquire(context.Background(), nil, time.Second)
	assert.ErrorIs(t, err, redlock.ErrNoResources)
}

// =============================================================================
// 单端点往返
// =============================================================================

func TestAcquire_RoundTrip(t *testing.T) {
	servers, clients := newEndpoints(t, 1)
	mr := servers[0]
	rl, err := redlock.New(clients)
	require.NoError(t, err)

	ctx := context.Background()
	const ttl = 8 * time.Second

	lock, err := rl.Acquire(ctx, []string{"{r}a"}, ttl)
	require.NoError(t, err)

	// 端点上持有锁值，TTL 在漂移余量之内
	got, err := mr.Get("{r}a")
	require.NoError(t, err)
	assert.Equal(t, lock.Value(), got)
	assert.InDelta(t, ttl.Seconds(), mr.TTL("{r}a").Seconds(), 0.5)

	// 句柄的有效期已扣除漂移余量
	assert.Greater(t, lock.Remaining(), time.Duration(0))
	assert.LessOrEqual(t, lock.Remaining(), ttl)
	require.Len(t, lock.Attempts(), 1)
	assert.Len(t, lock.Attempts()[0].VotesFor, 1)

	// 续期：值不变、有效期推进
	before := lock.ExpiresAt()
	require.NoError(t, lock.Extend(ctx, 24*time.Second))
	after, err := mr.Get("{r}a")
	require.NoError(t, err)
	assert.Equal(t, lock.Value(), after)
	assert.InDelta(t, (24 * time.Second).Seconds(), mr.TTL("{r}a").Seconds(), 0.5)
	assert.True(t, lock.ExpiresAt().After(before))

	// 释放后 key 消失
	require.NoError(t, lock.Release(ctx))
	assert.False(t, mr.Exists("{r}a"))
}

func TestAcquire_MultiResource(t *testing.T) {
	servers, clients := newEndpoints(t, 1)
	mr := servers[0]
	rl, err := redlock.New(clients)
	require.NoError(t, err)

	ctx := context.Background()
	lock, err := rl.Acquire(ctx, []string{"{r}a1", "{r}a2"}, 4*time.Second)
	require.NoError(t, err)

	v1, err := mr.Get("{r}a1")
	require.NoError(t, err)
	v2, err := mr.Get("{r}a2")
	require.NoError(t, err)
	assert.Equal(t, lock.Value(), v1)
	assert.Equal(t, lock.Value(), v2)

	require.NoError(t, lock.Release(ctx))
	assert.False(t, mr.Exists("{r}a1"))
	assert.False(t, mr.Exists("{r}a2"))
}

func TestAcquire_AfterRelease(t *testing.T) {
	_, clients := newEndpoints(t, 1)
	rl, err := redlock.New(clients)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := rl.Acquire(ctx, []string{"{r}rt"}, time.Second)
	require.NoError(t, err)
	require.NoError(t, first.Release(ctx))

	second, err := rl.Acquire(ctx, []string{"{r}rt"}, time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, first.Value(), second.Value())
	require.NoError(t, second.Release(ctx))
}

// =============================================================================
// 互斥与争用
// =============================================================================

func TestAcquire_Exclusion(t *testing.T) {
	servers, clients := newEndpoints(t, 1)
	mr := servers[0]
	rl, err := redlock.New(clients, fastOpts(2)...)
	require.NoError(t, err)

	ctx := context.Background()
	holder, err := rl.Acquire(ctx, []string{"{r}c"}, 30*time.Second)
	require.NoError(t, err)

	_, err = rl.Acquire(ctx, []string{"{r}c"}, 30*time.Second)
	ee, ok := redlock.IsExecutionError(err)
	require.True(t, ok)

	// 尝试总数 = retryCount + 1，每张反对票都是资源争用
	assert.Len(t, ee.Attempts, 3)
	for _, attempt := range ee.Attempts {
		assert.Empty(t, attempt.VotesFor)
		require.Len(t, attempt.VotesAgainst, 1)
		for _, reason := range attempt.VotesAgainst {
			assert.ErrorIs(t, reason, redlock.ErrResourceLocked)
		}
	}
	assert.True(t, redlock.IsResourceLocked(err))
	assert.False(t, redlock.IsTransport(err))

	// 原持有者的票据不受失败尝试影响
	got, err := mr.Get("{r}c")
	require.NoError(t, err)
	assert.Equal(t, holder.Value(), got)
}

func TestAcquire_Overlap(t *testing.T) {
	servers, clients := newEndpoints(t, 1)
	mr := servers[0]
	rl, err := redlock.New(clients, fastOpts(1)...)
	require.NoError(t, err)

	ctx := context.Background()
	holder, err := rl.Acquire(ctx, []string{"{r}c1", "{r}c2"}, 30*time.Second)
	require.NoError(t, err)

	_, err = rl.Acquire(ctx, []string{"{r}c2", "{r}c3"}, 30*time.Second)
	_, ok := redlock.IsExecutionError(err)
	require.True(t, ok)

	// 持有中的票据原样保留，失败尝试未写入任何新 key
	v1, err := mr.Get("{r}c1")
	require.NoError(t, err)
	v2, err := mr.Get("{r}c2")
	require.NoError(t, err)
	assert.Equal(t, holder.Value(), v1)
	assert.Equal(t, holder.Value(), v2)
	assert.False(t, mr.Exists("{r}c3"))
}

// =============================================================================
// 不可达端点
// =============================================================================

func TestAcquire_Unreachable(t *testing.T) {
	client := unreachableClient(t)
	rl, err := redlock.New([]redis.UniversalClient{client}, fastOpts(1)...)
	require.NoError(t, err)

	_, err = rl.Acquire(context.Background(), []string{"{r}b"}, time.Second)
	ee, ok := redlock.IsExecutionError(err)
	require.True(t, ok)

	assert.Len(t, ee.Attempts, 2)
	for _, attempt := range ee.Attempts {
		require.Len(t, attempt.VotesAgainst, 1)
		for _, reason := range attempt.VotesAgainst {
			var te *redlock.TransportError
			assert.ErrorAs(t, reason, &te)
		}
	}
	assert.True(t, redlock.IsTransport(err))
	assert.False(t, redlock.IsResourceLocked(err))
}

// =============================================================================
// 法定多数
// =============================================================================

func TestAcquire_QuorumWithMinorityDown(t *testing.T) {
	servers, clients := newEndpoints(t, 3)
	servers[0].Close()

	rl, err := redlock.New(clients, fastOpts(1)...)
	require.NoError(t, err)

	ctx := context.Background()
	lock, err := rl.Acquire(ctx, []string{"{r}q"}, 4*time.Second)
	require.NoError(t, err)

	attempt := lock.Attempts()[0]
	assert.Len(t, attempt.VotesFor, 2)
	assert.Len(t, attempt.VotesAgainst, 1)

	// 存活端点都持有同一锁值
	for _, mr := range servers[1:] {
		got, gerr := mr.Get("{r}q")
		require.NoError(t, gerr)
		assert.Equal(t, lock.Value(), got)
	}

	require.NoError(t, lock.Release(ctx))
	for _, mr := range servers[1:] {
		assert.False(t, mr.Exists("{r}q"))
	}
}

func TestAcquire_QuorumLost(t *testing.T) {
	servers, clients := newEndpoints(t, 3)
	servers[0].Close()
	servers[1].Close()

	rl, err := redlock.New(clients, fastOpts(1)...)
	require.NoError(t, err)

	_, err = rl.Acquire(context.Background(), []string{"{r}q2"}, 4*time.Second)
	ee, ok := redlock.IsExecutionError(err)
	require.True(t, ok)
	assert.Len(t, ee.Attempts, 2)

	// 少数赞成票已被回滚
	assert.False(t, servers[2].Exists("{r}q2"))
}

func TestAcquire_ConcurrentSingleWinner(t *testing.T) {
	_, clients := newEndpoints(t, 3)
	rl, err := redlock.New(clients, fastOpts(0)...)
	require.NoError(t, err)

	ctx := context.Background()
	const contenders = 8

	type outcome struct {
		lock *redlock.Lock
		err  error
	}
	results := make(chan outcome, contenders)
	for range contenders {
		go func() {
			lock, aerr := rl.Acquire(ctx, []string{"{r}race"}, 10*time.Second)
			results <- outcome{lock: lock, err: aerr}
		}()
	}

	winners := 0
	var winner *redlock.Lock
	for range contenders {
		res := <-results
		if res.err == nil {
			winners++
			winner = res.lock
		}
	}
	assert.Equal(t, 1, winners)
	require.NotNil(t, winner)
	require.NoError(t, winner.Release(ctx))
}

// =============================================================================
// 过期与续期
// =============================================================================

func TestAcquire_AfterExpiry(t *testing.T) {
	servers, clients := newEndpoints(t, 1)
	mr := servers[0]
	rl, err := redlock.New(clients, fastOpts(0)...)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = rl.Acquire(ctx, []string{"{r}d"}, 200*time.Millisecond)
	require.NoError(t, err)

	mr.FastForward(300 * time.Millisecond)

	lock, err := rl.Acquire(ctx, []string{"{r}d"}, 200*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))
}

func TestExtend_FailsWhenStolen(t *testing.T) {
	servers, clients := newEndpoints(t, 1)
	mr := servers[0]
	rl, err := redlock.New(clients, fastOpts(0)...)
	require.NoError(t, err)

	ctx := context.Background()
	lock, err := rl.Acquire(ctx, []string{"{r}s"}, time.Second)
	require.NoError(t, err)

	// 模拟锁被抢走：键值被改写
	require.NoError(t, mr.Set("{r}s", "someone-else"))

	err = lock.Extend(ctx, time.Second)
	_, ok := redlock.IsExecutionError(err)
	require.True(t, ok)
	assert.True(t, redlock.IsResourceLocked(err))

	// 失败的续期使句柄失效
	assert.ErrorIs(t, lock.Extend(ctx, time.Second), redlock.ErrLockLost)
}

// =============================================================================
// 句柄生命周期
// =============================================================================

func TestLock_ReleaseConsumesHandle(t *testing.T) {
	_, clients := newEndpoints(t, 1)
	rl, err := redlock.New(clients)
	require.NoError(t, err)

	ctx := context.Background()
	lock, err := rl.Acquire(ctx, []string{"{r}h"}, time.Second)
	require.NoError(t, err)

	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), redlock.ErrLockReleased)
	assert.ErrorIs(t, lock.Extend(ctx, time.Second), redlock.ErrLockReleased)
}

func TestLock_ReleaseRecordsAttempt(t *testing.T) {
	_, clients := newEndpoints(t, 1)
	rl, err := redlock.New(clients)
	require.NoError(t, err)

	ctx := context.Background()
	lock, err := rl.Acquire(ctx, []string{"{r}ra"}, time.Second)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))

	attempts := lock.Attempts()
	require.Len(t, attempts, 2)
	release := attempts[len(attempts)-1]
	assert.Len(t, release.VotesFor, 1)
	for _, removed := range release.VotesFor {
		assert.Equal(t, int64(1), removed)
	}
}

func TestRelease_AllEndpointsDown(t *testing.T) {
	servers, clients := newEndpoints(t, 1)
	rl, err := redlock.New(clients)
	require.NoError(t, err)

	ctx := context.Background()
	lock, err := rl.Acquire(ctx, []string{"{r}down"}, time.Second)
	require.NoError(t, err)

	servers[0].Close()

	err = lock.Release(ctx)
	ee, ok := redlock.IsExecutionError(err)
	require.True(t, ok)
	require.Len(t, ee.Attempts, 1)
	assert.Empty(t, ee.Attempts[0].VotesFor)
	assert.True(t, redlock.IsTransport(err))
}

func TestRelease_PartialResponseIsSuccess(t *testing.T) {
	servers, clients := newEndpoints(t, 3)
	rl, err := redlock.New(clients)
	require.NoError(t, err)

	ctx := context.Background()
	lock, err := rl.Acquire(ctx, []string{"{r}part"}, 4*time.Second)
	require.NoError(t, err)

	servers[0].Close()

	// 部分端点失联不影响释放成功，存活端点上的票据被清除
	require.NoError(t, lock.Release(ctx))
	for _, mr := range servers[1:] {
		assert.False(t, mr.Exists("{r}part"))
	}
}

// =============================================================================
// 端点命名
// =============================================================================

func TestEndpointNames(t *testing.T) {
	_, clients := newEndpoints(t, 2)
	rl, err := redlock.New(clients, redlock.WithEndpointNames([]string{"east", "west"}))
	require.NoError(t, err)

	ctx := context.Background()
	lock, err := rl.Acquire(ctx, []string{"{r}n"}, time.Second)
	require.NoError(t, err)

	votes := lock.Attempts()[0].VotesFor
	assert.Contains(t, votes, "east")
	assert.Contains(t, votes, "west")
	require.NoError(t, lock.Release(ctx))
}

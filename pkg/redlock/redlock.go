package redlock

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// 操作名常量，出现在 ExecutionError.Op 与日志/指标标签中。
const (
	opAcquire = "acquire"
	opExtend  = "extend"
	opRelease = "release"
)

// errQuorumNotReached 单次尝试未达成法定多数（内部哨兵，驱动重试循环）
var errQuorumNotReached = errors.New("redlock: quorum not reached")

// endpoint 一个参与投票的独立端点
type endpoint struct {
	id     string
	client redis.UniversalClient
}

// Redlock 基于 Redlock 算法的分布式互斥锁协调器。
//
// 协调器面向 N 个相互独立的端点（不是彼此的副本）运行法定多数协议：
// 当多数端点（⌊N/2⌋+1）在有界的墙钟窗口内确认所有权时，锁视为持有。
// 单端点部署（N=1）退化为普通的 Redis 锁。
//
// 协调器自身无可变状态，可被多个 goroutine 并发使用；
// 返回的 [Lock] 句柄归调用方所有，不支持并发 Extend/Release。
//
// 集群端点注意事项：一次锁操作的全部资源必须落在同一个槽位上，
// 多资源锁应使用 hash tag 大括号（如 "{group}resourceA"）。
type Redlock struct {
	endpoints []endpoint
	quorum    int
	opts      *options
	scripts   *scripts
	metrics   *Metrics
}

// New 创建协调器。
//
// clients 是参与法定多数的端点集合，数量任意为正；
// 每个端点必须支持原子化的脚本执行（EVALSHA/EVAL）。
func New(clients []redis.UniversalClient, opts ...Option) (*Redlock, error) {
	if len(clients) == 0 {
		return nil, ErrNoEndpoints
	}
	for i, client := range clients {
		if client == nil {
			return nil, errors.Join(ErrNilClient, errors.New("client at index "+strconv.Itoa(i)+" is nil"))
		}
	}

	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if err := cfg.validate(len(clients)); err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.meterProvider)
	if err != nil {
		return nil, err
	}

	endpoints := make([]endpoint, len(clients))
	for i, client := range clients {
		id := "endpoint-" + strconv.Itoa(i)
		if cfg.endpointNames != nil {
			id = cfg.endpointNames[i]
		}
		endpoints[i] = endpoint{id: id, client: client}
	}

	return &Redlock{
		endpoints: endpoints,
		quorum:    len(clients)/2 + 1,
		opts:      cfg,
		scripts:   getScripts(),
		metrics:   metrics,
	}, nil
}

// Quorum 返回达成多数所需的端点数（⌊N/2⌋+1）。
func (r *Redlock) Quorum() int {
	return r.quorum
}

// Health 健康检查。
// 对所有端点执行 PING，任一端点失败即返回其错误。
func (r *Redlock) Health(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	for _, ep := range r.endpoints {
		if err := ep.client.Ping(ctx).Err(); err != nil {
			return &TransportError{Endpoint: ep.id, Cause: err}
		}
	}
	return nil
}

// Acquire 在全部端点上尝试获取 resources 的互斥锁，时长为 ttl。
//
// ttl 必须为正且是毫秒的整数倍。成功返回 [Lock] 句柄，其有效期
// 已扣除时钟漂移余量（driftFactor·ttl + 2ms）。未达成法定多数时
// 按配置的退避重试；尝试耗尽后返回 [*ExecutionError]，
// 其投票记录区分资源争用与端点不可达。
func (r *Redlock) Acquire(ctx context.Context, resources []string, ttl time.Duration) (*Lock, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(resources) == 0 {
		return nil, ErrNoResources
	}
	if err := validateDuration(ttl); err != nil {
		return nil, err
	}

	value, err := r.opts.genValue()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	expiration, attempts, err := r.runQuorum(ctx, opAcquire, resources, value, ttl)
	r.metrics.RecordAcquire(ctx, err == nil, len(attempts), time.Since(start))
	if err != nil {
		r.opts.logger.Debug(ctx, "acquire failed",
			AttrResources(resources), AttrAttempts(len(attempts)), AttrError(err))
		return nil, err
	}

	r.opts.logger.Debug(ctx, "lock acquired",
		AttrResources(resources), AttrAttempts(len(attempts)),
		AttrValidity(time.Until(expiration)))
	return newLock(r, resources, value, expiration, attempts), nil
}

// validateDuration 校验锁时长：必须为正且是毫秒的整数倍。
func validateDuration(ttl time.Duration) error {
	if ttl <= 0 || ttl%time.Millisecond != 0 {
		return ErrInvalidDuration
	}
	return nil
}

// drift 计算时钟漂移余量：floor(driftFactor·ttlMs) 毫秒 + 2ms 计时器分辨率补偿。
func (r *Redlock) drift(ttl time.Duration) time.Duration {
	driftMs := int64(r.opts.driftFactor * float64(ttl.Milliseconds()))
	return time.Duration(driftMs)*time.Millisecond + driftResolution
}

// runQuorum 执行 acquire/extend 共用的法定多数重试循环。
//
// 每次尝试并发地向全部端点分发脚本、以屏障语义等待全部结算、
// 按端点标识聚合投票，然后验证剩余有效窗口。获取（acquire）失败的
// 尝试会对全部端点做尽力而为的回滚释放，避免少数端点上的残留票据
// 占住资源；续期（extend）失败的尝试不做回滚。
func (r *Redlock) runQuorum(ctx context.Context, op string, resources []string, value string, ttl time.Duration) (time.Time, []Attempt, error) {
	script := r.scripts.acquire
	if op == opExtend {
		script = r.scripts.extend
	}
	ttlMs := ttl.Milliseconds()

	var attempts []Attempt
	expiration, err := retry.NewWithData[time.Time](r.retryOptions(ctx)...).Do(func() (time.Time, error) {
		start := time.Now()
		votes := r.castVotes(ctx, script, resources, value, ttlMs, r.opts.db)
		elapsed := time.Since(start)

		attempt := tally(start, votes, len(resources))
		attempt.Elapsed = elapsed
		attempt.Validity = ttl - elapsed - r.drift(ttl)
		attempts = append(attempts, attempt)

		if len(attempt.VotesFor) >= r.quorum && attempt.Validity > 0 {
			return start.Add(ttl - r.drift(ttl)), nil
		}

		// 获取失败时回滚本次尝试的少数赞成票，结果忽略。
		// 续期不做回滚：句柄此前的持有可能仍然有效，释放与否由调用方决定。
		if op == opAcquire {
			r.castVotes(ctx, r.scripts.release, resources, value, r.opts.db)
		}
		r.opts.logger.Debug(ctx, "quorum attempt failed",
			AttrOp(op), AttrResources(resources),
			AttrAttempts(len(attempts)), AttrValidity(attempt.Validity))
		return time.Time{}, errQuorumNotReached
	})
	if err != nil {
		// retry-go 在退避等待中感知 ctx 结束；原样上抛 ctx 错误
		if ctxErr := ctx.Err(); ctxErr != nil {
			return time.Time{}, attempts, ctxErr
		}
		return time.Time{}, attempts, &ExecutionError{Op: op, Attempts: attempts}
	}
	return expiration, attempts, nil
}

// retryOptions 构建 retry-go 的选项。
// 重试预算：retryCount+1 次尝试；负数 retryCount 表示不设上限。
func (r *Redlock) retryOptions(ctx context.Context) []retry.Option {
	opts := []retry.Option{
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.DelayType(r.jitterDelay),
	}
	if r.opts.retryCount < 0 {
		opts = append(opts, retry.UntilSucceeded())
	} else {
		// #nosec G115 -- retryCount 经上面分支保证非负
		opts = append(opts, retry.Attempts(uint(r.opts.retryCount)+1))
	}
	return opts
}

// jitterDelay 计算退避等待：retryDelay + uniform(-retryJitter, +retryJitter)，下限 0。
func (r *Redlock) jitterDelay(_ uint, _ error, _ retry.DelayContext) time.Duration {
	delay := r.opts.retryDelay
	if j := r.opts.retryJitter; j > 0 {
		delay += time.Duration(rand.Int64N(int64(2*j)+1)) - j
	}
	if delay < 0 {
		return 0
	}
	return delay
}

// castVotes 并发地向全部端点分发脚本并收集结算结果。
//
// 所有端点调用先全部发出、再整体等待（屏障语义，而非首错即停），
// 结果按端点序固定落位，与到达顺序无关。传输失败被包装为
// [*TransportError] 记入该端点的结果。
func (r *Redlock) castVotes(ctx context.Context, script *redis.Script, keys []string, args ...any) []vote {
	votes := make([]vote, len(r.endpoints))
	var g errgroup.Group
	for i, ep := range r.endpoints {
		g.Go(func() error {
			n, err := evalScriptInt64(ctx, ep.client, script, keys, args...)
			if err != nil {
				votes[i] = vote{endpoint: ep.id, err: &TransportError{Endpoint: ep.id, Cause: err}}
				return nil
			}
			votes[i] = vote{endpoint: ep.id, result: n}
			return nil
		})
	}
	_ = g.Wait()
	return votes
}

// release 对全部端点做一次释放。
//
// 释放不要求法定多数也不重试：总是对所有端点尝试一次，使得
// 少数端点上的陈旧票据也能被清理。只有在零端点有响应时才算失败。
func (r *Redlock) release(ctx context.Context, resources []string, value string) (Attempt, error) {
	start := time.Now()
	votes := r.castVotes(ctx, r.scripts.release, resources, value, r.opts.db)

	attempt := Attempt{
		Start:        start,
		Elapsed:      time.Since(start),
		VotesFor:     make(map[string]int64),
		VotesAgainst: make(map[string]error),
	}
	// 释放语义下"赞成"意味着端点有响应；返回 0（无匹配 key）同样是响应
	for _, v := range votes {
		if v.err != nil {
			attempt.VotesAgainst[v.endpoint] = v.err
		} else {
			attempt.VotesFor[v.endpoint] = v.result
		}
	}

	if len(attempt.VotesFor) == 0 {
		return attempt, &ExecutionError{Op: opRelease, Attempts: []Attempt{attempt}}
	}
	return attempt, nil
}

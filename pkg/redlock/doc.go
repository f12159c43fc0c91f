// Package redlock 实现面向多个独立 Redis 端点的 Redlock 分布式互斥锁。
//
// # 算法概要
//
// 一次获取向全部 N 个端点并发分发原子脚本，统计赞成票并验证剩余
// 有效窗口：多数端点（⌊N/2⌋+1）确认、且 ttl 扣除耗时与时钟漂移余量
// （driftFactor·ttl + 2ms）后仍为正，锁才算持有。未达成多数的尝试
// 会回滚少数赞成票，并按 retryDelay ± retryJitter 的均匀抖动退避重试。
// 端点之间互不通信，也不要求是彼此的副本。
//
// # 核心概念
//
//   - [Redlock]: 协调器，管理端点集合并提供 Acquire/Using 操作
//   - [Lock]: 单次获取的句柄，提供 Extend/Release 与有效期读取
//   - [Attempt]: 每次法定多数尝试的投票记录（赞成/反对及理由）
//   - [Signal]: Using 交给例程的安全信号，锁安全性丢失时触发
//
// # 使用模式
//
//	rl, err := redlock.New(clients)
//	if err != nil {
//	    return err
//	}
//
//	lock, err := rl.Acquire(ctx, []string{"{order}invoice"}, 8*time.Second)
//	if err != nil {
//	    return err // 争用或端点不可达，见 ExecutionError.Attempts
//	}
//	defer lock.Release(ctx)
//
//	// 执行临界区...
//
// 长任务推荐使用 Using，由保活协程自动续期：
//
//	err := rl.Using(ctx, []string{"{job}rebuild"}, 10*time.Second,
//	    func(ctx context.Context, sig *redlock.Signal) error {
//	        for {
//	            select {
//	            case <-sig.Done():
//	                return sig.Err() // 锁安全性已丢失，尽快停止
//	            default:
//	            }
//	            // 分片处理...
//	        }
//	    })
//
// # 错误区分
//
// 获取失败统一以 [*ExecutionError] 上抛，其投票记录携带每个端点的
// 拒绝理由。调用方据此区分争用与故障：
//
//	if errors.Is(err, redlock.ErrResourceLocked) {
//	    // 资源被其他持有者占有，稍后重试
//	}
//	var te *redlock.TransportError
//	if errors.As(err, &te) {
//	    // 端点不可达
//	}
//
// # 时钟与随机性
//
// 全部耗时与有效期运算基于 Go 的单调时钟读数，不受墙钟回拨影响。
// 锁值（所有权 token）默认取自 crypto/rand 的 160 位熵并 base32 编码，
// 只有持有该值的句柄能续期或释放对应 key。
//
// # 集群端点
//
// 协调器不关心端点是单实例还是分片集群，但一次操作的全部资源
// 必须哈希到同一槽位：多资源锁请使用 hash tag 大括号，
// 例如 {group}resourceA、{group}resourceB。
//
// # 脚本缓存
//
// 三个操作脚本为进程级单例，本地计算 SHA1 摘要后以 EVALSHA 执行，
// NOSCRIPT 时自动回退 EVAL 重新加载（重复加载幂等）。可在启动时
// 调用 [WarmupScripts] 预热。
package redlock

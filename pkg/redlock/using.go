package redlock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// releaseTimeout Using 收尾释放的独立清理上下文超时。
// 调用方 ctx 已结束时释放仍尽力完成，避免锁残留到 TTL 到期。
const releaseTimeout = 5 * time.Second

// keepAliveFloor 保活定时器的最小等待。
// 阈值不小于有效窗口时避免退化为热循环。
const keepAliveFloor = time.Millisecond

// =============================================================================
// 安全信号
// =============================================================================

// Signal 交给被托管例程的安全信号。
//
// 后台续期失败（锁安全性丢失）时信号被触发：Err 先于 Aborted 可见，
// Done 通道最后关闭。触发后所有后续读取都反映失败状态。
// 取消是协作式的：不检查信号的例程不会被强制中断，
// 但例程收到的 context 会同时被取消，阻塞在 ctx 上的操作自然退出。
type Signal struct {
	aborted atomic.Bool
	err     atomic.Pointer[error]
	done    chan struct{}
	once    sync.Once
}

func newSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Aborted 报告锁安全性是否已丢失。
func (s *Signal) Aborted() bool {
	return s.aborted.Load()
}

// Err 返回导致信号触发的错误；未触发时返回 nil。
func (s *Signal) Err() error {
	if ptr := s.err.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

// Done 返回信号触发时关闭的通道，供例程以 select 订阅。
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// abort 触发信号。写入顺序保证例程观察到 aborted 后必能读到 err。
func (s *Signal) abort(err error) {
	s.once.Do(func() {
		s.err.Store(&err)
		s.aborted.Store(true)
		close(s.done)
	})
}

// =============================================================================
// 被托管执行
// =============================================================================

// Using 在持有锁的保护下运行 routine，并在后台自动续期。
//
// 流程：
//  1. 获取 resources 的锁（获取失败原样返回给调用方）；
//  2. 启动保活协程：剩余有效期低于自动续期阈值时以原 ttl 续期，
//     单发重调度、续期串行；一次续期失败即触发 [Signal] 并取消
//     routine 的 context，保活随之终止（不在协调器内建重试之外加码）；
//  3. routine 结束（返回或 panic）后停掉保活、等待其退出，
//     再在独立清理上下文内释放锁；释放错误仅记日志，不覆盖
//     routine 的结果。
//
// routine 的错误原样传播；panic 在完成清理后继续向上抛出。
func (r *Redlock) Using(ctx context.Context, resources []string, ttl time.Duration,
	routine func(ctx context.Context, sig *Signal) error, opts ...UsingOption) error {
	if ctx == nil {
		return ErrNilContext
	}
	if routine == nil {
		return ErrNilRoutine
	}

	ucfg := usingOptions{autoExtendThreshold: r.opts.autoExtendThreshold}
	for _, opt := range opts {
		if opt != nil {
			opt(&ucfg)
		}
	}

	lock, err := r.Acquire(ctx, resources, ttl)
	if err != nil {
		return err
	}

	sig := newSignal()
	rctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.keepAlive(ctx, lock, ttl, ucfg.autoExtendThreshold, sig, cancel, stopCh)
	}()

	// 清理挂在 defer 上：routine panic 时同样先停保活、后释放
	defer func() {
		close(stopCh)
		wg.Wait()
		r.releaseQuietly(lock)
	}()

	return routine(rctx, sig)
}

// keepAlive 保活循环。
//
// 单协程单发定时器：到点续期、续期后按新有效期重新调度，
// 续期之间天然串行、绝不重叠。续期失败即触发信号并退出。
func (r *Redlock) keepAlive(ctx context.Context, lock *Lock, ttl time.Duration,
	threshold time.Duration, sig *Signal, cancel context.CancelCauseFunc, stopCh <-chan struct{}) {
	timer := time.NewTimer(keepAliveWait(lock, threshold))
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
			if err := lock.Extend(ctx, ttl); err != nil {
				r.opts.logger.Warn(ctx, "automatic extension failed",
					AttrResources(lock.resources), AttrError(err))
				sig.abort(err)
				cancel(err)
				return
			}
			timer.Reset(keepAliveWait(lock, threshold))
		}
	}
}

// keepAliveWait 计算距下次续期的等待时长
func keepAliveWait(lock *Lock, threshold time.Duration) time.Duration {
	d := lock.Remaining() - threshold
	if d < keepAliveFloor {
		return keepAliveFloor
	}
	return d
}

// releaseQuietly 在独立清理上下文内释放锁，错误吞掉并记日志。
func (r *Redlock) releaseQuietly(lock *Lock) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		r.opts.logger.Warn(ctx, "release after scoped routine failed",
			AttrResources(lock.resources), AttrError(err))
	}
}

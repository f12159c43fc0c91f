package redlock

import (
	"errors"
	"fmt"
)

// =============================================================================
// 预定义错误
// =============================================================================

// 预定义错误，使用 errors.Is 进行比较
var (
	// ErrInvalidDuration 锁时长不合法。
	// 时长必须为正数且是毫秒的整数倍。
	//
	// 设计决策: 错误文案不带 "redlock:" 前缀。该文案是锁协议的规范消息，
	// 跨实现保持逐字一致，调用方可能按原文匹配。
	ErrInvalidDuration = errors.New("Duration must be an integer value in milliseconds.")

	// ErrNoResources 资源列表为空。
	// 一次锁操作必须覆盖至少一个资源。
	ErrNoResources = errors.New("redlock: resources must not be empty")

	// ErrNoEndpoints 未配置端点。
	// 构造协调器时必须提供至少一个端点。
	ErrNoEndpoints = errors.New("redlock: no endpoints configured")

	// ErrNilClient 客户端为空。
	// 传入 nil 客户端时返回此错误。
	ErrNilClient = errors.New("redlock: client is nil")

	// ErrNilContext 上下文为空。
	// 所有公开方法都要求传入非 nil 的 context.Context。
	ErrNilContext = errors.New("redlock: context must not be nil")

	// ErrNilRoutine Using 的执行体为空。
	ErrNilRoutine = errors.New("redlock: routine must not be nil")

	// ErrResourceLocked 资源已被其他持有者占有。
	// 作为单端点的拒绝理由出现在投票记录中；
	// 也可通过 errors.Is 在 ExecutionError 上整体匹配（见 ExecutionError.Unwrap）。
	ErrResourceLocked = errors.New("redlock: resource is locked")

	// ErrLockReleased 锁句柄已被释放。
	// Release 之后句柄即被消费，再次 Extend/Release 返回此错误。
	ErrLockReleased = errors.New("redlock: lock already released")

	// ErrLockLost 锁已失去。
	// Extend 失败后句柄失效，后续操作返回此错误；调用方必须视锁为丢失。
	ErrLockLost = errors.New("redlock: lock has been lost")

	// ErrInvalidDriftFactor 时钟漂移因子配置不合法，必须在 (0, 1) 区间内。
	ErrInvalidDriftFactor = errors.New("redlock: drift factor must be in (0, 1)")

	// ErrInvalidRetryDelay 重试间隔配置不合法，必须为正数。
	ErrInvalidRetryDelay = errors.New("redlock: retry delay must be positive")

	// ErrInvalidRetryJitter 重试抖动配置不合法，不能为负数。
	ErrInvalidRetryJitter = errors.New("redlock: retry jitter must not be negative")

	// ErrInvalidThreshold 自动续期阈值配置不合法，必须为正数。
	ErrInvalidThreshold = errors.New("redlock: extension threshold must be positive")

	// ErrInvalidDB 逻辑 db 编号不合法，不能为负数。
	ErrInvalidDB = errors.New("redlock: db index must not be negative")

	// ErrEndpointNameCount 端点名称数量与端点数量不一致。
	ErrEndpointNameCount = errors.New("redlock: endpoint name count mismatch")

	// errUnexpectedScriptResult Lua 脚本返回结果不符合预期（内部使用）
	errUnexpectedScriptResult = errors.New("redlock: unexpected script result")
)

// =============================================================================
// 结构化错误
// =============================================================================

// TransportError 单端点的传输层失败。
//
// 出现在投票记录的 VotesAgainst 中，表示该端点不可达或协议层出错，
// 与 [ErrResourceLocked]（协议层拒绝）相区分。Error 文案携带底层原因。
type TransportError struct {
	// Endpoint 出错端点的标识
	Endpoint string
	// Cause 底层错误
	Cause error
}

// Error 实现 error 接口。
func (e *TransportError) Error() string {
	return fmt.Sprintf("redlock: transport failure at %s: %v", e.Endpoint, e.Cause)
}

// Unwrap 返回底层错误，支持 errors.Is/As 链式匹配。
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ExecutionError 聚合失败：在允许的尝试次数内未能达成法定多数，
// 或 release 时所有端点都无响应。
//
// Attempts 携带每次尝试的完整投票记录，调用方据此区分
// "资源被争用"（VotesAgainst 中含 [ErrResourceLocked]）与
// "端点不可达"（VotesAgainst 中全为 [*TransportError]）。
type ExecutionError struct {
	// Op 失败的操作: "acquire"、"extend" 或 "release"
	Op string
	// Attempts 全部尝试的投票记录，最后一个元素是最终尝试
	Attempts []Attempt
}

// Error 实现 error 接口。
// 文案按最终尝试的拒绝构成区分争用与不可达。
func (e *ExecutionError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("redlock: %s failed: no endpoint responded", e.Op)
	}
	last := e.Attempts[len(e.Attempts)-1]
	locked := 0
	for _, reason := range last.VotesAgainst {
		if errors.Is(reason, ErrResourceLocked) {
			locked++
		}
	}
	if locked > 0 {
		return fmt.Sprintf("redlock: %s was unable to achieve a quorum after %d attempt(s): %d endpoint(s) reported the resource locked",
			e.Op, len(e.Attempts), locked)
	}
	return fmt.Sprintf("redlock: %s was unable to achieve a quorum after %d attempt(s): %d endpoint(s) unreachable",
		e.Op, len(e.Attempts), len(last.VotesAgainst))
}

// Unwrap 返回最终尝试的全部拒绝理由。
// 借助 Go 的多错误展开，errors.Is(err, ErrResourceLocked) 可直接判断
// 失败是否由争用导致，errors.As(err, &transportErr) 可取出传输错误。
func (e *ExecutionError) Unwrap() []error {
	if len(e.Attempts) == 0 {
		return nil
	}
	last := e.Attempts[len(e.Attempts)-1]
	if len(last.VotesAgainst) == 0 {
		return nil
	}
	reasons := make([]error, 0, len(last.VotesAgainst))
	for _, id := range last.sortedAgainst() {
		reasons = append(reasons, last.VotesAgainst[id])
	}
	return reasons
}

// =============================================================================
// 错误检查函数
// =============================================================================

// IsResourceLocked 判断错误是否由资源争用导致。
func IsResourceLocked(err error) bool {
	return errors.Is(err, ErrResourceLocked)
}

// IsTransport 判断错误链中是否含传输层失败。
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsExecutionError 判断错误是否为聚合的法定多数失败，并返回其投票记录。
func IsExecutionError(err error) (*ExecutionError, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

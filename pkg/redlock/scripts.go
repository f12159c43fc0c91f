package redlock

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"sync"

	"github.com/redis/go-redis/v9"
)

// =============================================================================
// Lua 脚本嵌入
// =============================================================================

var (
	//go:embed lua/acquire.lua
	acquireLuaSource string

	//go:embed lua/extend.lua
	extendLuaSource string

	//go:embed lua/release.lua
	releaseLuaSource string
)

// =============================================================================
// 脚本管理器 - 单例模式确保脚本只创建一次
// =============================================================================

// scripts 持有三个锁操作的 Redis 脚本实例。
//
// redis.Script 在本地计算 SHA1 摘要，执行时优先 EVALSHA，
// 收到 NOSCRIPT 后自动回退到 EVAL 重新加载。重复加载是幂等的
// （同一脚本体产生同一摘要），因此进程级单例在并发下是安全的。
type scripts struct {
	acquire *redis.Script
	extend  *redis.Script
	release *redis.Script
}

var (
	globalScripts     *scripts
	globalScriptsOnce sync.Once
)

// getScripts 获取脚本实例（线程安全的单例）
func getScripts() *scripts {
	globalScriptsOnce.Do(func() {
		globalScripts = &scripts{
			acquire: redis.NewScript(acquireLuaSource),
			extend:  redis.NewScript(extendLuaSource),
			release: redis.NewScript(releaseLuaSource),
		}
	})
	return globalScripts
}

// =============================================================================
// 脚本预热
// =============================================================================

// WarmupScripts 预热脚本，将三个锁脚本加载到端点的脚本缓存中。
//
// 建议在应用启动时对每个端点调用，避免首次执行时的 NOSCRIPT 回退。
// 不调用也能正常工作（执行路径会自动回退到 EVAL）。
// 如果 ctx 为 nil，返回 [ErrNilContext]；如果 client 为 nil，返回 [ErrNilClient]。
func WarmupScripts(ctx context.Context, client redis.UniversalClient) error {
	if ctx == nil {
		return ErrNilContext
	}
	if client == nil {
		return ErrNilClient
	}

	s := getScripts()

	// 顺序加载而非 Pipeline 批量加载：启动时一次性操作，顺序加载更易于定位失败的脚本
	if err := s.acquire.Load(ctx, client).Err(); err != nil {
		return fmt.Errorf("load acquire script: %w", err)
	}
	if err := s.extend.Load(ctx, client).Err(); err != nil {
		return fmt.Errorf("load extend script: %w", err)
	}
	if err := s.release.Load(ctx, client).Err(); err != nil {
		return fmt.Errorf("load release script: %w", err)
	}

	return nil
}

// =============================================================================
// 脚本执行
// =============================================================================

// evalScriptInt64 执行 Lua 脚本并安全转换返回值为 int64。
// 三个锁脚本均返回单个整数，非预期类型视为协议错误而非 panic。
func evalScriptInt64(ctx context.Context, client redis.UniversalClient, script *redis.Script, keys []string, args ...any) (int64, error) {
	val, err := script.Run(ctx, client, keys, args...).Result()
	if err != nil {
		return 0, err
	}
	return convertScriptResult(val)
}

// convertScriptResult 将 Lua 脚本返回值安全转换为 int64。
// 提取为纯函数，便于直接测试各种输入类型（int64、int、float64、未知类型）。
func convertScriptResult(val any) (int64, error) {
	switch n := val.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: non-integer float64 %g", errUnexpectedScriptResult, n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%w: got %T, expected number", errUnexpectedScriptResult, val)
	}
}

package redlock

import (
	"sort"
	"time"
)

// =============================================================================
// 投票记录
// =============================================================================

// Attempt 一次法定多数尝试的投票摘要。
//
// 两张表都以端点标识为键（而非到达顺序），同一端点在一次尝试中
// 只会出现在其中一张表里。
type Attempt struct {
	// Start 尝试开始时刻（携带单调时钟读数）
	Start time.Time

	// Elapsed 从发出到全部端点结算的耗时
	Elapsed time.Duration

	// Validity 本次尝试计算出的剩余有效窗口（可能为负）
	Validity time.Duration

	// VotesFor 赞成票：端点标识 → 脚本返回值。
	// 获取/续期时等于资源数；释放记录中为该端点删除的 key 数（可为 0）。
	VotesFor map[string]int64

	// VotesAgainst 反对票：端点标识 → 拒绝理由。
	// 理由是 [ErrResourceLocked]（协议层拒绝）或 [*TransportError]（传输失败）。
	VotesAgainst map[string]error
}

// sortedAgainst 返回按端点标识排序的反对票键序。
// map 的迭代顺序不确定，聚合输出必须按端点标识确定化。
func (a *Attempt) sortedAgainst() []string {
	ids := make([]string, 0, len(a.VotesAgainst))
	for id := range a.VotesAgainst {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// vote 单端点的结算结果（内部使用）
type vote struct {
	endpoint string
	result   int64
	err      error
}

// tally 将各端点结算结果聚合为一次投票记录。
// resourceCount 是本次操作覆盖的资源数；脚本返回该值视为赞成。
func tally(start time.Time, votes []vote, resourceCount int) Attempt {
	attempt := Attempt{
		Start:        start,
		VotesFor:     make(map[string]int64, len(votes)),
		VotesAgainst: make(map[string]error),
	}
	for _, v := range votes {
		switch {
		case v.err != nil:
			attempt.VotesAgainst[v.endpoint] = v.err
		case v.result == int64(resourceCount):
			attempt.VotesFor[v.endpoint] = v.result
		default:
			attempt.VotesAgainst[v.endpoint] = ErrResourceLocked
		}
	}
	return attempt
}

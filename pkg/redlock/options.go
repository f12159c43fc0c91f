package redlock

import (
	"time"

	"go.opentelemetry.io/otel/metric"
)

// =============================================================================
// 默认配置
// =============================================================================

const (
	// DefaultDriftFactor 默认时钟漂移因子。
	// 按请求时长的该比例预留时钟漂移余量。
	DefaultDriftFactor = 0.01

	// DefaultRetryCount 默认重试次数（不含首次尝试）。
	// 总尝试数 = DefaultRetryCount + 1。
	DefaultRetryCount = 10

	// DefaultRetryDelay 默认重试间隔。
	DefaultRetryDelay = 200 * time.Millisecond

	// DefaultRetryJitter 默认重试抖动范围（均匀分布 ±jitter）。
	DefaultRetryJitter = 100 * time.Millisecond

	// DefaultAutoExtendThreshold 默认自动续期阈值。
	// Using 的保活协程在剩余有效期低于该值时发起续期。
	DefaultAutoExtendThreshold = 500 * time.Millisecond

	// driftResolution 计时器分辨率补偿，固定从有效窗口中扣除。
	driftResolution = 2 * time.Millisecond
)

// ValueGeneratorFunc 锁值生成函数。
// 返回的值是所有权 token，必须全局唯一（默认实现取自密码学随机源）。
type ValueGeneratorFunc func() (string, error)

// =============================================================================
// 协调器配置选项
// =============================================================================

// options 协调器内部配置
type options struct {
	driftFactor         float64
	retryCount          int
	retryDelay          time.Duration
	retryJitter         time.Duration
	autoExtendThreshold time.Duration
	db                  int
	endpointNames       []string
	logger              Logger
	meterProvider       metric.MeterProvider
	genValue            ValueGeneratorFunc
}

// Option 协调器配置选项函数
type Option func(*options)

// defaultOptions 返回默认协调器配置
func defaultOptions() *options {
	return &options{
		driftFactor:         DefaultDriftFactor,
		retryCount:          DefaultRetryCount,
		retryDelay:          DefaultRetryDelay,
		retryJitter:         DefaultRetryJitter,
		autoExtendThreshold: DefaultAutoExtendThreshold,
		db:                  0,
		logger:              nopLogger{},
		genValue:            genValue,
	}
}

// validate 校验配置合法性
func (o *options) validate(endpointCount int) error {
	if o.driftFactor <= 0 || o.driftFactor >= 1 {
		return ErrInvalidDriftFactor
	}
	if o.retryDelay <= 0 {
		return ErrInvalidRetryDelay
	}
	if o.retryJitter < 0 {
		return ErrInvalidRetryJitter
	}
	if o.autoExtendThreshold <= 0 {
		return ErrInvalidThreshold
	}
	if o.db < 0 {
		return ErrInvalidDB
	}
	if o.endpointNames != nil && len(o.endpointNames) != endpointCount {
		return ErrEndpointNameCount
	}
	return nil
}

// WithDriftFactor 设置时钟漂移因子。
// 从请求时长中按该比例扣除漂移余量。
// 默认值：0.01。必须在 (0, 1) 区间内。
func WithDriftFactor(f float64) Option {
	return func(o *options) {
		o.driftFactor = f
	}
}

// WithRetryCount 设置首次尝试之后的最大重试次数。
// 总尝试数 = n + 1。负数表示不设上限，直到达成法定多数或 ctx 结束。
// 默认值：10。
func WithRetryCount(n int) Option {
	return func(o *options) {
		o.retryCount = n
	}
}

// WithRetryDelay 设置重试间隔的名义值。
// 实际等待 = delay + uniform(-jitter, +jitter)，下限截断为 0。
// 默认值：200ms。
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		o.retryDelay = d
	}
}

// WithRetryJitter 设置重试抖动范围。
// 默认值：100ms。设置为 0 表示不抖动。
func WithRetryJitter(d time.Duration) Option {
	return func(o *options) {
		o.retryJitter = d
	}
}

// WithAutoExtendThreshold 设置 Using 的自动续期阈值。
// 仅影响 Using 的保活协程；剩余有效期低于该值时发起续期。
// 默认值：500ms。
func WithAutoExtendThreshold(d time.Duration) Option {
	return func(o *options) {
		o.autoExtendThreshold = d
	}
}

// WithDB 设置脚本内选择的逻辑 db 编号。
// 端点不支持逻辑 db 时该选择会被静默忽略（脚本内尽力而为）。
// 默认值：0。
func WithDB(db int) Option {
	return func(o *options) {
		o.db = db
	}
}

// WithEndpointNames 设置端点标识。
// 投票记录以端点标识为键；默认标识为 "endpoint-<序号>"。
// 名称数量必须与端点数量一致。
func WithEndpointNames(names []string) Option {
	return func(o *options) {
		o.endpointNames = names
	}
}

// WithLogger 设置日志记录器。
// 默认不输出任何日志。
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMeterProvider 设置 OpenTelemetry MeterProvider。
// 用于收集 Counter/Histogram 类型的指标。
// 如果不设置，不会收集指标。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithValueGenerator 设置自定义锁值生成函数。
// 默认从 crypto/rand 取 20 字节并 base32 编码（160 位熵）。
//
// 注意：生成的值必须全局唯一且不可预测，否则互斥性被破坏。
// 主要用于测试注入确定性的值。
func WithValueGenerator(fn ValueGeneratorFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.genValue = fn
		}
	}
}

// =============================================================================
// Using 调用级选项
// =============================================================================

// usingOptions Using 单次调用的配置
type usingOptions struct {
	autoExtendThreshold time.Duration
}

// UsingOption Using 调用级配置选项函数
type UsingOption func(*usingOptions)

// WithUsingExtensionThreshold 覆盖本次 Using 调用的自动续期阈值。
// 不设置时沿用协调器的 WithAutoExtendThreshold 配置。
func WithUsingExtensionThreshold(d time.Duration) UsingOption {
	return func(o *usingOptions) {
		if d > 0 {
			o.autoExtendThreshold = d
		}
	}
}

package redlock

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentationVersion 指标插桩版本号
const instrumentationVersion = "0.1.0"

// 指标前缀使用 "redlock.*"，与 OTel Meter scope name 保持一致（Meter("redlock")）。
const (
	// metricNameAcquireTotal 获取锁次数计数器
	metricNameAcquireTotal = "redlock.acquire.total"
	// metricNameExtendTotal 续期次数计数器
	metricNameExtendTotal = "redlock.extend.total"
	// metricNameReleaseTotal 释放次数计数器
	metricNameReleaseTotal = "redlock.release.total"
	// metricNameAcquireDuration 获取锁耗时直方图
	metricNameAcquireDuration = "redlock.acquire.duration"
	// metricNameAttempts 单次获取的尝试次数直方图
	metricNameAttempts = "redlock.attempts"
)

// attrOutcome 操作结果标签
const attrOutcome = "outcome"

// Metrics 锁操作指标收集器。
// 提供 Counter 和 Histogram 类型的指标收集。
type Metrics struct {
	meter           metric.Meter
	acquireTotal    metric.Int64Counter
	extendTotal     metric.Int64Counter
	releaseTotal    metric.Int64Counter
	acquireDuration metric.Float64Histogram
	attempts        metric.Int64Histogram
}

// durationBuckets 耗时直方图的桶边界（秒）
var durationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0}

// NewMetrics 创建指标收集器。
// 如果 meterProvider 为 nil，返回 nil（不收集指标）。
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	if meterProvider == nil {
		return nil, nil
	}

	m := &Metrics{}
	m.meter = meterProvider.Meter("redlock",
		metric.WithInstrumentationVersion(instrumentationVersion),
	)

	var err error
	if m.acquireTotal, err = m.meter.Int64Counter(metricNameAcquireTotal,
		metric.WithDescription("锁获取次数"), metric.WithUnit("{acquire}")); err != nil {
		return nil, err
	}
	if m.extendTotal, err = m.meter.Int64Counter(metricNameExtendTotal,
		metric.WithDescription("锁续期次数"), metric.WithUnit("{extend}")); err != nil {
		return nil, err
	}
	if m.releaseTotal, err = m.meter.Int64Counter(metricNameReleaseTotal,
		metric.WithDescription("锁释放次数"), metric.WithUnit("{release}")); err != nil {
		return nil, err
	}
	if m.acquireDuration, err = m.meter.Float64Histogram(metricNameAcquireDuration,
		metric.WithDescription("锁获取耗时"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return nil, err
	}
	if m.attempts, err = m.meter.Int64Histogram(metricNameAttempts,
		metric.WithDescription("单次获取的法定多数尝试次数"), metric.WithUnit("{attempt}")); err != nil {
		return nil, err
	}

	return m, nil
}

// outcomeAttr 构造结果标签
func outcomeAttr(ok bool) metric.MeasurementOption {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	return metric.WithAttributes(attribute.String(attrOutcome, outcome))
}

// RecordAcquire 记录一次获取操作
func (m *Metrics) RecordAcquire(ctx context.Context, ok bool, attemptCount int, duration time.Duration) {
	if m == nil {
		return
	}
	m.acquireTotal.Add(ctx, 1, outcomeAttr(ok))
	m.acquireDuration.Record(ctx, duration.Seconds(), outcomeAttr(ok))
	m.attempts.Record(ctx, int64(attemptCount))
}

// RecordExtend 记录一次续期操作
func (m *Metrics) RecordExtend(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.extendTotal.Add(ctx, 1, outcomeAttr(ok))
}

// RecordRelease 记录一次释放操作
func (m *Metrics) RecordRelease(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.releaseTotal.Add(ctx, 1, outcomeAttr(ok))
}

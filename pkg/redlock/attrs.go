package redlock

import (
	"log/slog"
	"strings"
	"time"
)

// 日志属性 key 常量。
// 统一各处日志的字段命名，便于检索与告警配置。
const (
	attrKeyResources = "resources"
	attrKeyEndpoint  = "endpoint"
	attrKeyAttempts  = "attempts"
	attrKeyValidity  = "validity"
	attrKeyError     = "error"
	attrKeyOp        = "op"
)

// AttrResources 创建资源列表属性。
func AttrResources(resources []string) slog.Attr {
	return slog.String(attrKeyResources, strings.Join(resources, ","))
}

// AttrEndpoint 创建端点标识属性。
func AttrEndpoint(id string) slog.Attr {
	return slog.String(attrKeyEndpoint, id)
}

// AttrAttempts 创建尝试次数属性。
func AttrAttempts(n int) slog.Attr {
	return slog.Int(attrKeyAttempts, n)
}

// AttrValidity 创建剩余有效期属性。
func AttrValidity(d time.Duration) slog.Attr {
	return slog.Duration(attrKeyValidity, d)
}

// AttrError 创建错误属性。
func AttrError(err error) slog.Attr {
	if err == nil {
		return slog.String(attrKeyError, "")
	}
	return slog.String(attrKeyError, err.Error())
}

// AttrOp 创建操作名属性。
func AttrOp(op string) slog.Attr {
	return slog.String(attrKeyOp, op)
}

package redlock

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
)

// valueBytes 锁值的随机字节数。
// 20 字节 = 160 位熵，base32 后恰为 32 个字符（无填充）。
const valueBytes = 20

// genValue 生成默认锁值：从密码学随机源取 160 位并 base32 编码。
// 锁值是所有权 token，绝不能用计数器或时间戳替代。
func genValue() (string, error) {
	b := make([]byte, valueBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("redlock: generate lock value: %w", err)
	}
	return base32.StdEncoding.EncodeToString(b), nil
}

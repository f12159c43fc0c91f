// redlockctl 是 redlock 分布式锁的命令行客户端。
//
// 用法:
//
//	redlockctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config     配置文件路径（YAML 或 JSON）
//	-e, --endpoints  Redis 端点地址，可重复（覆盖配置文件）
//	    --db         逻辑 db 编号 (默认: 0)
//	    --ttl        锁时长 (默认: 8s)
//	    --retries    获取重试次数，-1 表示不设上限 (默认: 10)
//	-t, --timeout    status 命令的超时时间 (默认: 30s)
//
// 命令:
//
//	run <resource[,resource...]> [--] <command> [args...]   持锁运行子进程，锁安全性丢失时终止子进程
//	acquire <resource>...                                   获取并持有锁，收到 SIGINT/SIGTERM 后释放退出
//	status <resource>                                       查看各端点上的持有者 token 与剩余 TTL
//
// 配置文件 (redlockctl.yaml):
//
//	endpoints:
//	  - 10.0.0.1:6379
//	  - 10.0.0.2:6379
//	  - 10.0.0.3:6379
//	db: 0
//	ttl: 8s
//	retries: 10
//
// 命令行标志优先于配置文件。
//
// 退出码:
//
//	0: 命令执行成功
//	1: 加锁失败或子进程非零退出
//	2: 参数错误（缺少端点、未知命令等）
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

// defaultTimeout 默认命令超时时间。
const defaultTimeout = 30 * time.Second

// 版本信息（可通过 -ldflags 注入，例如:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD)"
//
// ）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

// createApp 创建 CLI 应用。
func createApp() *cli.Command {
	return &cli.Command{
		Name:    "redlockctl",
		Usage:   "redlock 分布式锁命令行客户端",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（YAML 或 JSON）",
			},
			&cli.StringSliceFlag{
				Name:    "endpoints",
				Aliases: []string{"e"},
				Usage:   "Redis 端点地址，可重复",
			},
			&cli.IntFlag{
				Name:  "db",
				Usage: "逻辑 db 编号",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "锁时长",
			},
			&cli.IntFlag{
				Name:  "retries",
				Usage: "获取重试次数，-1 表示不设上限",
				Value: 10,
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "status 命令的超时时间",
				Value:   defaultTimeout,
			},
		},
		Commands: createCommands(),
	}
}

// run 执行应用并转换退出码。
func run() int {
	app := createApp()

	if err := app.Run(context.Background(), os.Args); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "redlockctl: %v\n", err)
		return 2
	}
	return 0
}

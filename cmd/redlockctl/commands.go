package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/Snarlbyte/redlock/pkg/redlock"
)

// exitError 表示需要非零退出码但已完成输出的场景。
// 命令内部已完成所有输出，main 只需设置退出码。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return "" }

// 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createRunCommand(),
		createAcquireCommand(),
		createStatusCommand(),
	}
}

// buildCoordinator 根据生效配置创建协调器与端点客户端。
// 返回的 cleanup 关闭全部客户端。
func buildCoordinator(cfg config) (*redlock.Redlock, func(), error) {
	clients := make([]redis.UniversalClient, len(cfg.Endpoints))
	for i, addr := range cfg.Endpoints {
		clients[i] = redis.NewClient(&redis.Options{Addr: addr})
	}
	cleanup := func() {
		for _, client := range clients {
			_ = client.Close()
		}
	}

	logger := redlock.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)).
		With(slog.String("run_id", uuid.NewString())))

	rl, err := redlock.New(clients,
		redlock.WithDB(cfg.DB),
		redlock.WithRetryCount(cfg.Retries),
		redlock.WithEndpointNames(cfg.Endpoints),
		redlock.WithLogger(logger))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return rl, cleanup, nil
}

// splitResources 解析逗号分隔的资源列表。
func splitResources(arg string) []string {
	parts := strings.Split(arg, ",")
	resources := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			resources = append(resources, p)
		}
	}
	return resources
}

// createRunCommand 创建 run 子命令（持锁运行子进程）。
func createRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "持锁运行子进程，锁安全性丢失时终止子进程",
		ArgsUsage: "<resource[,resource...]> [--] <command> [args...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args().Slice()
			if len(args) < 2 {
				fmt.Fprintln(os.Stderr, "redlockctl run: 需要资源名和子命令")
				return &exitError{code: 2}
			}
			resources := splitResources(args[0])
			child := args[1:]
			if child[0] == "--" {
				child = child[1:]
			}
			if len(resources) == 0 || len(child) == 0 {
				fmt.Fprintln(os.Stderr, "redlockctl run: 需要资源名和子命令")
				return &exitError{code: 2}
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				fmt.Fprintf(os.Stderr, "redlockctl run: %v\n", err)
				return &exitError{code: 2}
			}
			return cmdRun(ctx, cfg, resources, child)
		},
	}
}

// cmdRun 在锁保护下运行子进程。
func cmdRun(ctx context.Context, cfg config, resources []string, child []string) error {
	rl, cleanup, err := buildCoordinator(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redlockctl run: %v\n", err)
		return &exitError{code: 2}
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = rl.Using(ctx, resources, cfg.TTL,
		func(rctx context.Context, sig *redlock.Signal) error {
			// rctx 在锁安全性丢失时被取消，CommandContext 随之终止子进程
			proc := exec.CommandContext(rctx, child[0], child[1:]...)
			proc.Stdin = os.Stdin
			proc.Stdout = os.Stdout
			proc.Stderr = os.Stderr
			if runErr := proc.Run(); runErr != nil {
				if sig.Aborted() {
					return fmt.Errorf("lock safety lost: %w", sig.Err())
				}
				return runErr
			}
			return nil
		})
	if err != nil {
		fmt.Fprintf(os.Stderr, "redlockctl run: %v\n", err)
		return &exitError{code: 1}
	}
	return nil
}

// createAcquireCommand 创建 acquire 子命令（持有锁直到收到信号）。
func createAcquireCommand() *cli.Command {
	return &cli.Command{
		Name:      "acquire",
		Aliases:   []string{"a"},
		Usage:     "获取并持有锁，收到 SIGINT/SIGTERM 后释放退出",
		ArgsUsage: "<resource>...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			resources := cmd.Args().Slice()
			if len(resources) == 0 {
				fmt.Fprintln(os.Stderr, "redlockctl acquire: 需要至少一个资源名")
				return &exitError{code: 2}
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				fmt.Fprintf(os.Stderr, "redlockctl acquire: %v\n", err)
				return &exitError{code: 2}
			}
			return cmdAcquire(ctx, cfg, resources)
		},
	}
}

// cmdAcquire 获取锁并持有到进程收到终止信号。
func cmdAcquire(ctx context.Context, cfg config, resources []string) error {
	rl, cleanup, err := buildCoordinator(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redlockctl acquire: %v\n", err)
		return &exitError{code: 2}
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = rl.Using(ctx, resources, cfg.TTL,
		func(rctx context.Context, sig *redlock.Signal) error {
			fmt.Printf("held %s (auto-extending, ctrl-c to release)\n", strings.Join(resources, ", "))
			<-rctx.Done()
			if sig.Aborted() {
				return fmt.Errorf("lock safety lost: %w", sig.Err())
			}
			return nil // 收到终止信号，正常释放
		})
	if err != nil {
		fmt.Fprintf(os.Stderr, "redlockctl acquire: %v\n", err)
		return &exitError{code: 1}
	}
	return nil
}

// createStatusCommand 创建 status 子命令。
func createStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Aliases:   []string{"s"},
		Usage:     "查看各端点上的持有者 token 与剩余 TTL",
		ArgsUsage: "<resource>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				fmt.Fprintln(os.Stderr, "redlockctl status: 需要一个资源名")
				return &exitError{code: 2}
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				fmt.Fprintf(os.Stderr, "redlockctl status: %v\n", err)
				return &exitError{code: 2}
			}

			timeout := cmd.Duration("timeout")
			if timeout <= 0 {
				timeout = defaultTimeout
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return cmdStatus(ctx, cfg, cmd.Args().First())
		},
	}
}

// cmdStatus 逐端点读取持有者 token 与剩余 TTL。
func cmdStatus(ctx context.Context, cfg config, resource string) error {
	held := false
	for _, addr := range cfg.Endpoints {
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})

		value, err := client.Get(ctx, resource).Result()
		switch {
		case errors.Is(err, redis.Nil):
			fmt.Printf("%s\tfree\n", addr)
		case err != nil:
			fmt.Printf("%s\tunreachable: %v\n", addr, err)
		default:
			held = true
			pttl, _ := client.PTTL(ctx, resource).Result()
			fmt.Printf("%s\theld by %s\tttl=%s\n", addr, value, pttl.Round(time.Millisecond))
		}
		_ = client.Close()
	}

	if !held {
		return &exitError{code: 1}
	}
	return nil
}

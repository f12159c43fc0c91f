package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"
)

// 配置相关错误。
var (
	errNoEndpoints       = errors.New("no endpoints: pass --endpoints or set them in the config file")
	errUnsupportedFormat = errors.New("unsupported config format: use .yaml, .yml or .json")
)

// config redlockctl 的生效配置：配置文件与命令行标志合并后的结果。
type config struct {
	Endpoints []string      `koanf:"endpoints"`
	DB        int           `koanf:"db"`
	TTL       time.Duration `koanf:"ttl"`
	Retries   int           `koanf:"retries"`
}

// defaultConfig 返回默认配置。
func defaultConfig() config {
	return config{
		DB:      0,
		TTL:     8 * time.Second,
		Retries: 10,
	}
}

// loadConfig 加载配置：先读配置文件（如指定），再用命令行标志覆盖。
func loadConfig(cmd *cli.Command) (config, error) {
	cfg := defaultConfig()

	if path := cmd.String("config"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	// 标志优先于配置文件
	if eps := cmd.StringSlice("endpoints"); len(eps) > 0 {
		cfg.Endpoints = eps
	}
	if cmd.IsSet("db") {
		cfg.DB = cmd.Int("db")
	}
	if cmd.IsSet("ttl") {
		cfg.TTL = cmd.Duration("ttl")
	}
	if cmd.IsSet("retries") {
		cfg.Retries = cmd.Int("retries")
	}

	if len(cfg.Endpoints) == 0 {
		return cfg, errNoEndpoints
	}
	return cfg, nil
}

// loadFile 按扩展名检测格式并反序列化配置文件。
func loadFile(path string, cfg *config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	parser, err := detectParser(path)
	if err != nil {
		return err
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	return nil
}

// detectParser 根据文件扩展名选择解析器。
func detectParser(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, errUnsupportedFormat
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"OpenChat-Bot/internal/bot"
	"OpenChat-Bot/internal/version"
)

// main 是聊天机器人守护进程的入口。
func main() {
	configPath := flag.String("config", "", "配置文件路径，默认读取 OPENCHAT_CONFIG 或 configs/openchat.yaml")
	showVersion := flag.Bool("version", false, "打印版本后退出")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, resolveConfigPath(*configPath)); err != nil {
		log.Fatalf("openchatd 运行失败: %v", err)
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("OPENCHAT_CONFIG"); env != "" {
		return env
	}
	return filepath.Join("configs", "openchat.yaml")
}

func run(ctx context.Context, configPath string) error {
	b, err := bot.New(ctx, configPath)
	if err != nil {
		return err
	}
	return b.Run(ctx)
}

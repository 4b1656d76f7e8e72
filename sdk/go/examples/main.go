package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"OpenChat-Bot/sdk/go/openchat"
)

// 通过管理接口向聊天网络发送一条公告，例如：
//
//	go run ./sdk/go/examples -url http://127.0.0.1:8080 -server libera -target '#ops' -text 'deploy done'
func main() {
	baseURL := flag.String("url", "http://127.0.0.1:8080", "管理接口地址")
	token := flag.String("token", os.Getenv("OPENCHAT_API_TOKEN"), "Bearer 令牌")
	server := flag.String("server", "", "服务器标签")
	target := flag.String("target", "", "频道或昵称")
	text := flag.String("text", "", "公告内容")
	flag.Parse()

	client, err := openchat.NewClient(*baseURL, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	client.SetToken(*token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("status=%s networks=%v\n", health.Status, health.Networks)

	if *server == "" {
		modules, err := client.Modules(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, m := range modules {
			fmt.Printf("%-12s %-10s commands=%d hooks=%d\n", m.Name, m.State, m.Commands, m.Hooks)
		}
		return
	}

	if err := client.Announce(ctx, openchat.Announcement{Server: *server, Target: *target, Text: *text}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("announcement sent")
}

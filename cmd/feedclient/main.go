package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"marketstream.com/internal/feedapp"
)

func main() {
	configName := flag.StringP("config", "c", "feedclient", "config/{name}.yaml")
	flag.Parse()

	// 1. 支持 Ctrl+C / kubernetes 停止信号的 context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化 App
	app, err := feedapp.New(*configName)
	if err != nil {
		log.Fatalf("init feedclient error: %v", err)
	}
	// 3. 运行到收到信号或事件流终止
	if err := app.Run(ctx); err != nil {
		log.Fatalf("feedclient exit with error: %v", err)
	}
	log.Println("feedclient exit")
}

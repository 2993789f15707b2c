package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"SageChain/cmd/sagewallet/cmd"
)

// main 是 sagewallet 命令行与服务的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		log.Fatalf("sagewallet 运行失败: %v", err)
	}
}

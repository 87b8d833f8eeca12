package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"trafficpulse.com/internal/traffic/hub"
	"trafficpulse.com/internal/traffic/tail"
	"trafficpulse.com/pkg/logger"
)

// traffic-tail 订阅推送端点并逐帧打印 type / timestamp / 大小
func main() {
	url := pflag.StringP("url", "u", "ws://localhost:8080/ws", "push endpoint")
	once := pflag.Bool("once", false, "exit when the connection ends instead of reconnecting")
	ping := pflag.Duration("ping", 0, "client ping interval, 0 disables")
	level := pflag.String("log-level", "warn", "log level")
	pflag.Parse()

	logger.InitWithFile("traffic-tail", *level, "-")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &tail.Client{
		URL:       *url,
		Once:      *once,
		PingEvery: *ping,
		OnFrame: func(env hub.Envelope, size int) {
			fmt.Printf("%s %-15s %-26s %d bytes\n", time.Now().Format(time.TimeOnly), env.Type, env.Timestamp, size)
		},
	}
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"trafficpulse.com/internal/traffic"
	"trafficpulse.com/internal/traffic/app"
	"trafficpulse.com/pkg/config"
	"trafficpulse.com/pkg/logger"
)

const serviceName = "traffic-realtime"

func main() {
	// 收到 SIGINT/SIGTERM 时取消 ctx，app.Run 负责有序关闭
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg traffic.Cfg
	if _, err := config.LoadAndWatch(serviceName, &cfg, app.OnReload); err != nil {
		panic(fmt.Sprintf("加载配置出错 %+v", err))
	}
	cfg.Normalize()

	logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)
	defer logger.Sync()
	logger.Info(ctx, "服务开始启动",
		zap.String("ws", cfg.WS.Addr+cfg.WS.Path),
		zap.String("http", cfg.HTTP.Addr),
		zap.String("bus", cfg.Bus.Driver),
		zap.Bool("poll", cfg.Poll.Enabled),
	)

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "init failed", zap.Error(err))
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Error(ctx, "服务异常退出", zap.Error(err))
		a.Close()
		logger.Sync()
		os.Exit(1)
	}
	logger.Info(ctx, "服务已退出")
}

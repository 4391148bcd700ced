package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Yohanamtesfaye/emma-care-backend/common/logger"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/config"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/service"

	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "emma-care-vitals")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting emma-care-vitals service",
		zap.String("version", "1.0.0"),
		zap.String("source", cfg.Source.Kind),
		zap.Bool("predictor_enabled", cfg.Predictor.Enabled),
		zap.Duration("predictor_timeout", cfg.Predictor.Timeout),
	)

	// 创建服务
	vitalsService, err := service.NewVitalsService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create vitals service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := vitalsService.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start vitals service", zap.Error(err))
	}

	// 等待中断信号或输入结束
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case <-vitalsService.Done():
		zapLogger.Info("Input exhausted, shutting down")
	}

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := vitalsService.Stop(shutdownCtx); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}
	cancel()

	zapLogger.Info("Service stopped")
}

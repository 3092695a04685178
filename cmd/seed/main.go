package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/discount-system/internal/config"
	"github.com/discount-system/internal/logger"
	"github.com/discount-system/internal/models"
	"github.com/discount-system/internal/repository"
	"github.com/discount-system/internal/service"
)

func main() {
	var count, rounds int
	flag.IntVar(&count, "count", 1000, "每轮生成数量 (1-2000)")
	flag.IntVar(&rounds, "rounds", 1, "生成轮数")
	flag.Parse()

	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	defer logger.Sync()
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 离线生成不走缓存
	svc := service.NewDiscountService(
		repository.NewDiscountCodeRepository(models.DB),
		nil,
		nil,
		service.DiscountOptionsFromConfig(cfg.Discount),
	)

	total := 0
	for i := 1; i <= rounds; i++ {
		start := time.Now()
		result, err := svc.GenerateCodes(ctx, count)
		if err != nil {
			stdLog.Fatalf("Round %d failed: %v", i, err)
		}
		total += result.GeneratedCount
		stdLog.Printf("Round %d: requested=%d generated=%d success=%v elapsed=%s",
			i, result.RequestedCount, result.GeneratedCount, result.Success, time.Since(start).Round(time.Millisecond))
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		stdLog.Fatalf("Failed to load stats: %v", err)
	}
	stdLog.Printf("Seed completed: generated=%d total=%d unused=%d", total, stats.Total, stats.Unused)
}

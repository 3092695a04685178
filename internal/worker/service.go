package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/discount-system/internal/config"
	"github.com/discount-system/internal/logger"
	"github.com/discount-system/internal/queue"

	"github.com/hibiken/asynq"
)

const statsRefreshInterval = time.Minute

// Service 异步生成 worker，同时周期刷新库存指标
type Service struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	consumer *Consumer

	stopOnce sync.Once
}

// NewService 创建 worker 服务，队列未启用时返回错误
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	serverCfg.Logger = logger.Named("asynq")
	serverCfg.ErrorHandler = asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		logger.Warnw("worker_task_failed", "type", task.Type(), "retried", retried, "max_retry", maxRetry, "error", err)
	})

	mux := asynq.NewServeMux()
	mux.Use(taskLoggingMiddleware)
	consumer.Register(mux)
	return &Service{
		server:   asynq.NewServer(opt, serverCfg),
		mux:      mux,
		consumer: consumer,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	return "worker"
}

// Start 启动消费并阻塞到 ctx 结束；信号由 Runner 统一处理
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	go runStatsRefreshLoop(ctx, s.consumer, statsRefreshInterval)
	<-ctx.Done()
	return nil
}

// Stop 等待进行中的任务结束后关闭
func (s *Service) Stop(_ context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	s.stopOnce.Do(s.server.Shutdown)
	return nil
}

func taskLoggingMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		start := time.Now()
		taskID, _ := asynq.GetTaskID(ctx)
		err := next.ProcessTask(ctx, task)
		logger.Debugw("worker_task_processed",
			"type", task.Type(),
			"task_id", taskID,
			"latency_ms", time.Since(start).Milliseconds(),
			"failed", err != nil,
		)
		return err
	})
}

func runStatsRefreshLoop(ctx context.Context, consumer *Consumer, interval time.Duration) {
	if consumer == nil {
		return
	}
	refresh := func() {
		if err := consumer.RefreshStats(ctx); err != nil && ctx.Err() == nil {
			logger.Warnw("worker_stats_refresh_failed", "error", err)
		}
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

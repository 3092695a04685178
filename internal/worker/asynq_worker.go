package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/discount-system/internal/logger"
	"github.com/discount-system/internal/metrics"
	"github.com/discount-system/internal/provider"
	"github.com/discount-system/internal/queue"
	"github.com/discount-system/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskDiscountGenerate, c.handleDiscountGenerate)
}

func (c *Consumer) handleDiscountGenerate(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_discount_generate_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	payload, err := queue.ParseDiscountGeneratePayload(task)
	if err != nil {
		logger.Warnw("worker_discount_generate_unmarshal_failed", "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if c.Container == nil || c.DiscountService == nil {
		logger.Warnw("worker_discount_generate_skip_service_nil", "request_id", payload.RequestID)
		return nil
	}

	result, err := c.DiscountService.GenerateCodes(ctx, payload.Count)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDiscountCountInvalid):
			logger.Warnw("worker_discount_generate_invalid_count", "count", payload.Count, "request_id", payload.RequestID)
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		case errors.Is(err, service.ErrDiscountCanceled):
			logger.Infow("worker_discount_generate_canceled", "count", payload.Count, "request_id", payload.RequestID)
			return err
		default:
			logger.Warnw("worker_discount_generate_failed", "count", payload.Count, "request_id", payload.RequestID, "error", err)
			return err
		}
	}
	if !result.Success {
		// 重试预算耗尽不是错误，重新入队也无法改善结果
		logger.Warnw("worker_discount_generate_short",
			"count", payload.Count,
			"generated", result.GeneratedCount,
			"request_id", payload.RequestID,
		)
		return nil
	}
	logger.Infow("worker_discount_generate_done", "count", payload.Count, "request_id", payload.RequestID)
	return nil
}

// RefreshStats 刷新未使用折扣码数量指标
func (c *Consumer) RefreshStats(ctx context.Context) error {
	if c == nil || c.Container == nil || c.DiscountService == nil {
		return nil
	}
	stats, err := c.DiscountService.Stats(ctx)
	if err != nil {
		return err
	}
	metrics.UnusedCodes.Set(float64(stats.Unused))
	return nil
}

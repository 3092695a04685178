package service

import (
	"context"
	"strings"
	"time"

	"github.com/discount-system/internal/config"
	"github.com/discount-system/internal/logger"
	"github.com/discount-system/internal/metrics"
	"github.com/discount-system/internal/models"
	"github.com/discount-system/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDiscountMaxGenerateCount = 2000
	defaultDiscountBatchSize        = 100
	defaultDiscountRetryMultiplier  = 3
	defaultDiscountUsedCacheTTL     = 24 * time.Hour
)

// UsedCodeCache 已使用折扣码缓存，仅作优化，缺失或过期不影响正确性
type UsedCodeCache interface {
	IsUsed(ctx context.Context, code string) (bool, error)
	MarkUsed(ctx context.Context, code string, ttl time.Duration) error
}

// DiscountOptions 折扣码服务参数
type DiscountOptions struct {
	CodeLength       int
	MaxGenerateCount int
	BatchSize        int
	RetryMultiplier  int
	UsedCacheTTL     time.Duration
}

// DefaultDiscountOptions 默认参数
func DefaultDiscountOptions() DiscountOptions {
	return DiscountOptions{
		CodeLength:       DiscountCodeLength,
		MaxGenerateCount: defaultDiscountMaxGenerateCount,
		BatchSize:        defaultDiscountBatchSize,
		RetryMultiplier:  defaultDiscountRetryMultiplier,
		UsedCacheTTL:     defaultDiscountUsedCacheTTL,
	}
}

// DiscountOptionsFromConfig 从配置构建参数
func DiscountOptionsFromConfig(cfg config.DiscountConfig) DiscountOptions {
	return normalizeDiscountOptions(DiscountOptions{
		CodeLength:       cfg.CodeLength,
		MaxGenerateCount: cfg.MaxGenerateCount,
		BatchSize:        cfg.BatchSize,
		RetryMultiplier:  cfg.RetryMultiplier,
		UsedCacheTTL:     cfg.UsedCacheTTL(),
	})
}

func normalizeDiscountOptions(opts DiscountOptions) DiscountOptions {
	defaults := DefaultDiscountOptions()
	if opts.CodeLength <= 0 || opts.CodeLength > MaxDiscountCodeLength {
		opts.CodeLength = defaults.CodeLength
	}
	if opts.MaxGenerateCount <= 0 {
		opts.MaxGenerateCount = defaults.MaxGenerateCount
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaults.BatchSize
	}
	if opts.RetryMultiplier <= 0 {
		opts.RetryMultiplier = defaults.RetryMultiplier
	}
	if opts.UsedCacheTTL <= 0 {
		opts.UsedCacheTTL = defaults.UsedCacheTTL
	}
	return opts
}

// CodeGenerationResult 生成结果
type CodeGenerationResult struct {
	Success        bool `json:"result"`
	RequestedCount int  `json:"requested_count"`
	GeneratedCount int  `json:"generated_count"`
}

// DiscountListInput 折扣码列表输入
type DiscountListInput struct {
	Code        string
	Status      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Page        int
	PageSize    int
}

// DiscountService 折扣码生成与兑换服务
type DiscountService struct {
	repo      repository.DiscountCodeRepository
	generator CodeGenerator
	usedCache UsedCodeCache
	opts      DiscountOptions
	// gate 只有一个名额：整个“生成-查重-写入”周期在进程内串行执行
	gate *semaphore.Weighted
	now  func() time.Time
	log  *zap.SugaredLogger
}

// NewDiscountService 创建折扣码服务，usedCache 可为 nil
func NewDiscountService(repo repository.DiscountCodeRepository, generator CodeGenerator, usedCache UsedCodeCache, opts DiscountOptions) *DiscountService {
	opts = normalizeDiscountOptions(opts)
	if generator == nil {
		generator = NewRandomCodeGenerator(opts.CodeLength)
	}
	return &DiscountService{
		repo:      repo,
		generator: generator,
		usedCache: usedCache,
		opts:      opts,
		gate:      semaphore.NewWeighted(1),
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.Named("discount"),
	}
}

// Options 当前生效参数
func (s *DiscountService) Options() DiscountOptions {
	return s.opts
}

// ValidateCount 校验生成数量
func (s *DiscountService) ValidateCount(count int) error {
	if count < 1 || count > s.opts.MaxGenerateCount {
		return ErrDiscountCountInvalid
	}
	return nil
}

// GenerateCodes 生成 count 个唯一折扣码并批量写入
func (s *DiscountService) GenerateCodes(ctx context.Context, count int) (*CodeGenerationResult, error) {
	if s == nil || s.repo == nil {
		return nil, ErrDiscountGenerateFailed
	}
	if err := s.ValidateCount(count); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.GenerateDuration.Observe(time.Since(start).Seconds())
	}()

	if err := s.gate.Acquire(ctx, 1); err != nil {
		metrics.GenerateRequestsTotal.WithLabelValues(metrics.GenerateResultCanceled).Inc()
		s.log.Infow("discount_generate_canceled", "count", count, "stage", "wait_gate")
		return nil, canceledError(err)
	}
	defer s.gate.Release(1)

	s.log.Infow("discount_generate_started", "count", count)
	result, err := s.generateLocked(ctx, count)
	if err != nil {
		return nil, err
	}

	metrics.CodesGeneratedTotal.Add(float64(result.GeneratedCount))
	if result.Success {
		metrics.GenerateRequestsTotal.WithLabelValues(metrics.GenerateResultSuccess).Inc()
		s.log.Infow("discount_generate_finished", "count", count, "generated", result.GeneratedCount)
	} else {
		metrics.GenerateRequestsTotal.WithLabelValues(metrics.GenerateResultShort).Inc()
		s.log.Warnw("discount_generate_short", "count", count, "generated", result.GeneratedCount)
	}
	return result, nil
}

func (s *DiscountService) generateLocked(ctx context.Context, count int) (*CodeGenerationResult, error) {
	accepted := make(map[string]struct{}, count)
	ordered := make([]string, 0, count)
	attempts := 0
	maxAttempts := count * s.opts.RetryMultiplier
	collisions := 0

	for len(ordered) < count && attempts < maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, s.generateCanceled(count, err)
		}

		batch, err := s.generateBatch(ctx, min(s.opts.BatchSize, count-len(ordered)))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, s.generateCanceled(count, ctxErr)
			}
			s.log.Errorw("discount_generate_batch_failed", "count", count, "error", err)
			metrics.GenerateRequestsTotal.WithLabelValues(metrics.GenerateResultError).Inc()
			return nil, ErrDiscountGenerateFailed
		}

		existing, err := s.repo.ListExistingCodes(ctx, batch)
		if err != nil {
			return nil, s.generateStoreFailed(ctx, count, "list_existing", err)
		}

		for _, code := range batch {
			if len(ordered) >= count {
				break
			}
			if _, ok := existing[code]; ok {
				collisions++
				continue
			}
			if _, ok := accepted[code]; ok {
				continue
			}
			accepted[code] = struct{}{}
			ordered = append(ordered, code)
		}
		attempts += len(batch)
	}
	if collisions > 0 {
		metrics.GenerateCollisionsTotal.Add(float64(collisions))
		s.log.Debugw("discount_generate_collisions", "count", count, "collisions", collisions)
	}

	var inserted int64
	if len(ordered) > 0 {
		now := s.now()
		records := make([]models.DiscountCode, 0, len(ordered))
		for _, code := range ordered {
			records = append(records, models.DiscountCode{
				ID:        uuid.NewString(),
				Code:      code,
				CreatedAt: now,
			})
		}
		var err error
		inserted, err = s.repo.BulkInsert(ctx, records)
		if err != nil {
			return nil, s.generateStoreFailed(ctx, count, "bulk_insert", err)
		}
	}

	return &CodeGenerationResult{
		Success:        int(inserted) == count,
		RequestedCount: count,
		GeneratedCount: int(inserted),
	}, nil
}

// generateBatch 生成一批批内去重的候选码，保持生成顺序
func (s *DiscountService) generateBatch(ctx context.Context, size int) ([]string, error) {
	seen := make(map[string]struct{}, size)
	batch := make([]string, 0, size)
	for len(batch) < size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		code, err := s.generator.GenerateCode()
		if err != nil {
			return nil, err
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		batch = append(batch, code)
	}
	return batch, nil
}

func (s *DiscountService) generateCanceled(count int, err error) error {
	metrics.GenerateRequestsTotal.WithLabelValues(metrics.GenerateResultCanceled).Inc()
	s.log.Infow("discount_generate_canceled", "count", count, "stage", "generate")
	return canceledError(err)
}

func (s *DiscountService) generateStoreFailed(ctx context.Context, count int, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil || isContextError(err) {
		if ctxErr == nil {
			ctxErr = err
		}
		return s.generateCanceled(count, ctxErr)
	}
	metrics.GenerateRequestsTotal.WithLabelValues(metrics.GenerateResultError).Inc()
	s.log.Errorw("discount_generate_store_failed", "count", count, "stage", stage, "error", err)
	return ErrDiscountGenerateFailed
}

// RedeemCode 兑换折扣码，仅首次成功兑换返回 true
func (s *DiscountService) RedeemCode(ctx context.Context, code string) (bool, error) {
	if s == nil || s.repo == nil {
		return false, ErrDiscountRedeemFailed
	}
	if !s.isWellFormed(code) {
		metrics.RedeemRequestsTotal.WithLabelValues(metrics.RedeemResultInvalid).Inc()
		return false, nil
	}

	if s.usedCache != nil {
		used, err := s.usedCache.IsUsed(ctx, code)
		if err != nil {
			s.log.Warnw("discount_redeem_cache_read_failed", "error", err)
		} else if used {
			metrics.RedeemRequestsTotal.WithLabelValues(metrics.RedeemResultCacheHit).Inc()
			s.log.Infow("discount_redeem_already_used", "source", "cache")
			return false, nil
		}
	}

	record, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return false, s.redeemStoreFailed(ctx, "get_by_code", err)
	}
	if record == nil {
		metrics.RedeemRequestsTotal.WithLabelValues(metrics.RedeemResultNotFound).Inc()
		s.log.Warnw("discount_redeem_code_not_found")
		return false, nil
	}
	if record.Used() {
		s.rememberUsed(ctx, code)
		metrics.RedeemRequestsTotal.WithLabelValues(metrics.RedeemResultAlreadyUsed).Inc()
		s.log.Infow("discount_redeem_already_used", "source", "store", "code_id", record.ID)
		return false, nil
	}

	usedAt := s.now()
	marked, err := s.repo.MarkUsed(ctx, record.ID, usedAt)
	if err != nil {
		return false, s.redeemStoreFailed(ctx, "mark_used", err)
	}
	s.rememberUsed(ctx, code)
	if !marked {
		metrics.RedeemRequestsTotal.WithLabelValues(metrics.RedeemResultRaceLost).Inc()
		s.log.Infow("discount_redeem_race_lost", "code_id", record.ID)
		return false, nil
	}

	metrics.RedeemRequestsTotal.WithLabelValues(metrics.RedeemResultRedeemed).Inc()
	s.log.Infow("discount_redeem_succeeded", "code_id", record.ID, "used_at", usedAt)
	return true, nil
}

func (s *DiscountService) isWellFormed(code string) bool {
	if strings.TrimSpace(code) == "" {
		return false
	}
	return len(code) == s.opts.CodeLength
}

func (s *DiscountService) rememberUsed(ctx context.Context, code string) {
	if s.usedCache == nil {
		return
	}
	if err := s.usedCache.MarkUsed(ctx, code, s.opts.UsedCacheTTL); err != nil {
		s.log.Warnw("discount_redeem_cache_write_failed", "error", err)
	}
}

func (s *DiscountService) redeemStoreFailed(ctx context.Context, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil || isContextError(err) {
		if ctxErr == nil {
			ctxErr = err
		}
		s.log.Infow("discount_redeem_canceled", "stage", stage)
		return canceledError(ctxErr)
	}
	metrics.RedeemRequestsTotal.WithLabelValues(metrics.RedeemResultError).Inc()
	s.log.Errorw("discount_redeem_store_failed", "stage", stage, "error", err)
	return ErrDiscountRedeemFailed
}

// ListCodes 获取折扣码列表
func (s *DiscountService) ListCodes(ctx context.Context, input DiscountListInput) ([]models.DiscountCode, int64, error) {
	if s == nil || s.repo == nil {
		return nil, 0, ErrDiscountFetchFailed
	}
	status := strings.TrimSpace(strings.ToLower(input.Status))
	switch status {
	case "", repository.DiscountCodeStatusUsed, repository.DiscountCodeStatusUnused:
	default:
		return nil, 0, ErrDiscountListInvalid
	}
	records, total, err := s.repo.List(ctx, repository.DiscountCodeListFilter{
		Page:        input.Page,
		PageSize:    input.PageSize,
		Code:        strings.TrimSpace(strings.ToUpper(input.Code)),
		Status:      status,
		CreatedFrom: input.CreatedFrom,
		CreatedTo:   input.CreatedTo,
	})
	if err != nil {
		s.log.Errorw("discount_list_failed", "error", err)
		return nil, 0, ErrDiscountFetchFailed
	}
	return records, total, nil
}

// Stats 折扣码统计
func (s *DiscountService) Stats(ctx context.Context) (repository.DiscountCodeStats, error) {
	if s == nil || s.repo == nil {
		return repository.DiscountCodeStats{}, ErrDiscountFetchFailed
	}
	stats, err := s.repo.CountStats(ctx)
	if err != nil {
		s.log.Errorw("discount_stats_failed", "error", err)
		return repository.DiscountCodeStats{}, ErrDiscountFetchFailed
	}
	return stats, nil
}

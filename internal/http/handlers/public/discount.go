package public

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/discount-system/internal/cache"
	"github.com/discount-system/internal/constants"
	handlershared "github.com/discount-system/internal/http/handlers/shared"
	"github.com/discount-system/internal/http/response"
	"github.com/discount-system/internal/queue"
	"github.com/discount-system/internal/repository"
	"github.com/discount-system/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	discountStatsCacheKey = "discount:stats"
	discountStatsCacheTTL = 10 * time.Second
	healthCheckTimeout    = 2 * time.Second
)

// GenerateCodesRequest 批量生成请求
type GenerateCodesRequest struct {
	Count int `json:"count"`
}

// RedeemCodeRequest 兑换请求
type RedeemCodeRequest struct {
	Code string `json:"code"`
}

// RedeemCodeResponse 兑换结果，result 0 表示成功，1 表示失败
type RedeemCodeResponse struct {
	Redeemed bool `json:"redeemed"`
	Result   int  `json:"result"`
}

// GenerateCodesAsyncResponse 异步生成受理结果
type GenerateCodesAsyncResponse struct {
	TaskID         string `json:"task_id"`
	RequestedCount int    `json:"requested_count"`
}

// GenerateCodes 同步批量生成折扣码
func (h *Handler) GenerateCodes(c *gin.Context) {
	var req GenerateCodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, msgBadRequest, err)
		return
	}

	result, err := h.DiscountService.GenerateCodes(c.Request.Context(), req.Count)
	if err != nil {
		respondWithMappedError(c, err, discountErrorRules, response.CodeInternal, msgGenerateFailed)
		return
	}
	if result.GeneratedCount > 0 {
		h.invalidateStats(c)
	}
	if !result.Success {
		response.SuccessWithMsg(c, msgGenerateIncomplete, result)
		return
	}
	response.Success(c, result)
}

// GenerateCodesAsync 将批量生成交给后台 worker
func (h *Handler) GenerateCodesAsync(c *gin.Context) {
	var req GenerateCodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, msgBadRequest, err)
		return
	}
	if err := h.DiscountService.ValidateCount(req.Count); err != nil {
		respondWithMappedError(c, err, discountErrorRules, response.CodeInternal, msgGenerateFailed)
		return
	}
	if h.QueueClient == nil || !h.QueueClient.Enabled() {
		respondError(c, response.CodeServiceUnavailable, msgQueueUnavailable, nil)
		return
	}

	taskID, err := h.QueueClient.EnqueueDiscountGenerate(queue.DiscountGeneratePayload{
		Count:     req.Count,
		RequestID: c.GetString("request_id"),
	})
	if err != nil {
		respondError(c, response.CodeInternal, msgEnqueueFailed, err)
		return
	}
	handlershared.RequestLog(c).Infow("discount_generate_enqueued", "count", req.Count, "task_id", taskID)
	response.Success(c, GenerateCodesAsyncResponse{
		TaskID:         taskID,
		RequestedCount: req.Count,
	})
}

// RedeemCode 兑换折扣码
func (h *Handler) RedeemCode(c *gin.Context) {
	var req RedeemCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, msgBadRequest, err)
		return
	}

	redeemed, err := h.DiscountService.RedeemCode(c.Request.Context(), req.Code)
	if err != nil {
		respondWithMappedError(c, err, discountErrorRules, response.CodeInternal, msgRedeemFailed)
		return
	}
	if !redeemed {
		response.SuccessWithMsg(c, msgNotRedeemable, RedeemCodeResponse{
			Redeemed: false,
			Result:   constants.RedeemResultFailed,
		})
		return
	}
	h.invalidateStats(c)
	response.SuccessWithMsg(c, msgRedeemed, RedeemCodeResponse{
		Redeemed: true,
		Result:   constants.RedeemResultSuccess,
	})
}

// ListCodes 分页查询折扣码
func (h *Handler) ListCodes(c *gin.Context) {
	page, pageSize := handlershared.PaginationFromQuery(c)

	createdFrom, err := parseTimeNullable(strings.TrimSpace(c.Query("created_from")))
	if err != nil {
		respondError(c, response.CodeBadRequest, msgListFilterInvalid, err)
		return
	}
	createdTo, err := parseTimeNullable(strings.TrimSpace(c.Query("created_to")))
	if err != nil {
		respondError(c, response.CodeBadRequest, msgListFilterInvalid, err)
		return
	}

	codes, total, err := h.DiscountService.ListCodes(c.Request.Context(), service.DiscountListInput{
		Code:        c.Query("code"),
		Status:      c.Query("status"),
		CreatedFrom: createdFrom,
		CreatedTo:   createdTo,
		Page:        page,
		PageSize:    pageSize,
	})
	if err != nil {
		respondWithMappedError(c, err, discountErrorRules, response.CodeInternal, msgFetchFailed)
		return
	}
	response.SuccessWithPage(c, codes, response.NewPagination(page, pageSize, total))
}

// Stats 折扣码统计，Redis 可用时短暂缓存
func (h *Handler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	var cached repository.DiscountCodeStats
	if hit, err := cache.GetJSON(ctx, discountStatsCacheKey, &cached); err == nil && hit {
		response.Success(c, cached)
		return
	}

	stats, err := h.DiscountService.Stats(ctx)
	if err != nil {
		respondWithMappedError(c, err, discountErrorRules, response.CodeInternal, msgFetchFailed)
		return
	}
	if err := cache.SetJSON(ctx, discountStatsCacheKey, stats, discountStatsCacheTTL); err != nil {
		handlershared.RequestLog(c).Warnw("discount_stats_cache_set_failed", "error", err)
	}
	response.Success(c, stats)
}

// Root 服务存活文本
func (h *Handler) Root(c *gin.Context) {
	c.String(http.StatusOK, "Discount code service is running. Use the /api/v1/codes endpoints.")
}

// HealthResponse 健康检查结果
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
	Queue    string `json:"queue"`
}

// Health 健康检查：数据库不可用时返回 503，Redis / 队列仅作降级提示
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Database: "ok", Redis: "disabled", Queue: "disabled"}
	if err := h.pingDatabase(ctx); err != nil {
		handlershared.RequestLog(c).Warnw("health_database_unavailable", "error", err)
		resp.Status = "unavailable"
		resp.Database = "error"
	}
	if cache.Enabled() {
		resp.Redis = "ok"
		if err := cache.Ping(ctx); err != nil {
			handlershared.RequestLog(c).Warnw("health_redis_unavailable", "error", err)
			resp.Redis = "error"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
	}
	if h.QueueClient != nil && h.QueueClient.Enabled() {
		resp.Queue = "ok"
	}

	if resp.Database != "ok" {
		response.ErrorWithData(c, response.CodeServiceUnavailable, msgServiceUnhealthy, resp)
		return
	}
	response.Success(c, resp)
}

func (h *Handler) pingDatabase(ctx context.Context) error {
	if h.DB == nil {
		return errors.New("database not initialized")
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// invalidateStats 写操作成功后让统计缓存失效
func (h *Handler) invalidateStats(c *gin.Context) {
	if err := cache.Delete(c.Request.Context(), discountStatsCacheKey); err != nil {
		handlershared.RequestLog(c).Warnw("discount_stats_cache_invalidate_failed", "error", err)
	}
}

func parseTimeNullable(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

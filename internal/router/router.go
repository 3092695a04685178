package router

import (
	"fmt"
	"strings"

	"github.com/discount-system/internal/cache"
	"github.com/discount-system/internal/config"
	"github.com/discount-system/internal/constants"
	publichandlers "github.com/discount-system/internal/http/handlers/public"
	"github.com/discount-system/internal/http/response"
	"github.com/discount-system/internal/logger"
	"github.com/discount-system/internal/metrics"
	"github.com/discount-system/internal/provider"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	handler := publichandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = constants.RedisPrefixDefault
	}
	redeemRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:redeem", redisPrefix),
		WindowSeconds: cfg.Security.RedeemRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.RedeemRateLimit.MaxRequests,
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))
	if cfg.Metrics.Enabled {
		metrics.InitMetrics()
		r.Use(MetricsMiddleware())
		path := strings.TrimSpace(cfg.Metrics.Path)
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.Handler()))
	}

	r.GET("/", handler.Root)
	r.GET("/healthz", handler.Health)

	apiV1 := r.Group("/api/v1")
	{
		codes := apiV1.Group("/codes")
		{
			codes.GET("", handler.ListCodes)
			codes.GET("/stats", handler.Stats)
			codes.POST("/generate", handler.GenerateCodes)
			codes.POST("/generate/async", handler.GenerateCodesAsync)
			codes.POST("/redeem", RateLimitMiddleware(cache.Client(), redeemRule, KeyByIP), handler.RedeemCode)
		}
	}

	r.NoRoute(func(ctx *gin.Context) {
		response.NotFound(ctx, "route not found")
	})

	return r
}

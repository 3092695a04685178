package provider

import (
	"github.com/discount-system/internal/cache"
	"github.com/discount-system/internal/config"
	"github.com/discount-system/internal/logger"
	"github.com/discount-system/internal/models"
	"github.com/discount-system/internal/queue"
	"github.com/discount-system/internal/repository"
	"github.com/discount-system/internal/service"

	"gorm.io/gorm"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	DB          *gorm.DB
	QueueClient *queue.Client

	// Caches
	UsedCodeCache *cache.UsedCodeCache

	// Repositories
	DiscountCodeRepo repository.DiscountCodeRepository

	// Services
	DiscountService *service.DiscountService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	return NewContainerWithDB(cfg, models.DB, queueClient)
}

// NewContainerWithDB 使用指定数据库构建容器，不初始化外部连接
func NewContainerWithDB(cfg *config.Config, db *gorm.DB, queueClient *queue.Client) *Container {
	c := &Container{
		Config:      cfg,
		DB:          db,
		QueueClient: queueClient,
	}

	// 1. 初始化缓存
	c.initCaches()

	// 2. 初始化 Repositories
	c.initRepositories(db)

	// 3. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initCaches() {
	usedCache, err := cache.NewUsedCodeCache(
		int64(c.Config.Discount.UsedCacheMaxEntries),
		cache.Client(),
		cache.Prefix(),
	)
	if err != nil {
		// 缓存只是优化，创建失败时直接走数据库
		logger.Warnw("provider_init_used_code_cache_failed", "error", err)
		return
	}
	c.UsedCodeCache = usedCache
}

func (c *Container) initRepositories(db *gorm.DB) {
	c.DiscountCodeRepo = repository.NewDiscountCodeRepository(db)
}

func (c *Container) initServices() {
	var usedCache service.UsedCodeCache
	if c.UsedCodeCache != nil {
		usedCache = c.UsedCodeCache
	}
	c.DiscountService = service.NewDiscountService(
		c.DiscountCodeRepo,
		nil,
		usedCache,
		service.DiscountOptionsFromConfig(c.Config.Discount),
	)
}

// Close 释放容器持有的资源
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.QueueClient != nil {
		if err := c.QueueClient.Close(); err != nil {
			logger.Warnw("provider_close_queue_client_failed", "error", err)
		}
	}
	if c.UsedCodeCache != nil {
		c.UsedCodeCache.Close()
	}
	if err := cache.Close(); err != nil {
		logger.Warnw("provider_close_redis_failed", "error", err)
	}
}

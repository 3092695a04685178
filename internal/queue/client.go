package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/discount-system/internal/config"
	"github.com/discount-system/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// DefaultQueue 默认队列名称
	DefaultQueue = constants.QueueDefault
	// GenerateQueue 批量生成队列名称
	GenerateQueue = constants.QueueGenerate

	defaultGenerateTimeout  = 5 * time.Minute
	defaultGenerateMaxRetry = 3
)

// ErrQueueDisabled 队列未启用
var ErrQueueDisabled = errors.New("queue disabled")

// Client 队列客户端封装
type Client struct {
	client        *asynq.Client
	enabled       bool
	generateQueue string
}

// NewClient 创建队列客户端
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{enabled: false, generateQueue: GenerateQueue}, nil
	}
	opt := buildRedisOpt(cfg)
	client := asynq.NewClient(opt)
	return &Client{
		client:        client,
		enabled:       true,
		generateQueue: GenerateQueue,
	}, nil
}

// Enabled 判断是否启用
func (c *Client) Enabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueDiscountGenerate 推送批量生成任务，返回任务 ID
func (c *Client) EnqueueDiscountGenerate(payload DiscountGeneratePayload, opts ...asynq.Option) (string, error) {
	if !c.Enabled() {
		return "", ErrQueueDisabled
	}
	task, err := NewDiscountGenerateTask(payload)
	if err != nil {
		return "", err
	}
	options := append([]asynq.Option{
		asynq.Queue(c.generateQueue),
		asynq.Timeout(defaultGenerateTimeout),
		asynq.MaxRetry(defaultGenerateMaxRetry),
	}, opts...)
	info, err := c.client.Enqueue(task, options...)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// BuildServerConfig 生成队列服务配置
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	opt := buildRedisOpt(cfg)
	concurrency := 10
	if cfg != nil && cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	queues := map[string]int{DefaultQueue: 1, GenerateQueue: 1}
	if cfg != nil && len(cfg.Queues) > 0 {
		queues = make(map[string]int, len(cfg.Queues)+1)
		for name, priority := range cfg.Queues {
			queues[name] = priority
		}
		if _, ok := queues[GenerateQueue]; !ok {
			queues[GenerateQueue] = 1
		}
	}
	return opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
	}
}

func buildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	port := 6379
	password := ""
	db := 0
	if cfg != nil {
		if strings.TrimSpace(cfg.Host) != "" {
			host = strings.TrimSpace(cfg.Host)
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		password = cfg.Password
		db = cfg.DB
	}
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	}
}

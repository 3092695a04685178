package constants

// 折扣码状态常量
const (
	DiscountCodeStatusUsed   = "used"
	DiscountCodeStatusUnused = "unused"
)

// 兑换结果常量，沿用 0 成功 / 1 失败 的对外约定
const (
	RedeemResultSuccess = 0
	RedeemResultFailed  = 1
)

// 队列常量
const (
	QueueDefault         = "default"
	QueueGenerate        = "generate"
	TaskDiscountGenerate = "discount:generate"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "dc"
)

// 运行模式常量
const (
	RunModeAll    = "all"
	RunModeAPI    = "api"
	RunModeWorker = "worker"
)

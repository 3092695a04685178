package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 兑换结果标签
const (
	RedeemResultRedeemed    = "redeemed"
	RedeemResultInvalid     = "invalid"
	RedeemResultCacheHit    = "cache_hit"
	RedeemResultNotFound    = "not_found"
	RedeemResultAlreadyUsed = "already_used"
	RedeemResultRaceLost    = "race_lost"
	RedeemResultError       = "error"
)

// 生成结果标签
const (
	GenerateResultSuccess  = "success"
	GenerateResultShort    = "short"
	GenerateResultCanceled = "canceled"
	GenerateResultError    = "error"
)

var (
	// HTTP 指标
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)

	// 折扣码指标
	CodesGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "discount_codes_generated_total",
			Help: "Total number of discount codes persisted",
		},
	)
	GenerateRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discount_generate_requests_total",
			Help: "Total number of generation cycles by result",
		},
		[]string{"result"},
	)
	GenerateCollisionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "discount_generate_collisions_total",
			Help: "Candidate codes discarded because they already existed",
		},
	)
	GenerateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "discount_generate_duration_seconds",
			Help:    "Duration of a full generation cycle including the wait for the gate",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)
	RedeemRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discount_redeem_requests_total",
			Help: "Total number of redemption attempts by result",
		},
		[]string{"result"},
	)
	UnusedCodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "discount_codes_unused",
			Help: "Number of persisted discount codes not yet redeemed",
		},
	)
)

var registerOnce sync.Once

// InitMetrics 注册全部指标到默认 registry（默认 registry 已包含 Go 与进程指标），可重复调用
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)

		prometheus.MustRegister(CodesGeneratedTotal)
		prometheus.MustRegister(GenerateRequestsTotal)
		prometheus.MustRegister(GenerateCollisionsTotal)
		prometheus.MustRegister(GenerateDuration)
		prometheus.MustRegister(RedeemRequestsTotal)
		prometheus.MustRegister(UnusedCodes)
	})
}

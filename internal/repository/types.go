package repository

import (
	"time"

	"github.com/discount-system/internal/constants"
)

// 折扣码状态筛选值
const (
	DiscountCodeStatusUsed   = constants.DiscountCodeStatusUsed
	DiscountCodeStatusUnused = constants.DiscountCodeStatusUnused
)

// DiscountCodeListFilter 查询折扣码列表的过滤条件
type DiscountCodeListFilter struct {
	Page        int
	PageSize    int
	Code        string // 前缀匹配
	Status      string // used / unused，空表示全部
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// DiscountCodeStats 折扣码统计
type DiscountCodeStats struct {
	Total  int64 `json:"total"`
	Used   int64 `json:"used"`
	Unused int64 `json:"unused"`
}

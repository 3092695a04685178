package shared

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// 分页参数默认值与上限
const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

// PaginationFromQuery 读取 page / page_size 查询参数，非法值回退为默认值。
func PaginationFromQuery(c *gin.Context) (int, int) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", DefaultPageSize)
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

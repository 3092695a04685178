package repository

import "gorm.io/gorm"

// applyPagination 追加 LIMIT/OFFSET，pageSize <= 0 表示不分页。
func applyPagination(query *gorm.DB, page, pageSize int) *gorm.DB {
	limit, offset := pageWindow(page, pageSize)
	if query == nil || limit == 0 {
		return query
	}
	return query.Limit(limit).Offset(offset)
}

func pageWindow(page, pageSize int) (limit, offset int) {
	if pageSize <= 0 {
		return 0, 0
	}
	if page < 1 {
		page = 1
	}
	return pageSize, (page - 1) * pageSize
}

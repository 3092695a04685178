package repository

import (
	"strings"

	"gorm.io/gorm"
)

// 单条 IN 查询的参数上限：sqlite 旧版本上限 999，postgres 上限 65535
const (
	sqliteInChunkSize   = 900
	postgresInChunkSize = 5000
)

// dbDialectName 获取数据库方言名称，默认按 sqlite 处理。
func dbDialectName(db *gorm.DB) string {
	if db == nil || db.Dialector == nil {
		return "sqlite"
	}
	name := strings.ToLower(strings.TrimSpace(db.Dialector.Name()))
	if name == "" {
		return "sqlite"
	}
	return name
}

// inChunkSizeByDialect 返回 IN 查询每批的参数数量。
func inChunkSizeByDialect(dialect string) int {
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case "postgres", "postgresql":
		return postgresInChunkSize
	default:
		return sqliteInChunkSize
	}
}

// chunkStrings 按固定大小切分字符串列表。
func chunkStrings(values []string, size int) [][]string {
	if len(values) == 0 {
		return nil
	}
	if size <= 0 || size >= len(values) {
		return [][]string{values}
	}
	chunks := make([][]string, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

// escapeLikePattern 转义 LIKE 通配符，配合 ESCAPE '\' 使用。
func escapeLikePattern(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

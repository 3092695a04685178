package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/discount-system/internal/models"

	"gorm.io/gorm"
)

// discountCodeInsertBatchSize 单条 INSERT 的最大行数
const discountCodeInsertBatchSize = 500

// DiscountCodeRepository 折扣码仓储接口
type DiscountCodeRepository interface {
	GetByCode(ctx context.Context, code string) (*models.DiscountCode, error)
	ListExistingCodes(ctx context.Context, codes []string) (map[string]struct{}, error)
	BulkInsert(ctx context.Context, codes []models.DiscountCode) (int64, error)
	MarkUsed(ctx context.Context, id string, usedAt time.Time) (bool, error)
	List(ctx context.Context, filter DiscountCodeListFilter) ([]models.DiscountCode, int64, error)
	CountStats(ctx context.Context) (DiscountCodeStats, error)
}

// GormDiscountCodeRepository GORM 折扣码仓储实现
type GormDiscountCodeRepository struct {
	db *gorm.DB
}

// NewDiscountCodeRepository 创建折扣码仓储
func NewDiscountCodeRepository(db *gorm.DB) *GormDiscountCodeRepository {
	return &GormDiscountCodeRepository{db: db}
}

// WithTx 绑定事务
func (r *GormDiscountCodeRepository) WithTx(tx *gorm.DB) *GormDiscountCodeRepository {
	if tx == nil {
		return r
	}
	return &GormDiscountCodeRepository{db: tx}
}

// GetByCode 根据折扣码精确查询，不存在时返回 nil
func (r *GormDiscountCodeRepository) GetByCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	if code == "" {
		return nil, nil
	}
	var record models.DiscountCode
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get discount code: %w", err)
	}
	return &record, nil
}

// ListExistingCodes 批量检查折扣码是否已存在，返回已存在的集合
func (r *GormDiscountCodeRepository) ListExistingCodes(ctx context.Context, codes []string) (map[string]struct{}, error) {
	result := make(map[string]struct{})
	if len(codes) == 0 {
		return result, nil
	}
	for _, chunk := range chunkStrings(codes, inChunkSizeByDialect(dbDialectName(r.db))) {
		var existing []string
		if err := r.db.WithContext(ctx).
			Model(&models.DiscountCode{}).
			Where("code IN ?", chunk).
			Pluck("code", &existing).Error; err != nil {
			return nil, fmt.Errorf("list existing discount codes: %w", err)
		}
		for _, code := range existing {
			result[code] = struct{}{}
		}
	}
	return result, nil
}

// BulkInsert 在单个事务内批量写入折扣码，返回写入行数
func (r *GormDiscountCodeRepository) BulkInsert(ctx context.Context, codes []models.DiscountCode) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	var inserted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.CreateInBatches(&codes, discountCodeInsertBatchSize)
		if result.Error != nil {
			return result.Error
		}
		inserted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bulk insert discount codes: %w", err)
	}
	return inserted, nil
}

// MarkUsed 条件更新：仅当 used_at 仍为空时写入使用时间，返回是否由本次调用完成标记
func (r *GormDiscountCodeRepository) MarkUsed(ctx context.Context, id string, usedAt time.Time) (bool, error) {
	if id == "" {
		return false, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.DiscountCode{}).
		Where("id = ? AND used_at IS NULL", id).
		Updates(map[string]interface{}{
			"used_at": usedAt,
			"is_used": true,
		})
	if result.Error != nil {
		return false, fmt.Errorf("mark discount code used: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// List 查询折扣码列表
func (r *GormDiscountCodeRepository) List(ctx context.Context, filter DiscountCodeListFilter) ([]models.DiscountCode, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.DiscountCode{})
	if code := strings.TrimSpace(strings.ToUpper(filter.Code)); code != "" {
		query = query.Where(`code LIKE ? ESCAPE '\'`, escapeLikePattern(code)+"%")
	}
	switch strings.TrimSpace(filter.Status) {
	case DiscountCodeStatusUsed:
		query = query.Where("is_used = ?", true)
	case DiscountCodeStatusUnused:
		query = query.Where("is_used = ?", false)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count discount codes: %w", err)
	}

	var records []models.DiscountCode
	if err := applyPagination(query, filter.Page, filter.PageSize).
		Order("created_at desc").
		Order("code asc").
		Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("list discount codes: %w", err)
	}
	return records, total, nil
}

// CountStats 统计折扣码总数与已使用数
func (r *GormDiscountCodeRepository) CountStats(ctx context.Context) (DiscountCodeStats, error) {
	var stats DiscountCodeStats
	db := r.db.WithContext(ctx)
	if err := db.Model(&models.DiscountCode{}).Count(&stats.Total).Error; err != nil {
		return DiscountCodeStats{}, fmt.Errorf("count discount codes: %w", err)
	}
	if err := db.Model(&models.DiscountCode{}).Where("is_used = ?", true).Count(&stats.Used).Error; err != nil {
		return DiscountCodeStats{}, fmt.Errorf("count used discount codes: %w", err)
	}
	stats.Unused = stats.Total - stats.Used
	return stats, nil
}

package models

import "time"

// DiscountCode 折扣码
type DiscountCode struct {
	ID        string     `gorm:"type:varchar(36);primarykey" json:"id"`                                    // 主键（UUID）
	Code      string     `gorm:"type:varchar(16);uniqueIndex:ux_discount_codes_code;not null" json:"code"` // 折扣码
	IsUsed    bool       `gorm:"index:ix_discount_codes_is_used;not null;default:false" json:"is_used"`    // 是否已使用，与 used_at 同步
	UsedAt    *time.Time `json:"used_at"`                                                                  // 使用时间
	CreatedAt time.Time  `gorm:"index;not null" json:"created_at"`                                         // 创建时间
}

// TableName 指定表名
func (DiscountCode) TableName() string {
	return "discount_codes"
}

// Used 是否已被兑换
func (d *DiscountCode) Used() bool {
	return d != nil && d.UsedAt != nil
}

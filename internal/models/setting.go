package models

import "time"

// Setting 键值设置表，当前仅存放奖金计划（mlm_plan）
type Setting struct {
	Key       string    `gorm:"primarykey;type:varchar(64)" json:"key"` // 配置键
	ValueJSON JSON      `gorm:"type:json" json:"value"`                 // 配置值
	UpdatedAt time.Time `json:"updated_at"`                             // 最近修改时间
}

// TableName 指定表名
func (Setting) TableName() string {
	return "settings"
}

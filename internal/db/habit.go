package db

import (
	"time"

	"gorm.io/gorm"
)

// Habit 定义了习惯模型，归属于单个用户
// 频率通过 FrequencyUnit/FrequencyCount 描述，例如 unit=daily/count=1
// GoalAmount 为单日目标量（如 3 次、8 杯水），投影器据此判定当日是否完成
// Status 仅使用 active/archived，归档习惯不再参与每日奖励的聚合判定
// StartDate/EndDate 描述有效期，超出区间的日期不计入"当日应完成"集合
type Habit struct {
	gorm.Model
	UserID         uint `gorm:"index"`
	Name           string
	Description    string
	Icon           string
	FrequencyUnit  string
	FrequencyCount int
	GoalAmount     int
	Status         string
	StartDate      *time.Time
	EndDate        *time.Time
}

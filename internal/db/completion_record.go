package db

import "time"

// CompletionRecord 是按 (user, habit, day) 物化的完成度缓存
// 由账本投影派生，追加新事件后重建；仅作读取加速，可随时丢弃重算
// 复合唯一索引保证同键永不产生重复行
type CompletionRecord struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      uint   `gorm:"index:idx_completion_records_unique,unique"`
	HabitID     uint   `gorm:"index:idx_completion_records_unique,unique"`
	DayKey      string `gorm:"size:10;index:idx_completion_records_unique,unique"`
	Progress    int
	IsCompleted bool
	Source      string `gorm:"size:16"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName 指定自定义表名。
func (CompletionRecord) TableName() string {
	return "completion_records"
}

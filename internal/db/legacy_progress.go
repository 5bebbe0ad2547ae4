package db

import "time"

// LegacyDailyProgress 是迁移前的扁平进度存储：每 (user, habit, day) 一个计数
// 只读；迁移运行器据此合成账本事件，投影器在账本为空时将其作为回退值
type LegacyDailyProgress struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"index:idx_legacy_daily_progress_unique,unique"`
	HabitID   uint   `gorm:"index:idx_legacy_daily_progress_unique,unique"`
	DayKey    string `gorm:"size:10;index:idx_legacy_daily_progress_unique,unique"`
	Count     int
	CreatedAt time.Time
}

// TableName 指定自定义表名。
func (LegacyDailyProgress) TableName() string {
	return "legacy_daily_progress"
}

package db

import "time"

// DailyAward 表示某用户某天的每日奖励，每 (user, day) 至多一行
// AwardKey 为确定性的复合键 "userID#dayKey"，唯一约束使并发授予收敛为单一赢家
// 当日完成度回退时整行删除，因此"奖励存在"与"当天全部完成"始终等价
type DailyAward struct {
	ID                 uint   `gorm:"primaryKey"`
	AwardKey           string `gorm:"size:32;uniqueIndex"`
	UserID             uint   `gorm:"index:idx_daily_awards_user_day,unique"`
	DayKey             string `gorm:"size:10;index:idx_daily_awards_user_day,unique"`
	XPGranted          int
	AllHabitsCompleted bool
	CreatedAt          time.Time
}

// TableName 指定自定义表名。
func (DailyAward) TableName() string {
	return "daily_awards"
}

// UserProgress 汇总用户的经验与连胜，每用户一行
// XPTotal 恒等于该用户现存 DailyAward 行的 XPGranted 之和
// 只允许奖励引擎写入，其余路径一律只读
type UserProgress struct {
	ID            uint `gorm:"primaryKey"`
	UserID        uint `gorm:"uniqueIndex"`
	XPTotal       int
	Level         int
	CurrentDayKey string `gorm:"size:10"`
	CurrentDayXP  int
	CurrentStreak int
	LongestStreak int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName 指定自定义表名，避免自动复数化导致的歧义。
func (UserProgress) TableName() string {
	return "user_progress"
}

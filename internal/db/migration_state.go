package db

import "time"

// 迁移状态流转：not_started → in_progress → completed/failed
const (
	MigrationNotStarted = "not_started"
	MigrationInProgress = "in_progress"
	MigrationCompleted  = "completed"
	MigrationFailed     = "failed"
)

// MigrationState 记录每用户的账本迁移进度，每用户一行
// Version 单调不减，completed 且版本追平后 RunIfNeeded 直接短路
// 失败时保留 LastError，下次访问凭记录级幂等安全重入
type MigrationState struct {
	ID                  uint `gorm:"primaryKey"`
	UserID              uint `gorm:"uniqueIndex"`
	Version             int
	Status              string `gorm:"size:16"`
	MigratedRecordCount int
	StartedAt           *time.Time
	CompletedAt         *time.Time
	LastError           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TableName 指定自定义表名。
func (MigrationState) TableName() string {
	return "migration_states"
}

package db

import "time"

// 事件类型：increment/decrement 追加带符号增量，set 覆盖当前值，undo 回撤一次变更
const (
	EventIncrement = "increment"
	EventDecrement = "decrement"
	EventSet       = "set"
	EventUndo      = "undo"
)

// ProgressEvent 是进度变更账本中的一条不可变记录
// OperationID 采用确定性标识并施加唯一索引，重复提交在写入层被吸收（幂等）
// Sequence 为设备内单日递增序号，回放按 (sequence, created_at) 排序
// 账本只追加，除迁移回滚外不做修改或删除
type ProgressEvent struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      uint   `gorm:"index"`
	HabitID     uint   `gorm:"index:idx_progress_events_habit_day"`
	DayKey      string `gorm:"size:10;index:idx_progress_events_habit_day"`
	EventType   string `gorm:"size:16"`
	Delta       int
	DeviceID    string `gorm:"size:64"`
	OperationID string `gorm:"size:64;uniqueIndex"`
	Sequence    int64
	CreatedAt   time.Time
}

// TableName 指定自定义表名。
func (ProgressEvent) TableName() string {
	return "progress_events"
}

package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/habitsync/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidEvent 在事件字段非法时返回，此类事件在任何写入前被拒绝且不重试
	ErrInvalidEvent = errors.New("invalid progress event")
)

// operationNamespace 是派生确定性 OperationID 的 uuid v5 命名空间
var operationNamespace = uuid.MustParse("7b1d2f60-4c3a-4a7e-9a12-6f0b8cde4415")

// AppendOutcome 标识一次账本写入的结果
type AppendOutcome string

const (
	// OutcomeApplied 表示事件已落盘
	OutcomeApplied AppendOutcome = "applied"
	// OutcomeDuplicate 表示同 OperationID 的事件已存在，本次写入未产生任何效果
	OutcomeDuplicate AppendOutcome = "duplicate"
)

// 投影结果来源：账本回放或迁移前的旧值回退
const (
	SourceLedger = "ledger"
	SourceLegacy = "legacy"
)

// EventInput 定义追加账本事件时可配置字段
// OperationID 留空时由 (user, habit, day, device, sequence) 确定性派生
type EventInput struct {
	UserID      uint
	HabitID     uint
	DayKey      string
	EventType   string
	Delta       int
	DeviceID    string
	OperationID string
	Sequence    int64
}

// Projection 是对某 (habit, day) 回放账本得到的当前进度
type Projection struct {
	Progress int
	Source   string
}

// LedgerService 负责进度事件账本的追加与回放
// 账本只追加；幂等性由 operation_id 唯一索引配合 ON CONFLICT DO NOTHING 保证
type LedgerService struct {
	db *gorm.DB
}

// NewLedgerService 构造 LedgerService
func NewLedgerService(gdb *gorm.DB) *LedgerService {
	return &LedgerService{db: gdb}
}

// DeterministicOperationID 由事件坐标派生稳定的操作标识（uuid v5）
// 同一设备对同一 (habit, day, sequence) 的重放始终得到同一 ID
func DeterministicOperationID(userID, habitID uint, dayKey, deviceID string, sequence int64) string {
	name := fmt.Sprintf("%d|%d|%s|%s|%d", userID, habitID, dayKey, deviceID, sequence)
	return uuid.NewSHA1(operationNamespace, []byte(name)).String()
}

// Append 追加一条进度事件；同 OperationID 重复提交返回 OutcomeDuplicate 且不写入
func (s *LedgerService) Append(input EventInput) (*db.ProgressEvent, AppendOutcome, error) {
	if err := validateEventInput(input); err != nil {
		return nil, "", err
	}

	operationID := input.OperationID
	if operationID == "" {
		operationID = DeterministicOperationID(input.UserID, input.HabitID, input.DayKey, input.DeviceID, input.Sequence)
	}

	event := db.ProgressEvent{
		UserID:      input.UserID,
		HabitID:     input.HabitID,
		DayKey:      input.DayKey,
		EventType:   input.EventType,
		Delta:       input.Delta,
		DeviceID:    input.DeviceID,
		OperationID: operationID,
		Sequence:    input.Sequence,
	}

	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "operation_id"}},
		DoNothing: true,
	}).Create(&event)
	if result.Error != nil {
		return nil, "", fmt.Errorf("append progress event: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return &event, OutcomeDuplicate, nil
	}

	return &event, OutcomeApplied, nil
}

// EventsFor 返回某 (habit, day) 的全部事件，按 (sequence, created_at, id) 排序
func (s *LedgerService) EventsFor(habitID uint, dayKey string) ([]db.ProgressEvent, error) {
	if habitID == 0 {
		return nil, fmt.Errorf("%w: habit id is required", ErrInvalidEvent)
	}
	if !IsDayKey(dayKey) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDayKey, dayKey)
	}

	var events []db.ProgressEvent
	if err := s.db.Where("habit_id = ? AND day_key = ?", habitID, dayKey).
		Order("sequence ASC, created_at ASC, id ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list progress events: %w", err)
	}

	return events, nil
}

// Project 回放某 (habit, day) 的事件得到当前进度
// 无事件时返回旧值回退（source=legacy）；否则按序折叠增量（source=ledger）
// set 覆盖累计值，其余类型累加带符号增量；每步之后在零处截断，不设上限
// 同一事件序列的回放结果恒定，可被多个读者并发调用
func (s *LedgerService) Project(habitID uint, dayKey string, legacyFallback int) (Projection, error) {
	events, err := s.EventsFor(habitID, dayKey)
	if err != nil {
		return Projection{}, err
	}

	if len(events) == 0 {
		return Projection{Progress: legacyFallback, Source: SourceLegacy}, nil
	}

	return Projection{Progress: FoldEvents(events), Source: SourceLedger}, nil
}

// FoldEvents 按既定顺序折叠事件序列，是投影的确定性内核
func FoldEvents(events []db.ProgressEvent) int {
	total := 0
	for _, event := range events {
		if event.EventType == db.EventSet {
			total = event.Delta
		} else {
			total += event.Delta
		}
		if total < 0 {
			total = 0
		}
	}
	return total
}

func validateEventInput(input EventInput) error {
	if input.UserID == 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidEvent)
	}
	if input.HabitID == 0 {
		return fmt.Errorf("%w: habit id is required", ErrInvalidEvent)
	}
	if input.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidEvent)
	}
	if !IsDayKey(input.DayKey) {
		return fmt.Errorf("%w: %q", ErrInvalidDayKey, input.DayKey)
	}

	switch input.EventType {
	case db.EventIncrement, db.EventDecrement, db.EventUndo:
	case db.EventSet:
		if input.Delta < 0 {
			return fmt.Errorf("%w: set value must not be negative", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, input.EventType)
	}

	return nil
}

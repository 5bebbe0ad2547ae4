package service

import (
	"errors"
	"fmt"

	"github.com/habitsync/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidGoal 在习惯目标量非法时返回
var ErrInvalidGoal = errors.New("goal amount must be positive")

// CompletionService 负责按 (user, habit, day) 物化完成度缓存
// 每次成功追加事件后同步调用；复合唯一索引保证 upsert 永不产生重复行
type CompletionService struct {
	db     *gorm.DB
	ledger *LedgerService
}

// NewCompletionService 构造 CompletionService
func NewCompletionService(gdb *gorm.DB, ledger *LedgerService) *CompletionService {
	return &CompletionService{db: gdb, ledger: ledger}
}

// ProjectCurrent 返回某 (user, habit, day) 的当前投影，自动读取旧存储作为回退值
func (s *CompletionService) ProjectCurrent(userID, habitID uint, dayKey string) (Projection, error) {
	fallback, err := s.legacyFallback(userID, habitID, dayKey)
	if err != nil {
		return Projection{}, err
	}
	return s.ledger.Project(habitID, dayKey, fallback)
}

// Materialize 投影当前进度并 upsert 完成度缓存记录
func (s *CompletionService) Materialize(userID, habitID uint, dayKey string, goalAmount int) (*db.CompletionRecord, error) {
	if goalAmount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidGoal, goalAmount)
	}

	projection, err := s.ProjectCurrent(userID, habitID, dayKey)
	if err != nil {
		return nil, err
	}

	record := db.CompletionRecord{
		UserID:      userID,
		HabitID:     habitID,
		DayKey:      dayKey,
		Progress:    projection.Progress,
		IsCompleted: projection.Progress >= goalAmount,
		Source:      projection.Source,
	}

	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "habit_id"}, {Name: "day_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"progress", "is_completed", "source", "updated_at"}),
	}).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("upsert completion record: %w", err)
	}

	if err := s.db.Where("user_id = ? AND habit_id = ? AND day_key = ?", userID, habitID, dayKey).
		First(&record).Error; err != nil {
		return nil, fmt.Errorf("reload completion record: %w", err)
	}

	return &record, nil
}

// Record 返回已物化的完成度记录，不存在时返回 nil
func (s *CompletionService) Record(userID, habitID uint, dayKey string) (*db.CompletionRecord, error) {
	var record db.CompletionRecord
	err := s.db.Where("user_id = ? AND habit_id = ? AND day_key = ?", userID, habitID, dayKey).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load completion record: %w", err)
	}
	return &record, nil
}

func (s *CompletionService) legacyFallback(userID, habitID uint, dayKey string) (int, error) {
	var legacy db.LegacyDailyProgress
	err := s.db.Where("user_id = ? AND habit_id = ? AND day_key = ?", userID, habitID, dayKey).
		First(&legacy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read legacy progress: %w", err)
	}
	return legacy.Count, nil
}

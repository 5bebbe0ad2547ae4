package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/habitsync/internal/db"
	"gorm.io/gorm"
)

// ProgressChangeInput 定义一次用户侧进度变更
// DayKey 留空时取用户时区下的今天；OperationID 留空时确定性派生
type ProgressChangeInput struct {
	HabitID     uint
	DayKey      string
	EventType   string
	Delta       int
	DeviceID    string
	OperationID string
	Sequence    int64
}

// ProgressChangeResult 汇总一次进度变更落盘后的可见状态
type ProgressChangeResult struct {
	Outcome AppendOutcome
	Record  *db.CompletionRecord
	Award   *RecheckResult
}

// DayProgress 是某 (habit, day) 的读侧视图
type DayProgress struct {
	HabitID     uint
	DayKey      string
	Progress    int
	Source      string
	GoalAmount  int
	IsCompleted bool
}

// ProgressService 是进度写路径的唯一入口：同一用户的追加、物化、
// 奖励推进与迁移都经由它持有的用户锁串行执行，读路径不加锁
// 各共享表只允许对应组件写入，其余代码一律经此门面
type ProgressService struct {
	db          *gorm.DB
	habits      *HabitService
	ledger      *LedgerService
	completions *CompletionService
	awards      *AwardService
	migrations  *MigrationService
	locks       *userLocks
	defaultZone *time.Location
}

// NewProgressService 构造 ProgressService，与 migrations 共享同一组用户锁
func NewProgressService(gdb *gorm.DB, habits *HabitService, ledger *LedgerService, completions *CompletionService, awards *AwardService, migrations *MigrationService, defaultZone *time.Location) *ProgressService {
	if defaultZone == nil {
		defaultZone = time.Local
	}
	return &ProgressService{
		db:          gdb,
		habits:      habits,
		ledger:      ledger,
		completions: completions,
		awards:      awards,
		migrations:  migrations,
		locks:       migrations.locks,
		defaultZone: defaultZone,
	}
}

// Record 处理一次进度变更：迁移兜底、追加账本、物化缓存、推进奖励状态机
// 重复 OperationID 不产生任何额外效果，仅回读当前状态
func (s *ProgressService) Record(userID uint, input ProgressChangeInput) (*ProgressChangeResult, error) {
	habit, err := s.habits.Get(userID, input.HabitID)
	if err != nil {
		return nil, err
	}

	dayKey := input.DayKey
	if dayKey == "" {
		zone, zoneErr := s.userZone(userID)
		if zoneErr != nil {
			return nil, zoneErr
		}
		dayKey = DayKey(time.Now(), zone)
	}

	unlock := s.locks.acquire(userID)
	defer unlock()

	// 迁移失败降级为继续以旧值服务，不阻塞本次变更
	if err := s.migrations.runIfNeededLocked(userID); err != nil && !errors.Is(err, ErrMigrationFailed) {
		return nil, err
	}

	_, outcome, err := s.ledger.Append(EventInput{
		UserID:      userID,
		HabitID:     habit.ID,
		DayKey:      dayKey,
		EventType:   input.EventType,
		Delta:       input.Delta,
		DeviceID:    input.DeviceID,
		OperationID: input.OperationID,
		Sequence:    input.Sequence,
	})
	if err != nil {
		return nil, err
	}

	result := &ProgressChangeResult{Outcome: outcome}

	if outcome == OutcomeDuplicate {
		record, err := s.completions.Record(userID, habit.ID, dayKey)
		if err != nil {
			return nil, err
		}
		result.Record = record
		return result, nil
	}

	record, err := s.completions.Materialize(userID, habit.ID, dayKey, habit.GoalAmount)
	if err != nil {
		return nil, err
	}
	result.Record = record

	award, err := s.awards.Recheck(userID, dayKey)
	if err != nil {
		return nil, err
	}
	result.Award = award

	return result, nil
}

// Day 返回某 (habit, day) 的当前进度投影（含旧值回退）
func (s *ProgressService) Day(userID, habitID uint, dayKey string) (*DayProgress, error) {
	habit, err := s.habits.Get(userID, habitID)
	if err != nil {
		return nil, err
	}

	projection, err := s.completions.ProjectCurrent(userID, habit.ID, dayKey)
	if err != nil {
		return nil, err
	}

	return &DayProgress{
		HabitID:     habit.ID,
		DayKey:      dayKey,
		Progress:    projection.Progress,
		Source:      projection.Source,
		GoalAmount:  habit.GoalAmount,
		IsCompleted: projection.Progress >= habit.GoalAmount,
	}, nil
}

// RunMigration 显式触发迁移（如后台管理入口），与写路径共享用户锁
func (s *ProgressService) RunMigration(userID uint) error {
	return s.migrations.RunIfNeeded(userID)
}

// Zone 返回用户日键计算所用时区
func (s *ProgressService) Zone(userID uint) (*time.Location, error) {
	return s.userZone(userID)
}

func (s *ProgressService) userZone(userID uint) (*time.Location, error) {
	var user db.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.defaultZone, nil
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if user.Timezone == "" {
		return s.defaultZone, nil
	}

	zone, err := time.LoadLocation(user.Timezone)
	if err != nil {
		// 时区名损坏时退回全局默认，坏数据不应让打卡失败
		return s.defaultZone, nil
	}
	return zone, nil
}

package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/habitsync/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultDailyAwardXP 是单日奖励的默认经验值
const DefaultDailyAwardXP = 50

// levelStep 为每升一级所需经验
const levelStep = 250

// RecheckResult 描述一次奖励状态机推进的结果
type RecheckResult struct {
	DayKey       string
	AllCompleted bool
	AwardGranted bool
	AwardRevoked bool
	XPTotal      int
}

// AwardService 是每日奖励的唯一写入路径
// 状态机：无奖励（Incomplete）↔ 有奖励（Complete），由"当日应完成习惯是否全部完成"驱动
// 授予依赖 (user, day) 唯一约束收敛并发尝试；撤销以删除行数判定，二次删除为空操作
// UserProgress 的经验/等级/连胜只在此处随奖励行增删而更新
type AwardService struct {
	db       *gorm.DB
	xpPerDay int
}

// NewAwardService 构造 AwardService，xpPerDay 非正时取默认值
func NewAwardService(gdb *gorm.DB, xpPerDay int) *AwardService {
	if xpPerDay <= 0 {
		xpPerDay = DefaultDailyAwardXP
	}
	return &AwardService{db: gdb, xpPerDay: xpPerDay}
}

// Recheck 在物化完成后推进 (user, day) 的奖励状态机
// 聚合判定、授予/撤销与经验结算在同一事务内完成
func (s *AwardService) Recheck(userID uint, dayKey string) (*RecheckResult, error) {
	if !IsDayKey(dayKey) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDayKey, dayKey)
	}

	result := &RecheckResult{DayKey: dayKey}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		scheduled, err := scheduledHabitIDs(tx, userID, dayKey)
		if err != nil {
			return err
		}

		// 空集合的一天不授予奖励
		allCompleted := len(scheduled) > 0
		if allCompleted {
			var completed int64
			if err := tx.Model(&db.CompletionRecord{}).
				Where("user_id = ? AND day_key = ? AND is_completed = ? AND habit_id IN ?", userID, dayKey, true, scheduled).
				Count(&completed).Error; err != nil {
				return fmt.Errorf("count completed habits: %w", err)
			}
			allCompleted = completed == int64(len(scheduled))
		}
		result.AllCompleted = allCompleted

		if allCompleted {
			award := db.DailyAward{
				AwardKey:           awardKey(userID, dayKey),
				UserID:             userID,
				DayKey:             dayKey,
				XPGranted:          s.xpPerDay,
				AllHabitsCompleted: true,
			}
			// 唯一约束使并发授予收敛为单一赢家，落败方是空操作而非错误
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&award)
			if res.Error != nil {
				return fmt.Errorf("grant daily award: %w", res.Error)
			}
			result.AwardGranted = res.RowsAffected > 0
		} else {
			res := tx.Where("user_id = ? AND day_key = ?", userID, dayKey).Delete(&db.DailyAward{})
			if res.Error != nil {
				return fmt.Errorf("revoke daily award: %w", res.Error)
			}
			result.AwardRevoked = res.RowsAffected > 0
		}

		if !result.AwardGranted && !result.AwardRevoked {
			// 状态未变化时也回填当前聚合值，便于调用方展示
			var total int
			if err := sumAwardXP(tx, userID, &total); err != nil {
				return err
			}
			result.XPTotal = total
			return nil
		}

		total, err := s.settleUserProgress(tx, userID, dayKey)
		if err != nil {
			return err
		}
		result.XPTotal = total
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetDailyAward 返回某用户某天的奖励行，不存在时返回 nil
func (s *AwardService) GetDailyAward(userID uint, dayKey string) (*db.DailyAward, error) {
	if !IsDayKey(dayKey) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDayKey, dayKey)
	}

	var award db.DailyAward
	err := s.db.Where("user_id = ? AND day_key = ?", userID, dayKey).First(&award).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load daily award: %w", err)
	}
	return &award, nil
}

// GetUserProgress 返回用户经验汇总，尚无记录时返回零值行
func (s *AwardService) GetUserProgress(userID uint) (*db.UserProgress, error) {
	var progress db.UserProgress
	err := s.db.Where("user_id = ?", userID).First(&progress).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &db.UserProgress{UserID: userID, Level: 1}, nil
		}
		return nil, fmt.Errorf("load user progress: %w", err)
	}
	return &progress, nil
}

// settleUserProgress 依据现存奖励行重算经验、等级与连胜并 upsert 汇总行
// 经验总值始终等于奖励行之和，不存在独立的加减路径
func (s *AwardService) settleUserProgress(tx *gorm.DB, userID uint, dayKey string) (int, error) {
	var total int
	if err := sumAwardXP(tx, userID, &total); err != nil {
		return 0, err
	}

	var dayKeys []string
	if err := tx.Model(&db.DailyAward{}).
		Where("user_id = ?", userID).
		Order("day_key ASC").
		Pluck("day_key", &dayKeys).Error; err != nil {
		return 0, fmt.Errorf("list award days: %w", err)
	}

	current, longest := awardStreaks(dayKeys)

	dayXP := 0
	for _, key := range dayKeys {
		if key == dayKey {
			dayXP = s.xpPerDay
			break
		}
	}

	progress := db.UserProgress{
		UserID:        userID,
		XPTotal:       total,
		Level:         total/levelStep + 1,
		CurrentDayKey: dayKey,
		CurrentDayXP:  dayXP,
		CurrentStreak: current,
		LongestStreak: longest,
	}

	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"xp_total", "level", "current_day_key", "current_day_xp",
			"current_streak", "longest_streak", "updated_at",
		}),
	}).Create(&progress).Error; err != nil {
		return 0, fmt.Errorf("upsert user progress: %w", err)
	}

	return total, nil
}

func sumAwardXP(tx *gorm.DB, userID uint, total *int) error {
	if err := tx.Model(&db.DailyAward{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(xp_granted), 0)").
		Scan(total).Error; err != nil {
		return fmt.Errorf("sum award xp: %w", err)
	}
	return nil
}

// scheduledHabitIDs 返回该日应完成的习惯集合：
// 活跃的 daily 习惯且有效期覆盖该日；weekly/monthly 习惯不参与单日奖励判定
func scheduledHabitIDs(tx *gorm.DB, userID uint, dayKey string) ([]uint, error) {
	var habits []db.Habit
	if err := tx.Where("user_id = ? AND status = ? AND frequency_unit = ?", userID, "active", "daily").
		Find(&habits).Error; err != nil {
		return nil, fmt.Errorf("list scheduled habits: %w", err)
	}

	ids := make([]uint, 0, len(habits))
	for _, habit := range habits {
		if habit.StartDate != nil && DayKey(*habit.StartDate, habit.StartDate.Location()) > dayKey {
			continue
		}
		if habit.EndDate != nil && DayKey(*habit.EndDate, habit.EndDate.Location()) < dayKey {
			continue
		}
		ids = append(ids, habit.ID)
	}
	return ids, nil
}

func awardKey(userID uint, dayKey string) string {
	return fmt.Sprintf("%d#%s", userID, dayKey)
}

// awardStreaks 在升序日键序列上折叠出当前连胜与最长连胜
// 当前连胜指以最近一个奖励日结尾的连续区段
func awardStreaks(dayKeys []string) (current, longest int) {
	if len(dayKeys) == 0 {
		return 0, 0
	}

	longest = 1
	current = 1

	prev, err := ParseDayKey(dayKeys[0], time.UTC)
	if err != nil {
		return 0, 0
	}

	for i := 1; i < len(dayKeys); i++ {
		day, err := ParseDayKey(dayKeys[i], time.UTC)
		if err != nil {
			continue
		}
		delta := int(day.Sub(prev).Hours() / 24)
		if delta == 1 {
			current++
			if current > longest {
				longest = current
			}
		} else {
			current = 1
		}
		prev = day
	}

	return current, longest
}

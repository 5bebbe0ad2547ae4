package service

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/habitsync/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ledgerMigrationVersion 为扁平存储 → 事件账本迁移的目标版本，状态版本单调不减
const ledgerMigrationVersion = 1

// migrationDeviceID 标记迁移合成事件的来源设备
const migrationDeviceID = "migration"

// migrationSequence 使合成的 set 基线排在所有用户事件之前
// 用户事件的默认序号为 0，若基线与之同序，迁移重试会把已追加的用户增量折叠掉
const migrationSequence int64 = -1

// ErrMigrationFailed 包装迁移执行期的底层错误；状态落为 failed，可经 RunIfNeeded 安全重试
var ErrMigrationFailed = errors.New("migration failed")

// MigrationOptions 是构造期显式传入的迁移开关，运行期不可变
type MigrationOptions struct {
	EnableAutoMigration bool
	ForceMigration      bool
}

// MigrationService 将迁移前的扁平单日进度一次性转换为账本事件与物化记录
// 惰性触发：首次数据访问时执行；completed 且版本追平后直接短路
// 不设检查点游标——每条写入自身幂等（确定性 OperationID + upsert），
// 中断或重入只会跳过已完成的记录，不会产生重复
type MigrationService struct {
	db          *gorm.DB
	ledger      *LedgerService
	completions *CompletionService
	awards      *AwardService
	opts        MigrationOptions
	locks       *userLocks
}

// NewMigrationService 构造 MigrationService
// 迁移与写路径共享同一组用户锁（见 NewProgressService），同一用户始终串行
func NewMigrationService(gdb *gorm.DB, ledger *LedgerService, completions *CompletionService, awards *AwardService, opts MigrationOptions) *MigrationService {
	locks := newUserLocks()
	return &MigrationService{
		db:          gdb,
		ledger:      ledger,
		completions: completions,
		awards:      awards,
		opts:        opts,
		locks:       locks,
	}
}

// MigrationOperationID 为迁移合成事件派生确定性操作标识
// 重复扫描同一旧记录得到同一 ID，由账本的重复检查吸收重入
func MigrationOperationID(userID, habitID uint, dayKey string) string {
	name := fmt.Sprintf("%d|%d|%s|%s", userID, habitID, dayKey, migrationDeviceID)
	return uuid.NewSHA1(operationNamespace, []byte(name)).String()
}

// RunIfNeeded 在需要时为用户执行迁移；并发调用按用户键串行
func (s *MigrationService) RunIfNeeded(userID uint) error {
	unlock := s.locks.acquire(userID)
	defer unlock()
	return s.runIfNeededLocked(userID)
}

// State 返回用户当前的迁移状态，尚无记录时返回 not_started
func (s *MigrationService) State(userID uint) (*db.MigrationState, error) {
	var state db.MigrationState
	err := s.db.Where("user_id = ?", userID).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &db.MigrationState{UserID: userID, Status: db.MigrationNotStarted}, nil
		}
		return nil, fmt.Errorf("load migration state: %w", err)
	}
	return &state, nil
}

// runIfNeededLocked 是已持有用户锁时的入口，写路径复用以避免重复加锁
func (s *MigrationService) runIfNeededLocked(userID uint) error {
	if userID == 0 {
		return fmt.Errorf("%w: user id is required", ErrMigrationFailed)
	}
	if !s.opts.EnableAutoMigration && !s.opts.ForceMigration {
		return nil
	}

	state, err := s.State(userID)
	if err != nil {
		return err
	}

	if state.Status == db.MigrationCompleted && state.Version >= ledgerMigrationVersion && !s.opts.ForceMigration {
		return nil
	}

	now := time.Now()
	state.Status = db.MigrationInProgress
	state.StartedAt = &now
	state.LastError = ""
	if err := s.saveState(state); err != nil {
		return err
	}

	migrated, runErr := s.migrate(userID)
	if runErr != nil {
		state.Status = db.MigrationFailed
		state.LastError = runErr.Error()
		if saveErr := s.saveState(state); saveErr != nil {
			return saveErr
		}
		return fmt.Errorf("%w: user %d: %v", ErrMigrationFailed, userID, runErr)
	}

	done := time.Now()
	state.Status = db.MigrationCompleted
	state.Version = ledgerMigrationVersion
	state.MigratedRecordCount = migrated
	state.CompletedAt = &done
	return s.saveState(state)
}

// migrate 扫描旧存储并逐条合成账本事件、物化记录，最后重算受影响各日的奖励
func (s *MigrationService) migrate(userID uint) (int, error) {
	var legacyRows []db.LegacyDailyProgress
	if err := s.db.Where("user_id = ?", userID).
		Order("habit_id ASC, day_key ASC").
		Find(&legacyRows).Error; err != nil {
		return 0, fmt.Errorf("enumerate legacy progress: %w", err)
	}

	var habits []db.Habit
	if err := s.db.Where("user_id = ?", userID).Find(&habits).Error; err != nil {
		return 0, fmt.Errorf("list habits: %w", err)
	}
	goals := make(map[uint]int, len(habits))
	for _, habit := range habits {
		goals[habit.ID] = habit.GoalAmount
	}

	migrated := 0
	affectedDays := make(map[string]struct{})

	for _, row := range legacyRows {
		goal, ok := goals[row.HabitID]
		if !ok {
			// 旧存储中可能残留已删除习惯的计数，跳过孤儿记录
			continue
		}

		_, outcome, err := s.ledger.Append(EventInput{
			UserID:      row.UserID,
			HabitID:     row.HabitID,
			DayKey:      row.DayKey,
			EventType:   db.EventSet,
			Delta:       row.Count,
			Sequence:    migrationSequence,
			DeviceID:    migrationDeviceID,
			OperationID: MigrationOperationID(row.UserID, row.HabitID, row.DayKey),
		})
		if err != nil {
			return migrated, err
		}

		if _, err := s.completions.Materialize(row.UserID, row.HabitID, row.DayKey, goal); err != nil {
			return migrated, err
		}

		affectedDays[row.DayKey] = struct{}{}
		if outcome == OutcomeApplied {
			migrated++
		}
	}

	days := make([]string, 0, len(affectedDays))
	for day := range affectedDays {
		days = append(days, day)
	}
	sort.Strings(days)

	for _, day := range days {
		if _, err := s.awards.Recheck(userID, day); err != nil {
			return migrated, err
		}
	}

	return migrated, nil
}

func (s *MigrationService) saveState(state *db.MigrationState) error {
	// 主键清零让冲突落在 user_id 唯一索引上，新旧用户走同一条 upsert 路径
	row := *state
	row.ID = 0

	if err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"version", "status", "migrated_record_count",
			"started_at", "completed_at", "last_error", "updated_at",
		}),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("save migration state: %w", err)
	}

	if err := s.db.Where("user_id = ?", state.UserID).First(state).Error; err != nil {
		return fmt.Errorf("reload migration state: %w", err)
	}
	return nil
}

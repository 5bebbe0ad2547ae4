package service

import (
	"sync"
	"testing"
	"time"

	"github.com/habitsync/internal/db"
)

func newProgressStack(t *testing.T, opts MigrationOptions) (*HabitService, *ProgressService) {
	t.Helper()
	habits := NewHabitService(db.DB)
	ledger := NewLedgerService(db.DB)
	completions := NewCompletionService(db.DB, ledger)
	awards := NewAwardService(db.DB, 0)
	migrations := NewMigrationService(db.DB, ledger, completions, awards, opts)
	progress := NewProgressService(db.DB, habits, ledger, completions, awards, migrations, time.UTC)
	return habits, progress
}

func TestRecordProgressLifecycle(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	habits, progress := newProgressStack(t, MigrationOptions{EnableAutoMigration: true})

	user := createTestUser(t, "alice", "UTC")
	habit := createTestHabit(t, habits, user.ID, "阅读", 3)
	day := "2025-03-31"

	var last *ProgressChangeResult
	for seq := int64(1); seq <= 3; seq++ {
		result, err := progress.Record(user.ID, ProgressChangeInput{
			HabitID:   habit.ID,
			DayKey:    day,
			EventType: db.EventIncrement,
			Delta:     1,
			DeviceID:  "phone",
			Sequence:  seq,
		})
		if err != nil {
			t.Fatalf("Record seq %d returned error: %v", seq, err)
		}
		if result.Outcome != OutcomeApplied {
			t.Fatalf("expected seq %d to be applied, got %q", seq, result.Outcome)
		}
		last = result
	}

	if last.Record == nil || last.Record.Progress != 3 || !last.Record.IsCompleted {
		t.Fatalf("expected completed record at progress 3, got %+v", last.Record)
	}
	if last.Award == nil || !last.Award.AwardGranted || last.Award.XPTotal != DefaultDailyAwardXP {
		t.Fatalf("expected award on completion, got %+v", last.Award)
	}

	// 同坐标重放：既不追加事件也不再次推进奖励
	replay, err := progress.Record(user.ID, ProgressChangeInput{
		HabitID:   habit.ID,
		DayKey:    day,
		EventType: db.EventIncrement,
		Delta:     1,
		DeviceID:  "phone",
		Sequence:  3,
	})
	if err != nil {
		t.Fatalf("Record replay returned error: %v", err)
	}
	if replay.Outcome != OutcomeDuplicate {
		t.Fatalf("expected replay to be duplicate, got %q", replay.Outcome)
	}
	if replay.Record == nil || replay.Record.Progress != 3 {
		t.Fatalf("expected replay to read back progress 3, got %+v", replay.Record)
	}
	if replay.Award != nil {
		t.Fatalf("expected no award recheck on duplicate, got %+v", replay.Award)
	}

	var awardCount int64
	if err := db.DB.Model(&db.DailyAward{}).Where("user_id = ?", user.ID).Count(&awardCount).Error; err != nil {
		t.Fatalf("failed to count awards: %v", err)
	}
	if awardCount != 1 {
		t.Fatalf("expected exactly 1 award, got %d", awardCount)
	}

	view, err := progress.Day(user.ID, habit.ID, day)
	if err != nil {
		t.Fatalf("Day returned error: %v", err)
	}
	if view.Progress != 3 || !view.IsCompleted || view.Source != SourceLedger {
		t.Fatalf("unexpected day view: %+v", view)
	}
}

func TestRecordUndoRevokesAward(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	habits, progress := newProgressStack(t, MigrationOptions{EnableAutoMigration: true})

	user := createTestUser(t, "alice", "UTC")
	habit := createTestHabit(t, habits, user.ID, "晨跑", 1)
	day := "2025-03-31"

	result, err := progress.Record(user.ID, ProgressChangeInput{
		HabitID:   habit.ID,
		DayKey:    day,
		EventType: db.EventIncrement,
		Delta:     1,
		DeviceID:  "phone",
		Sequence:  1,
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if result.Award == nil || !result.Award.AwardGranted {
		t.Fatalf("expected award after completing the only habit, got %+v", result.Award)
	}

	result, err = progress.Record(user.ID, ProgressChangeInput{
		HabitID:   habit.ID,
		DayKey:    day,
		EventType: db.EventUndo,
		Delta:     -1,
		DeviceID:  "phone",
		Sequence:  2,
	})
	if err != nil {
		t.Fatalf("Record undo returned error: %v", err)
	}
	if result.Record.Progress != 0 || result.Record.IsCompleted {
		t.Fatalf("expected undo to reset progress, got %+v", result.Record)
	}
	if result.Award == nil || !result.Award.AwardRevoked || result.Award.XPTotal != 0 {
		t.Fatalf("expected award revocation, got %+v", result.Award)
	}
}

func TestConcurrentCompletionGrantsSingleAward(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	habits, progress := newProgressStack(t, MigrationOptions{EnableAutoMigration: true})

	user := createTestUser(t, "alice", "UTC")
	done := createTestHabit(t, habits, user.ID, "阅读", 1)
	final := createTestHabit(t, habits, user.ID, "晨跑", 1)
	day := "2025-03-31"

	if _, err := progress.Record(user.ID, ProgressChangeInput{
		HabitID:   done.ID,
		DayKey:    day,
		EventType: db.EventIncrement,
		Delta:     1,
		DeviceID:  "phone",
		Sequence:  1,
	}); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	// 两台设备同时为最后一个习惯补完进度
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, device := range []string{"phone", "tablet"} {
		wg.Add(1)
		go func(device string) {
			defer wg.Done()
			_, err := progress.Record(user.ID, ProgressChangeInput{
				HabitID:   final.ID,
				DayKey:    day,
				EventType: db.EventIncrement,
				Delta:     1,
				DeviceID:  device,
				Sequence:  1,
			})
			errs <- err
		}(device)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Record returned error: %v", err)
		}
	}

	var awardCount int64
	if err := db.DB.Model(&db.DailyAward{}).Where("user_id = ? AND day_key = ?", user.ID, day).Count(&awardCount).Error; err != nil {
		t.Fatalf("failed to count awards: %v", err)
	}
	if awardCount != 1 {
		t.Fatalf("expected exactly 1 award after concurrent completion, got %d", awardCount)
	}

	userProgress, err := NewAwardService(db.DB, 0).GetUserProgress(user.ID)
	if err != nil {
		t.Fatalf("GetUserProgress returned error: %v", err)
	}
	if userProgress.XPTotal != DefaultDailyAwardXP {
		t.Fatalf("expected xp granted exactly once, got %d", userProgress.XPTotal)
	}
}

func TestRecordTriggersLazyMigration(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	habits, progress := newProgressStack(t, MigrationOptions{EnableAutoMigration: true})

	user := createTestUser(t, "alice", "UTC")
	habit := createTestHabit(t, habits, user.ID, "阅读", 2)
	day := "2025-03-31"
	seedLegacyProgress(t, user.ID, habit.ID, day, 1)

	// 首次写入先完成迁移，再叠加本次增量
	result, err := progress.Record(user.ID, ProgressChangeInput{
		HabitID:   habit.ID,
		DayKey:    day,
		EventType: db.EventIncrement,
		Delta:     1,
		DeviceID:  "phone",
		Sequence:  1,
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if result.Record.Progress != 2 || !result.Record.IsCompleted {
		t.Fatalf("expected migrated value plus increment to complete the goal, got %+v", result.Record)
	}
	if result.Record.Source != SourceLedger {
		t.Fatalf("expected ledger-backed record, got %+v", result.Record)
	}

	state, err := progress.migrations.State(user.ID)
	if err != nil {
		t.Fatalf("State returned error: %v", err)
	}
	if state.Status != db.MigrationCompleted {
		t.Fatalf("expected lazy migration to complete, got %q", state.Status)
	}
}

func TestDayServesLegacyValuesBeforeMigration(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	habits, progress := newProgressStack(t, MigrationOptions{})

	user := createTestUser(t, "alice", "UTC")
	habit := createTestHabit(t, habits, user.ID, "阅读", 3)
	seedLegacyProgress(t, user.ID, habit.ID, "2025-03-31", 2)

	view, err := progress.Day(user.ID, habit.ID, "2025-03-31")
	if err != nil {
		t.Fatalf("Day returned error: %v", err)
	}
	if view.Progress != 2 || view.Source != SourceLegacy || view.IsCompleted {
		t.Fatalf("expected legacy-backed view {2 legacy incomplete}, got %+v", view)
	}
}

func TestRecordRejectsForeignHabit(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	habits, progress := newProgressStack(t, MigrationOptions{EnableAutoMigration: true})

	owner := createTestUser(t, "alice", "UTC")
	stranger := createTestUser(t, "bob", "UTC")
	habit := createTestHabit(t, habits, owner.ID, "阅读", 1)

	if _, err := progress.Record(stranger.ID, ProgressChangeInput{
		HabitID:   habit.ID,
		DayKey:    "2025-03-31",
		EventType: db.EventIncrement,
		Delta:     1,
		DeviceID:  "phone",
		Sequence:  1,
	}); err == nil {
		t.Fatal("expected recording against a foreign habit to fail")
	}
}

func TestUserZoneFallsBackToDefault(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	_, progress := newProgressStack(t, MigrationOptions{})

	user := createTestUser(t, "alice", "Not/AZone")

	zone, err := progress.Zone(user.ID)
	if err != nil {
		t.Fatalf("Zone returned error: %v", err)
	}
	if zone != time.UTC {
		t.Fatalf("expected broken timezone to fall back to the default, got %v", zone)
	}

	tokyoUser := createTestUser(t, "bob", "Asia/Tokyo")
	zone, err = progress.Zone(tokyoUser.ID)
	if err != nil {
		t.Fatalf("Zone returned error: %v", err)
	}
	if zone.String() != "Asia/Tokyo" {
		t.Fatalf("expected configured timezone, got %v", zone)
	}
}

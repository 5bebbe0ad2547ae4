package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/habitsync/internal/db"
	"gorm.io/gorm"
)

// IdentityProvider yields the identifier of the currently signed-in user.
// The core never authenticates by itself; the HTTP layer supplies a
// session-backed implementation.
type IdentityProvider interface {
	CurrentUserID() (uint, error)
}

// RemoteRecord is a schemaless document held by the remote store.
type RemoteRecord struct {
	ID     string
	Type   string
	Fields map[string]any
}

// RemoteStore is the key-value document service used by the best-effort sync
// path. It sits outside the core invariants: a lost or failed sync degrades
// to local state and nothing more.
type RemoteStore interface {
	Save(record RemoteRecord) error
	Query(recordType string, predicate map[string]any) ([]RemoteRecord, error)
	Delete(ids []string) error
}

const remoteHabitType = "habit"

// SyncService pulls habit snapshots captured on other devices, merges them
// through the conflict resolver and writes the merged state back on both
// sides. Progress merges flow through the progress facade so the ledger
// remains the only write path for progress state.
type SyncService struct {
	db       *gorm.DB
	resolver *ConflictResolver
	store    RemoteStore
	progress *ProgressService
}

// NewSyncService wires the sync path; store may be nil when no remote
// backend is configured, in which case Sync is a no-op.
func NewSyncService(gdb *gorm.DB, resolver *ConflictResolver, store RemoteStore, progress *ProgressService) *SyncService {
	return &SyncService{db: gdb, resolver: resolver, store: store, progress: progress}
}

// Enabled reports whether a remote store is configured.
func (s *SyncService) Enabled() bool {
	return s != nil && s.store != nil
}

// Sync merges all remote habit snapshots for the current user and returns
// the number of habits that changed locally.
func (s *SyncService) Sync(identity IdentityProvider) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}

	userID, err := identity.CurrentUserID()
	if err != nil {
		return 0, fmt.Errorf("resolve current user: %w", err)
	}

	records, err := s.store.Query(remoteHabitType, map[string]any{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("query remote habits: %w", err)
	}

	merged := 0
	for _, record := range records {
		remote, ok := snapshotFromRecord(record)
		if !ok {
			continue
		}

		changed, err := s.mergeOne(userID, remote)
		if err != nil {
			return merged, err
		}
		if changed {
			merged++
		}
	}

	return merged, nil
}

func (s *SyncService) mergeOne(userID uint, remote HabitSnapshot) (bool, error) {
	var habit db.Habit
	err := s.db.Where("user_id = ?", userID).First(&habit, remote.HabitID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Habit unknown locally; creation is handled by the catalogue
			// sync above this layer, not by field merging.
			return false, nil
		}
		return false, fmt.Errorf("load habit for merge: %w", err)
	}

	dayKey := remote.DayKey
	if dayKey == "" || !IsDayKey(dayKey) {
		zone, zoneErr := s.progress.Zone(userID)
		if zoneErr != nil {
			return false, zoneErr
		}
		dayKey = DayKey(time.Now(), zone)
	}

	local, err := s.localSnapshot(userID, habit, dayKey)
	if err != nil {
		return false, err
	}

	result := s.resolver.Resolve(local, remote)

	changed := s.applyHabitFields(&habit, result)
	if changed {
		if err := s.db.Save(&habit).Error; err != nil {
			return false, fmt.Errorf("save merged habit: %w", err)
		}
	}

	// A higher remote progress value becomes a set event with a
	// deterministic id: replaying the same merge stays idempotent.
	// The set sequences after everything already in the ledger so the
	// merged value is the one the fold ends on.
	if result.Progress > local.Progress {
		var maxSeq int64
		if err := s.db.Model(&db.ProgressEvent{}).
			Where("habit_id = ? AND day_key = ?", habit.ID, dayKey).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&maxSeq).Error; err != nil {
			return changed, fmt.Errorf("read ledger sequence: %w", err)
		}

		opID := DeterministicOperationID(userID, habit.ID, dayKey, "sync", int64(result.Progress))
		if _, err := s.progress.Record(userID, ProgressChangeInput{
			HabitID:     habit.ID,
			DayKey:      dayKey,
			EventType:   db.EventSet,
			Delta:       result.Progress,
			DeviceID:    "sync",
			OperationID: opID,
			Sequence:    maxSeq + 1,
		}); err != nil {
			return changed, err
		}
		changed = true
	}

	if err := s.store.Save(recordFromSnapshot(userID, result)); err != nil {
		// Push-back is best effort; local state is already consistent.
		return changed, nil
	}

	return changed, nil
}

func (s *SyncService) localSnapshot(userID uint, habit db.Habit, dayKey string) (HabitSnapshot, error) {
	projection, err := s.progress.completions.ProjectCurrent(userID, habit.ID, dayKey)
	if err != nil {
		return HabitSnapshot{}, err
	}

	return HabitSnapshot{
		HabitID:        habit.ID,
		Name:           habit.Name,
		Description:    habit.Description,
		Icon:           habit.Icon,
		FrequencyUnit:  habit.FrequencyUnit,
		FrequencyCount: habit.FrequencyCount,
		GoalAmount:     habit.GoalAmount,
		DayKey:         dayKey,
		Progress:       projection.Progress,
		Archived:       habit.Status == "archived",
		Completed:      projection.Progress >= habit.GoalAmount,
		UpdatedAt:      habit.UpdatedAt,
	}, nil
}

func (s *SyncService) applyHabitFields(habit *db.Habit, merged HabitSnapshot) bool {
	changed := false

	if habit.Name != merged.Name {
		habit.Name = merged.Name
		changed = true
	}
	if habit.Description != merged.Description {
		habit.Description = merged.Description
		changed = true
	}
	if habit.Icon != merged.Icon {
		habit.Icon = merged.Icon
		changed = true
	}
	if habit.FrequencyUnit != merged.FrequencyUnit {
		habit.FrequencyUnit = merged.FrequencyUnit
		changed = true
	}
	if habit.FrequencyCount != merged.FrequencyCount {
		habit.FrequencyCount = merged.FrequencyCount
		changed = true
	}
	if habit.GoalAmount != merged.GoalAmount {
		habit.GoalAmount = merged.GoalAmount
		changed = true
	}

	status := "active"
	if merged.Archived {
		status = "archived"
	}
	if habit.Status != status {
		habit.Status = status
		changed = true
	}

	return changed
}

func snapshotFromRecord(record RemoteRecord) (HabitSnapshot, bool) {
	habitID, ok := asUint(record.Fields["habit_id"])
	if !ok || habitID == 0 {
		return HabitSnapshot{}, false
	}

	snapshot := HabitSnapshot{HabitID: habitID}
	snapshot.Name, _ = record.Fields["name"].(string)
	snapshot.Description, _ = record.Fields["description"].(string)
	snapshot.Icon, _ = record.Fields["icon"].(string)
	snapshot.FrequencyUnit, _ = record.Fields["frequency_unit"].(string)
	snapshot.DayKey, _ = record.Fields["day_key"].(string)
	snapshot.Archived, _ = record.Fields["archived"].(bool)
	snapshot.Completed, _ = record.Fields["completed"].(bool)

	if v, ok := asInt(record.Fields["frequency_count"]); ok {
		snapshot.FrequencyCount = v
	}
	if v, ok := asInt(record.Fields["goal_amount"]); ok {
		snapshot.GoalAmount = v
	}
	if v, ok := asInt(record.Fields["progress"]); ok {
		snapshot.Progress = v
	}
	if v, ok := record.Fields["updated_at"].(time.Time); ok {
		snapshot.UpdatedAt = v
	}

	return snapshot, true
}

func recordFromSnapshot(userID uint, snapshot HabitSnapshot) RemoteRecord {
	return RemoteRecord{
		ID:   fmt.Sprintf("habit/%d/%d", userID, snapshot.HabitID),
		Type: remoteHabitType,
		Fields: map[string]any{
			"user_id":         userID,
			"habit_id":        snapshot.HabitID,
			"name":            snapshot.Name,
			"description":     snapshot.Description,
			"icon":            snapshot.Icon,
			"frequency_unit":  snapshot.FrequencyUnit,
			"frequency_count": snapshot.FrequencyCount,
			"goal_amount":     snapshot.GoalAmount,
			"day_key":         snapshot.DayKey,
			"progress":        snapshot.Progress,
			"archived":        snapshot.Archived,
			"completed":       snapshot.Completed,
			"updated_at":      snapshot.UpdatedAt,
		},
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case uint:
		return int(n), true
	default:
		return 0, false
	}
}

func asUint(v any) (uint, bool) {
	n, ok := asInt(v)
	if !ok || n < 0 {
		return 0, false
	}
	return uint(n), true
}

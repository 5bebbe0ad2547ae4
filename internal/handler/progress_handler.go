package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitsync/internal/db"
	"github.com/habitsync/internal/service"
)

type progressChangePayload struct {
	DayKey      string `json:"day_key"`
	EventType   string `json:"event_type"`
	Delta       int    `json:"delta"`
	DeviceID    string `json:"device_id"`
	OperationID string `json:"operation_id"`
	Sequence    int64  `json:"sequence"`
}

// RecordProgress 处理一次进度变更：追加账本事件并返回落盘后的完成度与奖励状态
func (a *API) RecordProgress(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}

	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	var payload progressChangePayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}
	if payload.EventType == "" {
		payload.EventType = db.EventIncrement
	}
	if payload.EventType == db.EventIncrement && payload.Delta == 0 {
		payload.Delta = 1
	}

	result, err := a.progress.Record(userID, service.ProgressChangeInput{
		HabitID:     habitID,
		DayKey:      payload.DayKey,
		EventType:   payload.EventType,
		Delta:       payload.Delta,
		DeviceID:    payload.DeviceID,
		OperationID: payload.OperationID,
		Sequence:    payload.Sequence,
	})
	if err != nil {
		handleProgressError(c, err)
		return
	}

	response := gin.H{"outcome": string(result.Outcome)}
	if result.Record != nil {
		response["record"] = completionToPayload(*result.Record)
	}
	if result.Award != nil {
		response["award"] = gin.H{
			"day_key":       result.Award.DayKey,
			"all_completed": result.Award.AllCompleted,
			"granted":       result.Award.AwardGranted,
			"revoked":       result.Award.AwardRevoked,
			"xp_total":      result.Award.XPTotal,
		}
	}

	c.JSON(http.StatusOK, response)
}

// GetDayProgress 返回某习惯指定日期的进度投影
func (a *API) GetDayProgress(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}

	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	dayKey := c.Query("date")
	if dayKey == "" {
		dayKey = service.DayKey(time.Now(), a.defaultZone)
	}

	progress, err := a.progress.Day(userID, habitID, dayKey)
	if err != nil {
		handleProgressError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"habit_id":     progress.HabitID,
		"day_key":      progress.DayKey,
		"progress":     progress.Progress,
		"source":       progress.Source,
		"goal_amount":  progress.GoalAmount,
		"is_completed": progress.IsCompleted,
	})
}

// GetUserProgress 返回当前用户的经验汇总
func (a *API) GetUserProgress(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}

	progress, err := a.awards.GetUserProgress(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取用户进度失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":        progress.UserID,
		"xp_total":       progress.XPTotal,
		"level":          progress.Level,
		"current_streak": progress.CurrentStreak,
		"longest_streak": progress.LongestStreak,
	})
}

// GetDailyAward 返回指定日期的每日奖励，不存在时 award 为 null
func (a *API) GetDailyAward(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}

	dayKey := c.Param("date")
	award, err := a.awards.GetDailyAward(userID, dayKey)
	if err != nil {
		handleProgressError(c, err)
		return
	}

	if award == nil {
		c.JSON(http.StatusOK, gin.H{"award": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"award": gin.H{
		"day_key":              award.DayKey,
		"xp_granted":           award.XPGranted,
		"all_habits_completed": award.AllHabitsCompleted,
		"created_at":           award.CreatedAt.Format(time.RFC3339),
	}})
}

// RunMigration 显式触发当前用户的账本迁移
func (a *API) RunMigration(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}

	if err := a.progress.RunMigration(userID); err != nil {
		if errors.Is(err, service.ErrMigrationFailed) {
			respondError(c, http.StatusInternalServerError, "迁移失败，可稍后重试")
			return
		}
		respondError(c, http.StatusInternalServerError, "操作失败")
		return
	}

	state, err := a.migrations.State(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取迁移状态失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"migration": migrationToPayload(state)})
}

// GetMigrationState 返回当前用户的迁移状态
func (a *API) GetMigrationState(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}

	state, err := a.migrations.State(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取迁移状态失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"migration": migrationToPayload(state)})
}

// GetMergeRules 返回冲突合并规则清单及校验警告，供审计使用
func (a *API) GetMergeRules(c *gin.Context) {
	warnings := a.resolver.ValidateRules()
	if warnings == nil {
		warnings = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"rules":    a.resolver.RulesSummary(),
		"warnings": warnings,
	})
}

// SyncNow 触发一次尽力而为的设备同步；未配置远端存储时直接返回
func (a *API) SyncNow(c *gin.Context) {
	if !a.sync.Enabled() {
		c.JSON(http.StatusOK, gin.H{"synced": 0, "enabled": false})
		return
	}

	merged, err := a.sync.Sync(sessionIdentity{c: c})
	if err != nil {
		respondError(c, http.StatusBadGateway, "同步失败，本地数据不受影响")
		return
	}

	c.JSON(http.StatusOK, gin.H{"synced": merged, "enabled": true})
}

func completionToPayload(record db.CompletionRecord) gin.H {
	return gin.H{
		"habit_id":     record.HabitID,
		"day_key":      record.DayKey,
		"progress":     record.Progress,
		"is_completed": record.IsCompleted,
		"source":       record.Source,
	}
}

func migrationToPayload(state *db.MigrationState) gin.H {
	return gin.H{
		"status":                state.Status,
		"version":               state.Version,
		"migrated_record_count": state.MigratedRecordCount,
		"last_error":            state.LastError,
	}
}

func handleProgressError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrHabitNotFound):
		respondError(c, http.StatusNotFound, "习惯不存在")
	case errors.Is(err, service.ErrInvalidDayKey):
		respondError(c, http.StatusBadRequest, "无效的日期")
	case errors.Is(err, service.ErrInvalidEvent):
		respondError(c, http.StatusBadRequest, "无效的进度事件")
	case errors.Is(err, service.ErrInvalidGoal):
		respondError(c, http.StatusBadRequest, "目标量配置无效")
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}

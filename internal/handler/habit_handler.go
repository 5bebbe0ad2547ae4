package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitsync/internal/db"
	"github.com/habitsync/internal/service"
)

const dateFormat = "2006-01-02"

type habitPayload struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Icon           string `json:"icon"`
	FrequencyUnit  string `json:"frequency_unit"`
	FrequencyCount int    `json:"frequency_count"`
	GoalAmount     int    `json:"goal_amount"`
	Status         string `json:"status"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
}

// ListHabits 返回当前用户的习惯列表 JSON
func (a *API) ListHabits(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}

	filter := service.HabitFilter{
		Status: c.Query("status"),
		Search: c.Query("search"),
	}

	habits, err := a.habits.List(userID, filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取习惯列表失败")
		return
	}

	items := make([]gin.H, 0, len(habits))
	for _, habit := range habits {
		items = append(items, habitToPayload(habit))
	}

	c.JSON(http.StatusOK, gin.H{"habits": items})
}

// GetHabit 返回单个习惯详情
func (a *API) GetHabit(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	habit, err := a.habits.Get(userID, id)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// CreateHabit 创建习惯
func (a *API) CreateHabit(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}

	input, ok := parseHabitInput(c)
	if !ok {
		return
	}

	habit, err := a.habits.Create(userID, input)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// UpdateHabit 更新习惯
func (a *API) UpdateHabit(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	input, ok := parseHabitInput(c)
	if !ok {
		return
	}

	habit, err := a.habits.Update(userID, id, input)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// ArchiveHabit 归档习惯，使其退出每日奖励判定
func (a *API) ArchiveHabit(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	habit, err := a.habits.Archive(userID, id)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// DeleteHabit 删除习惯
func (a *API) DeleteHabit(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "请先登录")
		return
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	if err := a.habits.Delete(userID, id); err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func parseHabitInput(c *gin.Context) (service.HabitInput, bool) {
	var payload habitPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return service.HabitInput{}, false
	}

	startPtr, ok := parseOptionalDate(payload.StartDate)
	if !ok {
		respondError(c, http.StatusBadRequest, "无效的开始日期")
		return service.HabitInput{}, false
	}
	endPtr, ok := parseOptionalDate(payload.EndDate)
	if !ok {
		respondError(c, http.StatusBadRequest, "无效的结束日期")
		return service.HabitInput{}, false
	}

	return service.HabitInput{
		Name:           payload.Name,
		Description:    payload.Description,
		Icon:           payload.Icon,
		FrequencyUnit:  payload.FrequencyUnit,
		FrequencyCount: payload.FrequencyCount,
		GoalAmount:     payload.GoalAmount,
		Status:         payload.Status,
		StartDate:      startPtr,
		EndDate:        endPtr,
	}, true
}

func parseOptionalDate(value string) (*time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, true
	}

	t, err := time.ParseInLocation(dateFormat, value, time.Local)
	if err != nil {
		return nil, false
	}

	return &t, true
}

func habitToPayload(habit db.Habit) gin.H {
	item := gin.H{
		"id":              habit.ID,
		"name":            habit.Name,
		"description":     habit.Description,
		"icon":            habit.Icon,
		"frequency_unit":  habit.FrequencyUnit,
		"frequency_count": habit.FrequencyCount,
		"goal_amount":     habit.GoalAmount,
		"status":          habit.Status,
	}

	if habit.Description != "" {
		if rendered, err := renderMarkdown(habit.Description); err == nil {
			item["description_html"] = rendered
		}
	}

	if habit.StartDate != nil {
		item["start_date"] = habit.StartDate.Format(dateFormat)
	}
	if habit.EndDate != nil {
		item["end_date"] = habit.EndDate.Format(dateFormat)
	}

	return item
}

func handleHabitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrHabitNotFound):
		respondError(c, http.StatusNotFound, "习惯不存在")
	case errors.Is(err, service.ErrHabitInvalidFrequency):
		respondError(c, http.StatusBadRequest, "频率配置无效")
	case errors.Is(err, service.ErrInvalidGoal):
		respondError(c, http.StatusBadRequest, "目标量必须为正数")
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}

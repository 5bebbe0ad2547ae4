package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/habitsync/internal/db"
	"gorm.io/gorm"
)

var (
	// ErrHabitNotFound 在指定习惯不存在或不属于该用户时返回
	ErrHabitNotFound = errors.New("habit not found")
	// ErrHabitInvalidFrequency 当频率配置异常时返回
	ErrHabitInvalidFrequency = errors.New("invalid habit frequency configuration")
)

// HabitService 负责习惯目录的增删改查，所有操作按用户隔离
// FrequencyUnit 支持 daily/weekly/monthly，FrequencyCount>0，GoalAmount>0
// Status 仅使用 active/archived，默认 active；归档替代物理删除作为常规下线方式
type HabitService struct {
	db *gorm.DB
}

// HabitFilter 描述列表过滤条件
type HabitFilter struct {
	Status string
	Search string
}

// HabitInput 定义创建/更新习惯时可配置字段
type HabitInput struct {
	Name           string
	Description    string
	Icon           string
	FrequencyUnit  string
	FrequencyCount int
	GoalAmount     int
	Status         string
	StartDate      *time.Time
	EndDate        *time.Time
}

// NewHabitService 构造 HabitService
func NewHabitService(gdb *gorm.DB) *HabitService {
	return &HabitService{db: gdb}
}

// List 返回用户的习惯集合，支持基本筛选
func (s *HabitService) List(userID uint, filter HabitFilter) ([]db.Habit, error) {
	var habits []db.Habit

	query := s.db.Model(&db.Habit{}).Where("user_id = ?", userID)

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		like := fmt.Sprintf("%%%s%%", strings.TrimSpace(filter.Search))
		query = query.Where("name LIKE ? OR description LIKE ?", like, like)
	}

	if err := query.Order("created_at DESC").Find(&habits).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}

	return habits, nil
}

// Get 根据 ID 获取习惯，归属校验失败视同不存在
func (s *HabitService) Get(userID, id uint) (*db.Habit, error) {
	var habit db.Habit
	if err := s.db.Where("user_id = ?", userID).First(&habit, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHabitNotFound
		}
		return nil, fmt.Errorf("get habit: %w", err)
	}
	return &habit, nil
}

// Create 新建习惯
func (s *HabitService) Create(userID uint, input HabitInput) (*db.Habit, error) {
	if err := validateHabitInput(input); err != nil {
		return nil, err
	}

	habit := db.Habit{
		UserID:         userID,
		Name:           strings.TrimSpace(input.Name),
		Description:    strings.TrimSpace(input.Description),
		Icon:           strings.TrimSpace(input.Icon),
		FrequencyUnit:  strings.TrimSpace(strings.ToLower(input.FrequencyUnit)),
		FrequencyCount: input.FrequencyCount,
		GoalAmount:     input.GoalAmount,
		Status:         normalizeStatus(input.Status),
		StartDate:      input.StartDate,
		EndDate:        input.EndDate,
	}

	if err := s.db.Create(&habit).Error; err != nil {
		return nil, fmt.Errorf("create habit: %w", err)
	}
	return &habit, nil
}

// Update 更新习惯
func (s *HabitService) Update(userID, id uint, input HabitInput) (*db.Habit, error) {
	if err := validateHabitInput(input); err != nil {
		return nil, err
	}

	existing, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	existing.Name = strings.TrimSpace(input.Name)
	existing.Description = strings.TrimSpace(input.Description)
	existing.Icon = strings.TrimSpace(input.Icon)
	existing.FrequencyUnit = strings.TrimSpace(strings.ToLower(input.FrequencyUnit))
	existing.FrequencyCount = input.FrequencyCount
	existing.GoalAmount = input.GoalAmount
	existing.Status = normalizeStatus(input.Status)
	existing.StartDate = input.StartDate
	existing.EndDate = input.EndDate

	if err := s.db.Save(existing).Error; err != nil {
		return nil, fmt.Errorf("update habit: %w", err)
	}
	return existing, nil
}

// Archive 将习惯置为 archived，使其退出每日奖励的聚合判定
func (s *HabitService) Archive(userID, id uint) (*db.Habit, error) {
	existing, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	existing.Status = "archived"
	if err := s.db.Save(existing).Error; err != nil {
		return nil, fmt.Errorf("archive habit: %w", err)
	}
	return existing, nil
}

// Delete 物理删除习惯，账本事件保留以便审计
func (s *HabitService) Delete(userID, id uint) error {
	result := s.db.Where("user_id = ?", userID).Delete(&db.Habit{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete habit: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrHabitNotFound
	}
	return nil
}

func validateHabitInput(input HabitInput) error {
	unit := strings.TrimSpace(strings.ToLower(input.FrequencyUnit))
	if unit != "daily" && unit != "weekly" && unit != "monthly" {
		return fmt.Errorf("%w: unsupported unit %s", ErrHabitInvalidFrequency, input.FrequencyUnit)
	}

	if input.FrequencyCount <= 0 {
		return fmt.Errorf("%w: count must be positive", ErrHabitInvalidFrequency)
	}

	if input.GoalAmount <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidGoal, input.GoalAmount)
	}

	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("habit name is required")
	}

	if input.StartDate != nil && input.EndDate != nil && input.EndDate.Before(*input.StartDate) {
		return fmt.Errorf("habit end date is before start date")
	}

	return nil
}

func normalizeStatus(status string) string {
	status = strings.TrimSpace(strings.ToLower(status))
	if status != "archived" {
		return "active"
	}
	return "archived"
}

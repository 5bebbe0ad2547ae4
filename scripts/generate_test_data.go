package main

import (
	"fmt"
	"log"
	"time"

	"github.com/habitsync/internal/config"
	"github.com/habitsync/internal/db"
	"golang.org/x/crypto/bcrypt"
)

// 测试数据生成器
func main() {
	// 初始化数据库
	cfg := config.Load()
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	fmt.Println("开始生成测试数据...")

	user := createTestUser()
	if user == nil {
		fmt.Println("用户已存在，跳过生成")
		return
	}

	habits := createTestHabits(user.ID)
	createLegacyProgress(user.ID, habits)

	fmt.Println("测试数据生成完成！")
	fmt.Println("用户: demo (密码: demo123)")
	fmt.Printf("习惯: %d 个\n", len(habits))
	fmt.Println("旧存储计数: 最近 7 天，首次打卡时自动迁移为账本事件")
}

// 创建演示用户
func createTestUser() *db.User {
	var count int64
	db.DB.Model(&db.User{}).Count(&count)
	if count > 0 {
		return nil
	}

	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("demo123"), bcrypt.DefaultCost)
	user := db.User{
		Username: "demo",
		Password: string(hashedPassword),
		Timezone: "Asia/Shanghai",
	}
	db.DB.Create(&user)

	fmt.Println("✅ 演示用户创建完成")
	return &user
}

// 创建演示习惯
func createTestHabits(userID uint) []db.Habit {
	habits := []db.Habit{
		{UserID: userID, Name: "晨跑", Description: "每天 **5 公里**", Icon: "🏃", FrequencyUnit: "daily", FrequencyCount: 1, GoalAmount: 1, Status: "active"},
		{UserID: userID, Name: "阅读", Description: "每天读书 30 分钟", Icon: "📖", FrequencyUnit: "daily", FrequencyCount: 1, GoalAmount: 3, Status: "active"},
		{UserID: userID, Name: "喝水", Description: "一天 8 杯水", Icon: "💧", FrequencyUnit: "daily", FrequencyCount: 1, GoalAmount: 8, Status: "active"},
		{UserID: userID, Name: "周总结", Description: "回顾一周进展", Icon: "📝", FrequencyUnit: "weekly", FrequencyCount: 1, GoalAmount: 1, Status: "active"},
	}

	for i := range habits {
		db.DB.Create(&habits[i])
	}

	fmt.Println("✅ 演示习惯创建完成")
	return habits
}

// 写入旧版扁平存储的单日计数，演示首次访问时的惰性迁移
func createLegacyProgress(userID uint, habits []db.Habit) {
	now := time.Now()
	for day := 1; day <= 7; day++ {
		dayKey := now.AddDate(0, 0, -day).Format("2006-01-02")
		for i, habit := range habits {
			if habit.FrequencyUnit != "daily" {
				continue
			}
			count := (day + i) % (habit.GoalAmount + 1)
			if count == 0 {
				continue
			}
			db.DB.Create(&db.LegacyDailyProgress{
				UserID:  userID,
				HabitID: habit.ID,
				DayKey:  dayKey,
				Count:   count,
			})
		}
	}

	fmt.Println("✅ 旧存储计数写入完成")
}

package main

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitsync/internal/config"
	"github.com/habitsync/internal/db"
	"github.com/habitsync/internal/handler"
	"github.com/habitsync/internal/router"
	"github.com/habitsync/internal/service"
)

func main() {
	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	// 可选的引导账号
	if _, err := db.EnsureUser(cfg.RootUserName, cfg.RootUserPassword, cfg.DefaultTimezone); err != nil {
		log.Fatalf("failed to ensure root user: %v", err)
	}

	zone, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		log.Printf("unknown timezone %q, falling back to local", cfg.DefaultTimezone)
		zone = time.Local
	}

	api := handler.NewAPI(db.DB, handler.Options{
		DailyAwardXP: cfg.DailyAwardXP,
		Migration: service.MigrationOptions{
			EnableAutoMigration: cfg.EnableAutoMigration,
			ForceMigration:      cfg.ForceMigration,
		},
		DefaultZone: zone,
	})

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(api, cfg.SessionSecret)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}

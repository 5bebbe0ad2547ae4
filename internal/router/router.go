package router

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/habitsync/internal/handler"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("habitsync_session", store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	r.POST("/api/login", handler.Login)
	r.POST("/api/logout", handler.Logout)

	// 需要认证的业务路由
	auth := r.Group("/api")
	auth.Use(handler.AuthRequired())
	{
		auth.GET("/habits", api.ListHabits)
		auth.POST("/habits", api.CreateHabit)
		auth.GET("/habits/:id", api.GetHabit)
		auth.PUT("/habits/:id", api.UpdateHabit)
		auth.POST("/habits/:id/archive", api.ArchiveHabit)
		auth.DELETE("/habits/:id", api.DeleteHabit)

		auth.POST("/habits/:id/progress", api.RecordProgress)
		auth.GET("/habits/:id/progress", api.GetDayProgress)

		auth.GET("/progress", api.GetUserProgress)
		auth.GET("/awards/:date", api.GetDailyAward)

		auth.POST("/migration/run", api.RunMigration)
		auth.GET("/migration", api.GetMigrationState)

		auth.GET("/sync/rules", api.GetMergeRules)
		auth.POST("/sync", api.SyncNow)
	}

	return r
}

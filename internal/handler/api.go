package handler

import (
	"time"

	"github.com/habitsync/internal/service"
	"gorm.io/gorm"
)

// Options 汇总构造 API 所需的运行参数
// 迁移/奖励行为在构造期一次性注入，运行期不存在可变全局开关
type Options struct {
	DailyAwardXP int
	Migration    service.MigrationOptions
	DefaultZone  *time.Location
	RemoteStore  service.RemoteStore
}

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db          *gorm.DB
	habits      *service.HabitService
	progress    *service.ProgressService
	awards      *service.AwardService
	migrations  *service.MigrationService
	resolver    *service.ConflictResolver
	sync        *service.SyncService
	defaultZone *time.Location
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, opts Options) *API {
	habits := service.NewHabitService(gdb)
	ledger := service.NewLedgerService(gdb)
	completions := service.NewCompletionService(gdb, ledger)
	awards := service.NewAwardService(gdb, opts.DailyAwardXP)
	migrations := service.NewMigrationService(gdb, ledger, completions, awards, opts.Migration)
	progress := service.NewProgressService(gdb, habits, ledger, completions, awards, migrations, opts.DefaultZone)
	resolver := service.NewConflictResolver()
	syncSvc := service.NewSyncService(gdb, resolver, opts.RemoteStore, progress)

	zone := opts.DefaultZone
	if zone == nil {
		zone = time.Local
	}

	return &API{
		db:          gdb,
		habits:      habits,
		progress:    progress,
		awards:      awards,
		migrations:  migrations,
		resolver:    resolver,
		sync:        syncSvc,
		defaultZone: zone,
	}
}

// DB exposes the underlying gorm instance for legacy paths.
func (a *API) DB() *gorm.DB {
	return a.db
}

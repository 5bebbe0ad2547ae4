package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitsync/internal/db"
	"github.com/habitsync/internal/handler"
	"github.com/habitsync/internal/router"
	"github.com/habitsync/internal/service"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	e2eUsername = "alice"
	e2ePassword = "password123"
	e2eBaseURL  = "https://habitsync.test"
)

// localClient 直接驱动 handler 并维护会话 cookie，不经真实网络
type localClient struct {
	handler http.Handler
	jar     http.CookieJar
}

func newLocalClient(t *testing.T, h http.Handler) *localClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}
	return &localClient{handler: h, jar: jar}
}

func (c *localClient) do(req *http.Request) *http.Response {
	for _, cookie := range c.jar.Cookies(req.URL) {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	resp := w.Result()
	c.jar.SetCookies(req.URL, resp.Cookies())
	return resp
}

func (c *localClient) postJSON(t *testing.T, path string, payload any) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, e2eBaseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.decode(t, c.do(req))
}

func (c *localClient) getJSON(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e2eBaseURL+path, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return c.decode(t, c.do(req))
}

func (c *localClient) decode(t *testing.T, resp *http.Response) (int, map[string]any) {
	t.Helper()
	defer resp.Body.Close()

	var parsed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.StatusCode, parsed
}

func setupE2E(t *testing.T) (*localClient, *db.User) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	db.DB = gdb
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	user, err := db.EnsureUser(e2eUsername, e2ePassword, "UTC")
	if err != nil {
		t.Fatalf("failed to ensure user: %v", err)
	}

	api := handler.NewAPI(gdb, handler.Options{
		Migration:   service.MigrationOptions{EnableAutoMigration: true},
		DefaultZone: time.UTC,
	})
	r := router.SetupRouter(api, "test-secret")

	return newLocalClient(t, r), user
}

func TestHabitProgressEndToEnd(t *testing.T) {
	client, user := setupE2E(t)

	// 未登录时业务路由一律 401
	status, body := client.getJSON(t, "/api/habits")
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 before login, got %d: %v", status, body)
	}

	status, body = client.postJSON(t, "/api/login", map[string]any{
		"username": e2eUsername,
		"password": e2ePassword,
	})
	if status != http.StatusOK {
		t.Fatalf("login failed with %d: %v", status, body)
	}

	// 建立带描述的习惯，描述以净化后的 HTML 返回
	status, body = client.postJSON(t, "/api/habits", map[string]any{
		"name":            "阅读",
		"description":     "每天 **30 分钟**",
		"frequency_unit":  "daily",
		"frequency_count": 1,
		"goal_amount":     2,
	})
	if status != http.StatusOK {
		t.Fatalf("create habit failed with %d: %v", status, body)
	}
	habit, ok := body["habit"].(map[string]any)
	if !ok {
		t.Fatalf("expected habit in response, got %v", body)
	}
	habitID := int(habit["id"].(float64))
	if html, _ := habit["description_html"].(string); html == "" {
		t.Fatalf("expected rendered description, got %v", habit)
	}

	// 迁移前旧存储里的计数经回退路径可见
	if err := db.DB.Create(&db.LegacyDailyProgress{
		UserID:  user.ID,
		HabitID: uint(habitID),
		DayKey:  "2025-01-01",
		Count:   1,
	}).Error; err != nil {
		t.Fatalf("failed to seed legacy progress: %v", err)
	}

	status, body = client.getJSON(t, fmt.Sprintf("/api/habits/%d/progress?date=2025-01-01", habitID))
	if status != http.StatusOK {
		t.Fatalf("day progress failed with %d: %v", status, body)
	}
	if body["progress"].(float64) != 1 || body["source"].(string) != "legacy" {
		t.Fatalf("expected legacy-backed progress before migration, got %v", body)
	}

	// 第一次打卡：写路径顺带完成惰性迁移
	status, body = client.postJSON(t, fmt.Sprintf("/api/habits/%d/progress", habitID), map[string]any{
		"day_key":   "2025-03-31",
		"device_id": "phone",
		"sequence":  1,
	})
	if status != http.StatusOK {
		t.Fatalf("record progress failed with %d: %v", status, body)
	}
	if body["outcome"].(string) != "applied" {
		t.Fatalf("expected applied outcome, got %v", body)
	}
	record := body["record"].(map[string]any)
	if record["progress"].(float64) != 1 || record["is_completed"].(bool) {
		t.Fatalf("unexpected record after first increment: %v", record)
	}

	status, body = client.getJSON(t, fmt.Sprintf("/api/habits/%d/progress?date=2025-01-01", habitID))
	if status != http.StatusOK {
		t.Fatalf("day progress failed with %d: %v", status, body)
	}
	if body["source"].(string) != "ledger" {
		t.Fatalf("expected ledger-backed progress after migration, got %v", body)
	}

	status, body = client.getJSON(t, "/api/migration")
	if status != http.StatusOK {
		t.Fatalf("migration state failed with %d: %v", status, body)
	}
	migration := body["migration"].(map[string]any)
	if migration["status"].(string) != "completed" || migration["migrated_record_count"].(float64) != 1 {
		t.Fatalf("unexpected migration state: %v", migration)
	}

	// 第二次打卡达标，当日奖励授予
	status, body = client.postJSON(t, fmt.Sprintf("/api/habits/%d/progress", habitID), map[string]any{
		"day_key":   "2025-03-31",
		"device_id": "phone",
		"sequence":  2,
	})
	if status != http.StatusOK {
		t.Fatalf("record progress failed with %d: %v", status, body)
	}
	record = body["record"].(map[string]any)
	if !record["is_completed"].(bool) {
		t.Fatalf("expected completed record, got %v", record)
	}
	award := body["award"].(map[string]any)
	if !award["granted"].(bool) || award["xp_total"].(float64) != float64(service.DefaultDailyAwardXP) {
		t.Fatalf("unexpected award: %v", award)
	}

	// 同坐标重放不再推进任何状态
	status, body = client.postJSON(t, fmt.Sprintf("/api/habits/%d/progress", habitID), map[string]any{
		"day_key":   "2025-03-31",
		"device_id": "phone",
		"sequence":  2,
	})
	if status != http.StatusOK {
		t.Fatalf("replay failed with %d: %v", status, body)
	}
	if body["outcome"].(string) != "duplicate" {
		t.Fatalf("expected duplicate outcome, got %v", body)
	}

	status, body = client.getJSON(t, "/api/awards/2025-03-31")
	if status != http.StatusOK {
		t.Fatalf("award lookup failed with %d: %v", status, body)
	}
	if body["award"] == nil {
		t.Fatalf("expected award payload, got %v", body)
	}

	status, body = client.getJSON(t, "/api/progress")
	if status != http.StatusOK {
		t.Fatalf("user progress failed with %d: %v", status, body)
	}
	if body["xp_total"].(float64) != float64(service.DefaultDailyAwardXP) || body["current_streak"].(float64) != 1 {
		t.Fatalf("unexpected user progress: %v", body)
	}

	// 合并规则清单可供审计，默认配置无警告
	status, body = client.getJSON(t, "/api/sync/rules")
	if status != http.StatusOK {
		t.Fatalf("sync rules failed with %d: %v", status, body)
	}
	if rules, _ := body["rules"].(string); rules == "" {
		t.Fatalf("expected non-empty rules summary, got %v", body)
	}
	if warnings, ok := body["warnings"].([]any); !ok || len(warnings) != 0 {
		t.Fatalf("expected no rule warnings, got %v", body)
	}

	// 未配置远端存储时同步是显式空操作
	status, body = client.postJSON(t, "/api/sync", map[string]any{})
	if status != http.StatusOK {
		t.Fatalf("sync failed with %d: %v", status, body)
	}
	if body["enabled"].(bool) {
		t.Fatalf("expected sync to be disabled, got %v", body)
	}

	// 登出后会话失效
	status, _ = client.postJSON(t, "/api/logout", map[string]any{})
	if status != http.StatusOK {
		t.Fatalf("logout failed with %d", status)
	}
	status, _ = client.getJSON(t, "/api/habits")
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", status)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	client, _ := setupE2E(t)

	status, _ := client.postJSON(t, "/api/login", map[string]any{
		"username": e2eUsername,
		"password": "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", status)
	}

	status, _ = client.postJSON(t, "/api/login", map[string]any{
		"username": "nobody",
		"password": e2ePassword,
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", status)
	}
}

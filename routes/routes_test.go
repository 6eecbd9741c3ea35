package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sekolah_absenku/config"
	"sekolah_absenku/controllers"
	"sekolah_absenku/database"
	"sekolah_absenku/middleware"
	"sekolah_absenku/models"
	"sekolah_absenku/services"
	"sekolah_absenku/services/notifications"
	"sekolah_absenku/services/websocket"
	"sekolah_absenku/storage"
	"sekolah_absenku/utils"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testServer struct {
	app     *fiber.App
	db      *gorm.DB
	student *models.Student
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	prevDB, prevCfg := database.DB, config.AppConfig
	database.DB = db
	config.AppConfig = &config.Config{JWTSecret: "integration-test-secret", JWTExpiresIn: time.Hour}
	middleware.SetActivityLogService(nil)
	t.Cleanup(func() {
		database.DB = prevDB
		config.AppConfig = prevCfg
	})

	ctx := context.Background()
	hashed, err := utils.HashPassword("admin123")
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.User{
		Identifier: "admin", Password: hashed, Role: models.RoleAdmin, Name: "Admin", Status: models.UserActive,
	}).Error)

	teacher, err := services.NewTeacherService(db).Create(ctx, services.TeacherInput{NIP: "19850101", Name: "Budi Santoso", Password: "guru123"})
	require.NoError(t, err)
	class, err := services.NewClassService(db, nil).Create(ctx, services.ClassInput{Name: "VII-A", HomeroomTeacherID: &teacher.ID})
	require.NoError(t, err)
	student, err := services.NewStudentService(db, nil, nil).Create(ctx, services.StudentInput{NISN: "0010001", Name: "Andi", ClassID: class.ID})
	require.NoError(t, err)

	store, err := storage.NewLocalStore(t.TempDir(), "/exports")
	require.NoError(t, err)
	stats := services.NewStatsService(db, nil, 0, time.UTC)
	notif := notifications.NewService(db, nil, nil)
	auth := services.NewAuthService(db)
	logs := services.NewActivityLogService(db, nil, nil)

	app := fiber.New()
	app.Use(middleware.RequestID())
	SetupRoutes(app, Controllers{
		Auth:          controllers.NewAuthController(auth),
		Users:         controllers.NewUserController(auth),
		Students:      controllers.NewStudentController(services.NewStudentService(db, stats, store)),
		Teachers:      controllers.NewTeacherController(services.NewTeacherService(db)),
		Classes:       controllers.NewClassController(services.NewClassService(db, stats)),
		Attendance:    controllers.NewAttendanceController(services.NewAttendanceService(db, stats, time.UTC, "07:15")),
		Leaves:        controllers.NewLeaveRequestController(services.NewLeaveService(db, stats, notif, store, time.UTC), store),
		Dashboard:     controllers.NewDashboardController(stats, time.UTC),
		Exports:       controllers.NewExportController(services.NewExportService(db, store, "SMP Test", time.UTC)),
		Notifications: controllers.NewNotificationController(notif),
		Logs:          controllers.NewLogController(logs, 30),
		Health:        controllers.NewHealthController(services.NewHealthService("absenku", "test", "test", db, nil, services.HealthFlags{})),
		WebSocket:     controllers.NewWebSocketController(websocket.NewHub()),
		Line:          controllers.NewLineController(notifications.NewLineLinker(db, nil)),
	})
	return &testServer{app: app, db: db, student: student}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func (s *testServer) login(t *testing.T, role, identifier, password string) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/auth/login", "", fiber.Map{
		"role": role, "identifier": identifier, "password": password,
	})
	require.Equal(t, http.StatusOK, status, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/api/auth/login", "", fiber.Map{
		"role": "student", "identifier": "0010001", "password": "0010001",
	})
	require.Equal(t, http.StatusOK, status)
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "Andi", user["name"])

	status, _ = s.do(t, http.MethodPost, "/api/auth/login", "", fiber.Map{
		"role": "teacher", "identifier": "0010001", "password": "0010001",
	})
	assert.Equal(t, http.StatusUnauthorized, status, "student credentials do not work for the teacher role")

	status, _ = s.do(t, http.MethodPost, "/api/auth/login", "", fiber.Map{
		"role": "admin", "identifier": "admin", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodPost, "/api/auth/login", "", fiber.Map{"role": "principal"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/api/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = s.do(t, http.MethodGet, "/api/profile", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	token := s.login(t, "teacher", "19850101", "guru123")
	status, body := s.do(t, http.MethodGet, "/api/profile", token, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.NotNil(t, body["user"])
}

func TestInactiveAccountIsBlocked(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "student", "0010001", "0010001")

	require.NoError(t, s.db.Model(&models.User{}).Where("id = ?", s.student.UserID).Update("status", models.UserInactive).Error)
	status, _ := s.do(t, http.MethodGet, "/api/profile", token, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestRoleChecks(t *testing.T) {
	s := newTestServer(t)
	student := s.login(t, "student", "0010001", "0010001")
	teacher := s.login(t, "teacher", "19850101", "guru123")
	admin := s.login(t, "admin", "admin", "admin123")

	status, _ := s.do(t, http.MethodGet, "/api/users", student, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = s.do(t, http.MethodGet, "/api/students", student, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = s.do(t, http.MethodPost, "/api/students", teacher, fiber.Map{"nisn": "0010002", "name": "Budi", "class_id": 1})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = s.do(t, http.MethodPost, "/api/attendance/check-in", teacher, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := s.do(t, http.MethodGet, "/api/users", admin, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.NotNil(t, body["pagination"])
}

func TestStudentCheckInFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "student", "0010001", "0010001")

	status, body := s.do(t, http.MethodPost, "/api/attendance/check-in", token, nil)
	require.Equal(t, http.StatusCreated, status, body)

	status, body = s.do(t, http.MethodPost, "/api/attendance/check-in", token, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already checked in today", body["error"])

	status, _ = s.do(t, http.MethodPost, "/api/attendance/check-out", token, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "admin", "admin", "admin123")

	status, _ := s.do(t, http.MethodGet, "/api/students/999", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodGet, "/api/students/abc", admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPost, "/api/students", admin, fiber.Map{"nisn": "0010001", "name": "Kembar", "class_id": s.student.ClassID})
	assert.Equal(t, http.StatusConflict, status)

	status, body := s.do(t, http.MethodPost, "/api/students", admin, fiber.Map{"nisn": "0010002", "name": "Citra", "class_id": s.student.ClassID})
	assert.Equal(t, http.StatusCreated, status, body)
}

func TestHealthAndRequestID(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-123")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-123", resp.Header.Get(fiber.HeaderXRequestID))

	var report services.HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, "ok", report.Status)
}

func TestArchiveNeedsUploader(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "admin", "admin", "admin123")

	status, body := s.do(t, http.MethodPost, "/api/logs/archive", admin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, services.ErrArchiveUnavailable.Error(), body["error"])
}

type memoryBlacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Duration
}

func (b *memoryBlacklist) Revoke(_ context.Context, token string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[token] = ttl
	return nil
}

func (b *memoryBlacklist) IsRevoked(_ context.Context, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.revoked[token]
	return ok, nil
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t)
	list := &memoryBlacklist{revoked: map[string]time.Duration{}}
	middleware.SetTokenBlacklist(list)
	t.Cleanup(func() { middleware.SetTokenBlacklist(nil) })

	token := s.login(t, "teacher", "19850101", "guru123")
	status, _ := s.do(t, http.MethodGet, "/api/profile", token, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, list.revoked, token)
	assert.LessOrEqual(t, list.revoked[token], time.Hour, "kept only until the token expires")

	status, body := s.do(t, http.MethodGet, "/api/profile", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "token has been revoked", body["error"])
}

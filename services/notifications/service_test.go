package notifications

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"sekolah_absenku/models"
	"sekolah_absenku/utils"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Notification{}))
	return db
}

type fakeHub struct {
	mu    sync.Mutex
	users []uint
}

func (h *fakeHub) BroadcastToUser(userID uint, _ interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users = append(h.users, userID)
}

type fakeLine struct {
	pushed map[string]string
}

func (l *fakeLine) Enabled() bool { return true }

func (l *fakeLine) PushText(to, text string) error {
	if l.pushed == nil {
		l.pushed = map[string]string{}
	}
	l.pushed[to] = text
	return nil
}

func createUser(t *testing.T, db *gorm.DB, identifier, role, lineID string) models.User {
	t.Helper()
	u := models.User{Identifier: identifier, Password: "x", Role: role, Name: identifier, LineID: lineID, Status: models.UserActive}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func TestNotifyStoresAndPushes(t *testing.T) {
	db := newTestDB(t)
	linked := createUser(t, db, "guru1", models.RoleTeacher, "U123")
	plain := createUser(t, db, "guru2", models.RoleTeacher, "")
	hub := &fakeHub{}
	line := &fakeLine{}
	svc := NewService(db, hub, line)
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, []uint{linked.ID, plain.ID}, "New leave request", "Andi requested sick leave", "bogus"))

	var stored []models.Notification
	require.NoError(t, db.Order("id ASC").Find(&stored).Error)
	require.Len(t, stored, 2)
	assert.Equal(t, "info", stored[0].Type, "unknown kinds fall back to info")
	assert.ElementsMatch(t, []uint{linked.ID, plain.ID}, hub.users)
	assert.Equal(t, map[string]string{"U123": "New leave request\nAndi requested sick leave"}, line.pushed)

	assert.NoError(t, svc.Notify(ctx, nil, "ignored", "", "info"))
}

func TestReadTracking(t *testing.T) {
	db := newTestDB(t)
	user := createUser(t, db, "siswa1", models.RoleStudent, "")
	other := createUser(t, db, "siswa2", models.RoleStudent, "")
	svc := NewService(db, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Notify(ctx, []uint{user.ID}, fmt.Sprintf("n%d", i), "m", "info"))
	}
	count, err := svc.UnreadCount(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	list, total, err := svc.List(ctx, user.ID, false, utils.Pagination{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].Title)

	assert.ErrorIs(t, svc.MarkRead(ctx, other.ID, list[0].ID), ErrNotFound)
	require.NoError(t, svc.MarkRead(ctx, user.ID, list[0].ID))
	require.NoError(t, svc.MarkRead(ctx, user.ID, list[0].ID))

	_, total, err = svc.List(ctx, user.ID, true, utils.Pagination{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	changed, err := svc.MarkAllRead(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, changed)
	count, err = svc.UnreadCount(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAnnounceTargetsActiveUsersOfRole(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "guru1", models.RoleTeacher, "")
	createUser(t, db, "guru2", models.RoleTeacher, "")
	inactive := createUser(t, db, "guru3", models.RoleTeacher, "")
	require.NoError(t, db.Model(&inactive).Update("status", models.UserInactive).Error)
	createUser(t, db, "siswa1", models.RoleStudent, "")
	svc := NewService(db, nil, nil)

	n, err := svc.Announce(context.Background(), models.RoleTeacher, "Rapat guru", "Jumat 14:00", "info")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.Announce(context.Background(), "", "Libur", "Senin libur", "info")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLinkerWithoutRedis(t *testing.T) {
	db := newTestDB(t)
	user := createUser(t, db, "siswa1", models.RoleStudent, "U999")
	linker := NewLineLinker(db, nil)
	ctx := context.Background()

	_, _, err := linker.IssueCode(ctx, user.ID)
	assert.ErrorIs(t, err, ErrLinkUnavailable)
	_, err = linker.Link(ctx, "ABCD", "U1")
	assert.ErrorIs(t, err, ErrLinkUnavailable)

	require.NoError(t, linker.Unlink(ctx, user.ID))
	var stored models.User
	require.NoError(t, db.First(&stored, user.ID).Error)
	assert.Empty(t, stored.LineID)
}

func TestParseLinkCommand(t *testing.T) {
	tests := []struct {
		text string
		code string
		ok   bool
	}{
		{"LINK 3FA9C2D1", "3FA9C2D1", true},
		{"  link   abc123 ", "abc123", true},
		{"LINK", "", false},
		{"hello there", "", false},
		{"LINK a b", "", false},
	}
	for _, tc := range tests {
		code, ok := ParseLinkCommand(tc.text)
		assert.Equal(t, tc.ok, ok, tc.text)
		assert.Equal(t, tc.code, code, tc.text)
	}
}

func TestDisabledLineClient(t *testing.T) {
	client, err := NewLineClient("", "")
	require.NoError(t, err)
	assert.False(t, client.Enabled())
	assert.Error(t, client.PushText("U1", "hi"))
}

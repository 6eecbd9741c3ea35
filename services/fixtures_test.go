package services

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sekolah_absenku/models"
	"sekolah_absenku/storage"

	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a private in-memory database with every table migrated and
// foreign keys enforced like MySQL does.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// fixedClock pins a service clock to date at hhmm UTC.
func fixedClock(date, hhmm string) func() time.Time {
	t, err := time.Parse("2006-01-02 15:04", date+" "+hhmm)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

type school struct {
	db       *gorm.DB
	admin    Actor
	teacher  *models.Teacher
	other    *models.Teacher
	class    *models.Class
	class2   *models.Class
	students []*models.Student
	outsider *models.Student
}

// newSchool seeds two classes with a homeroom teacher each, three students
// in the first class and one in the second.
func newSchool(t *testing.T) *school {
	t.Helper()
	ctx := context.Background()
	db := newTestDB(t)
	s := &school{db: db}

	admin := models.User{Identifier: "admin", Password: "x", Role: models.RoleAdmin, Name: "Admin", Status: models.UserActive}
	require.NoError(t, db.Create(&admin).Error)
	s.admin = Actor{UserID: admin.ID, Role: models.RoleAdmin}

	teachers := NewTeacherService(db)
	var err error
	s.teacher, err = teachers.Create(ctx, TeacherInput{NIP: "19850101", Name: "Budi Santoso", Password: "secret1"})
	require.NoError(t, err)
	s.other, err = teachers.Create(ctx, TeacherInput{NIP: "19870215", Name: "Siti Rahayu", Password: "secret1"})
	require.NoError(t, err)

	classes := NewClassService(db, nil)
	s.class, err = classes.Create(ctx, ClassInput{Name: "VII-A", Grade: "7", AcademicYear: "2025/2026", HomeroomTeacherID: &s.teacher.ID})
	require.NoError(t, err)
	s.class2, err = classes.Create(ctx, ClassInput{Name: "VIII-A", Grade: "8", AcademicYear: "2025/2026", HomeroomTeacherID: &s.other.ID})
	require.NoError(t, err)

	students := NewStudentService(db, nil, nil)
	for i, name := range []string{"Andi", "Dewi", "Rizky"} {
		st, err := students.Create(ctx, StudentInput{
			NISN:     fmt.Sprintf("00100%02d", i+1),
			Name:     name,
			ClassID:  s.class.ID,
			Password: "secret1",
		})
		require.NoError(t, err)
		s.students = append(s.students, st)
	}
	s.outsider, err = students.Create(ctx, StudentInput{NISN: "0020001", Name: "Putri", ClassID: s.class2.ID, Password: "secret1"})
	require.NoError(t, err)
	return s
}

func (s *school) teacherActor() Actor {
	return Actor{UserID: s.teacher.UserID, Role: models.RoleTeacher, TeacherID: s.teacher.ID}
}

func (s *school) otherTeacherActor() Actor {
	return Actor{UserID: s.other.UserID, Role: models.RoleTeacher, TeacherID: s.other.ID}
}

func (s *school) studentActor(i int) Actor {
	st := s.students[i]
	return Actor{UserID: st.UserID, Role: models.RoleStudent, StudentID: st.ID}
}

// recordingNotifier captures notifications instead of delivering them.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

type sentNotification struct {
	UserIDs []uint
	Title   string
	Kind    string
}

func (n *recordingNotifier) Notify(_ context.Context, userIDs []uint, title, _, kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserIDs: userIDs, Title: title, Kind: kind})
	return nil
}

func (n *recordingNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Title)
	}
	return out
}

// memoryCache is an in-process statsCache.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *memoryCache) DeleteMatching(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *memoryCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cachedStats returns a stats service backed by a memoryCache.
func cachedStats(s *school) (*StatsService, *memoryCache) {
	cache := newMemoryCache()
	stats := NewStatsService(s.db, nil, time.Minute, time.UTC)
	stats.cache = cache
	return stats, cache
}

// storedAttachment writes a small file into a fresh local store and returns
// the store, its URL and the path on disk.
func storedAttachment(t *testing.T) (*storage.LocalStore, string, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStore(dir, "http://localhost:8080/uploads")
	require.NoError(t, err)
	key := "leave-attachments/surat-dokter.pdf"
	url, err := store.Put(context.Background(), key, "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	return store, url, filepath.Join(dir, key)
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"sekolah_absenku/models"
	"sekolah_absenku/utils"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const statsKeyPrefix = "stats:"

// DailyStats aggregates attendance for one date.
type DailyStats struct {
	Date           string           `json:"date"`
	ClassID        *uint            `json:"class_id,omitempty"`
	TotalStudents  int64            `json:"total_students"`
	Recorded       int64            `json:"recorded"`
	NotRecorded    int64            `json:"not_recorded"`
	Counts         map[string]int64 `json:"counts"`
	AttendanceRate float64          `json:"attendance_rate"`
}

// DayCount is one row of a monthly breakdown.
type DayCount struct {
	Date   string           `json:"date"`
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

// MonthlyStats aggregates attendance for a calendar month.
type MonthlyStats struct {
	Year           int              `json:"year"`
	Month          int              `json:"month"`
	ClassID        *uint            `json:"class_id,omitempty"`
	TotalStudents  int64            `json:"total_students"`
	Counts         map[string]int64 `json:"counts"`
	Recorded       int64            `json:"recorded"`
	AttendanceRate float64          `json:"attendance_rate"`
	Days           []DayCount       `json:"days"`
}

type AdminDashboard struct {
	TotalStudents int64                 `json:"total_students"`
	TotalTeachers int64                 `json:"total_teachers"`
	TotalClasses  int64                 `json:"total_classes"`
	PendingLeaves int64                 `json:"pending_leaves"`
	Today         *DailyStats           `json:"today"`
	RecentLeaves  []models.LeaveRequest `json:"recent_leaves"`
}

type TeacherDashboard struct {
	Homeroom      *models.Class         `json:"homeroom"`
	Today         *DailyStats           `json:"today,omitempty"`
	PendingLeaves []models.LeaveRequest `json:"pending_leaves"`
}

type StudentDashboard struct {
	Today            *models.Attendance    `json:"today"`
	Month            map[string]int64      `json:"month"`
	RecentAttendance []models.Attendance   `json:"recent_attendance"`
	RecentLeaves     []models.LeaveRequest `json:"recent_leaves"`
}

// statsCache holds serialized stats. A miss is reported as redis.Nil.
type statsCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteMatching(ctx context.Context, pattern string) error
}

type redisStatsCache struct {
	rdb *redis.Client
}

func (c redisStatsCache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.rdb.Get(ctx, key).Bytes()
}

func (c redisStatsCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c redisStatsCache) DeleteMatching(ctx context.Context, pattern string) error {
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// StatsService computes dashboard statistics, caching them in Redis when
// a client is configured.
type StatsService struct {
	db    *gorm.DB
	cache statsCache
	ttl   time.Duration
	clock
}

// NewStatsService builds the service. rdb may be nil.
func NewStatsService(db *gorm.DB, rdb *redis.Client, ttl time.Duration, loc *time.Location) *StatsService {
	s := &StatsService{db: db, ttl: ttl, clock: newClock(loc)}
	if rdb != nil {
		s.cache = redisStatsCache{rdb: rdb}
	}
	return s
}

// Daily counts attendance per status on date, optionally for one class.
func (s *StatsService) Daily(ctx context.Context, date string, classID *uint) (*DailyStats, error) {
	if date == "" {
		date = s.today()
	}
	if _, err := utils.ParseDate(date); err != nil {
		return nil, invalid("%s", err.Error())
	}

	key := fmt.Sprintf("%sdaily:%s:%s", statsKeyPrefix, date, scopeKey(classID))
	var cached DailyStats
	if s.getCached(ctx, key, &cached) {
		return &cached, nil
	}

	db := s.db.WithContext(ctx)
	total, err := countStudents(db, classID)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Status string
		Total  int64
	}
	query := db.Model(&models.Attendance{}).Select("status, COUNT(*) AS total").Where("date = ?", date)
	if classID != nil {
		query = query.Where("class_id = ?", *classID)
	}
	if err := query.Group("status").Scan(&rows).Error; err != nil {
		return nil, internal("daily stats", err)
	}

	stats := &DailyStats{Date: date, ClassID: classID, TotalStudents: total, Counts: emptyCounts()}
	for _, r := range rows {
		stats.Counts[r.Status] = r.Total
		stats.Recorded += r.Total
	}
	stats.NotRecorded = total - stats.Recorded
	if stats.NotRecorded < 0 {
		stats.NotRecorded = 0
	}
	stats.AttendanceRate = rate(stats.Counts, total)

	s.setCached(ctx, key, stats)
	return stats, nil
}

// Monthly aggregates a calendar month with a per-day breakdown.
func (s *StatsService) Monthly(ctx context.Context, year, month int, classID *uint) (*MonthlyStats, error) {
	first, last, err := utils.MonthRange(year, month)
	if err != nil {
		return nil, invalid("%s", err.Error())
	}

	key := fmt.Sprintf("%smonthly:%04d-%02d:%s", statsKeyPrefix, year, month, scopeKey(classID))
	var cached MonthlyStats
	if s.getCached(ctx, key, &cached) {
		return &cached, nil
	}

	db := s.db.WithContext(ctx)
	total, err := countStudents(db, classID)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Date   string
		Status string
		Total  int64
	}
	query := db.Model(&models.Attendance{}).
		Select("date, status, COUNT(*) AS total").
		Where("date BETWEEN ? AND ?", first, last)
	if classID != nil {
		query = query.Where("class_id = ?", *classID)
	}
	if err := query.Group("date, status").Order("date ASC").Scan(&rows).Error; err != nil {
		return nil, internal("monthly stats", err)
	}

	stats := &MonthlyStats{
		Year:          year,
		Month:         month,
		ClassID:       classID,
		TotalStudents: total,
		Counts:        emptyCounts(),
		Days:          []DayCount{},
	}
	index := map[string]int{}
	for _, r := range rows {
		i, ok := index[r.Date]
		if !ok {
			stats.Days = append(stats.Days, DayCount{Date: r.Date, Counts: emptyCounts()})
			i = len(stats.Days) - 1
			index[r.Date] = i
		}
		stats.Days[i].Counts[r.Status] += r.Total
		stats.Days[i].Total += r.Total
		stats.Counts[r.Status] += r.Total
		stats.Recorded += r.Total
	}
	if stats.Recorded > 0 {
		stats.AttendanceRate = rate(stats.Counts, stats.Recorded)
	}

	s.setCached(ctx, key, stats)
	return stats, nil
}

func (s *StatsService) Admin(ctx context.Context) (*AdminDashboard, error) {
	db := s.db.WithContext(ctx)
	out := &AdminDashboard{}
	counts := []struct {
		model interface{}
		dest  *int64
	}{
		{&models.Student{}, &out.TotalStudents},
		{&models.Teacher{}, &out.TotalTeachers},
		{&models.Class{}, &out.TotalClasses},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Count(c.dest).Error; err != nil {
			return nil, internal("count totals", err)
		}
	}
	if err := db.Model(&models.LeaveRequest{}).Where("status = ?", models.LeavePending).Count(&out.PendingLeaves).Error; err != nil {
		return nil, internal("count pending leave", err)
	}
	today, err := s.Daily(ctx, s.today(), nil)
	if err != nil {
		return nil, err
	}
	out.Today = today

	err = db.Preload("Student.Class").Where("status = ?", models.LeavePending).
		Order("created_at DESC").Limit(5).Find(&out.RecentLeaves).Error
	if err != nil {
		return nil, internal("recent leave", err)
	}
	return out, nil
}

// Teacher returns the dashboard of a homeroom teacher. Teachers without a
// class get an empty dashboard.
func (s *StatsService) Teacher(ctx context.Context, actor Actor) (*TeacherDashboard, error) {
	if !actor.IsTeacher() {
		return nil, forbidden("teacher dashboard is only available to teachers")
	}
	db := s.db.WithContext(ctx)
	out := &TeacherDashboard{PendingLeaves: []models.LeaveRequest{}}
	class, err := homeroomOf(db, actor.TeacherID)
	if err != nil {
		return nil, err
	}
	if class == nil {
		return out, nil
	}
	if err := db.Model(&models.Student{}).Where("class_id = ?", class.ID).Count(&class.StudentCount).Error; err != nil {
		return nil, internal("count class students", err)
	}
	out.Homeroom = class

	classID := class.ID
	if out.Today, err = s.Daily(ctx, s.today(), &classID); err != nil {
		return nil, err
	}
	err = db.Preload("Student").
		Joins("JOIN students ON students.id = leave_requests.student_id").
		Where("students.class_id = ? AND leave_requests.status = ?", class.ID, models.LeavePending).
		Order("leave_requests.created_at ASC").
		Find(&out.PendingLeaves).Error
	if err != nil {
		return nil, internal("pending class leave", err)
	}
	return out, nil
}

func (s *StatsService) Student(ctx context.Context, actor Actor) (*StudentDashboard, error) {
	if !actor.IsStudent() || actor.StudentID == 0 {
		return nil, forbidden("student dashboard is only available to students")
	}
	db := s.db.WithContext(ctx)
	today := s.today()
	out := &StudentDashboard{Month: emptyCounts()}

	var todayRow models.Attendance
	err := db.Where("student_id = ? AND date = ?", actor.StudentID, today).First(&todayRow).Error
	switch {
	case err == nil:
		out.Today = &todayRow
	case !isNotFound(err):
		return nil, internal("today attendance", err)
	}

	var rows []struct {
		Status string
		Total  int64
	}
	monthStart := today[:8] + "01"
	err = db.Model(&models.Attendance{}).
		Select("status, COUNT(*) AS total").
		Where("student_id = ? AND date BETWEEN ? AND ?", actor.StudentID, monthStart, today).
		Group("status").Scan(&rows).Error
	if err != nil {
		return nil, internal("student month summary", err)
	}
	for _, r := range rows {
		out.Month[r.Status] = r.Total
	}

	if err := db.Where("student_id = ?", actor.StudentID).Order("date DESC").Limit(10).Find(&out.RecentAttendance).Error; err != nil {
		return nil, internal("recent attendance", err)
	}
	if err := db.Where("student_id = ?", actor.StudentID).Order("created_at DESC").Limit(5).Find(&out.RecentLeaves).Error; err != nil {
		return nil, internal("recent leave", err)
	}
	return out, nil
}

// Invalidate drops cached daily and monthly stats touching dates.
func (s *StatsService) Invalidate(ctx context.Context, dates ...string) {
	if s == nil || s.cache == nil || len(dates) == 0 {
		return
	}
	months := map[string]bool{}
	var patterns []string
	for _, d := range dates {
		if len(d) < 7 {
			continue
		}
		patterns = append(patterns, fmt.Sprintf("%sdaily:%s:*", statsKeyPrefix, d))
		if !months[d[:7]] {
			months[d[:7]] = true
			patterns = append(patterns, fmt.Sprintf("%smonthly:%s:*", statsKeyPrefix, d[:7]))
		}
	}
	s.dropMatching(ctx, patterns...)
}

// InvalidateAll drops every cached stat. Roster changes move
// total_students for every date.
func (s *StatsService) InvalidateAll(ctx context.Context) {
	if s == nil || s.cache == nil {
		return
	}
	s.dropMatching(ctx, statsKeyPrefix+"*")
}

func (s *StatsService) dropMatching(ctx context.Context, patterns ...string) {
	for _, pattern := range patterns {
		if err := s.cache.DeleteMatching(ctx, pattern); err != nil {
			logrus.WithError(err).WithField("pattern", pattern).Warn("Failed to invalidate stats cache")
		}
	}
}

func (s *StatsService) getCached(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil || s.ttl <= 0 {
		return false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if err != redis.Nil {
			logrus.WithError(err).WithField("key", key).Warn("Stats cache read failed")
		}
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

func (s *StatsService) setCached(ctx context.Context, key string, value interface{}) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Stats cache write failed")
	}
}

func countStudents(db *gorm.DB, classID *uint) (int64, error) {
	var total int64
	query := db.Model(&models.Student{})
	if classID != nil {
		query = query.Where("class_id = ?", *classID)
	}
	if err := query.Count(&total).Error; err != nil {
		return 0, internal("count students", err)
	}
	return total, nil
}

func emptyCounts() map[string]int64 {
	counts := make(map[string]int64, len(models.AttendanceStatuses))
	for _, st := range models.AttendanceStatuses {
		counts[st] = 0
	}
	return counts
}

// rate is (present + late) / total as a percentage with two decimals.
func rate(counts map[string]int64, total int64) float64 {
	if total <= 0 {
		return 0
	}
	attended := counts[models.AttendancePresent] + counts[models.AttendanceLate]
	return math.Round(float64(attended)/float64(total)*10000) / 100
}

func scopeKey(classID *uint) string {
	if classID == nil {
		return "all"
	}
	return fmt.Sprintf("class-%d", *classID)
}

package services

import (
	"context"
	"strings"
	"time"

	"sekolah_absenku/metrics"
	"sekolah_absenku/models"
	"sekolah_absenku/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AttendanceInput records one student's attendance.
type AttendanceInput struct {
	StudentID uint   `json:"student_id" validate:"required"`
	Date      string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Status    string `json:"status" validate:"omitempty,oneof=present late sick permission absent"`
	CheckIn   string `json:"check_in" validate:"omitempty,datetime=15:04"`
	CheckOut  string `json:"check_out" validate:"omitempty,datetime=15:04"`
	Notes     string `json:"notes" validate:"max=1000"`
}

// AttendanceUpdate changes fields of an existing record; nil fields are kept.
type AttendanceUpdate struct {
	Status   *string `json:"status" validate:"omitempty,oneof=present late sick permission absent"`
	CheckIn  *string `json:"check_in" validate:"omitempty,datetime=15:04"`
	CheckOut *string `json:"check_out" validate:"omitempty,datetime=15:04"`
	Notes    *string `json:"notes" validate:"omitempty,max=1000"`
}

// BulkAttendanceInput marks a whole class roster for one date.
type BulkAttendanceInput struct {
	ClassID uint              `json:"class_id" validate:"required"`
	Date    string            `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Entries []BulkAttendEntry `json:"entries" validate:"required,min=1,dive"`
}

type BulkAttendEntry struct {
	StudentID uint   `json:"student_id" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=present late sick permission absent"`
	CheckIn   string `json:"check_in" validate:"omitempty,datetime=15:04"`
	Notes     string `json:"notes" validate:"max=1000"`
}

// BulkResult reports how many rows a bulk call touched.
type BulkResult struct {
	Date    string `json:"date"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
}

// AttendanceFilter narrows List.
type AttendanceFilter struct {
	Date      string
	From      string
	To        string
	ClassID   uint
	StudentID uint
	Status    string
}

type AttendanceService struct {
	db            *gorm.DB
	stats         *StatsService
	lateThreshold string
	clock
}

// NewAttendanceService builds the service. stats may be nil.
func NewAttendanceService(db *gorm.DB, stats *StatsService, loc *time.Location, lateThreshold string) *AttendanceService {
	return &AttendanceService{
		db:            db,
		stats:         stats,
		lateThreshold: lateThreshold,
		clock:         newClock(loc),
	}
}

// Create records attendance for one student on one date.
func (s *AttendanceService) Create(ctx context.Context, actor Actor, in AttendanceInput) (*models.Attendance, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Date == "" {
		in.Date = s.today()
	}
	if in.Status == "" {
		in.Status = s.statusForCheckIn(in.CheckIn)
	}

	db := s.db.WithContext(ctx)
	var student models.Student
	if err := db.First(&student, in.StudentID).Error; err != nil {
		if isNotFound(err) {
			return nil, invalid("student not found")
		}
		return nil, internal("load student", err)
	}
	if err := s.authorizeClass(db, actor, student.ClassID); err != nil {
		return nil, err
	}
	if err := s.ensureNotRecorded(db, student.ID, in.Date); err != nil {
		return nil, err
	}

	record := models.Attendance{
		StudentID: student.ID,
		ClassID:   student.ClassID,
		TeacherID: actorTeacherID(actor),
		Date:      in.Date,
		Status:    in.Status,
		CheckIn:   in.CheckIn,
		CheckOut:  in.CheckOut,
		Notes:     in.Notes,
	}
	if err := db.Create(&record).Error; err != nil {
		return nil, internal("create attendance", err)
	}
	metrics.AttendanceRecorded(record.Status, "manual")
	s.invalidate(ctx, record.Date)
	return s.Get(ctx, actor, record.ID)
}

// BulkCreate marks a class roster in one transaction. Existing rows for
// the date are updated; students outside the class are rejected.
func (s *AttendanceService) BulkCreate(ctx context.Context, actor Actor, in BulkAttendanceInput) (*BulkResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Date == "" {
		in.Date = s.today()
	}

	db := s.db.WithContext(ctx)
	var class models.Class
	if err := db.First(&class, in.ClassID).Error; err != nil {
		if isNotFound(err) {
			return nil, invalid("class not found")
		}
		return nil, internal("load class", err)
	}
	if err := s.authorizeClass(db, actor, class.ID); err != nil {
		return nil, err
	}

	var roster []uint
	if err := db.Model(&models.Student{}).Where("class_id = ?", class.ID).Pluck("id", &roster).Error; err != nil {
		return nil, internal("load class roster", err)
	}
	inClass := make(map[uint]bool, len(roster))
	for _, id := range roster {
		inClass[id] = true
	}
	seen := make(map[uint]bool, len(in.Entries))
	for _, e := range in.Entries {
		if !inClass[e.StudentID] {
			return nil, invalid("student %d is not in class %s", e.StudentID, class.Name)
		}
		if seen[e.StudentID] {
			return nil, invalid("student %d listed more than once", e.StudentID)
		}
		seen[e.StudentID] = true
	}

	result := &BulkResult{Date: in.Date}
	teacherID := actorTeacherID(actor)
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, e := range in.Entries {
			var existing models.Attendance
			err := tx.Where("student_id = ? AND date = ?", e.StudentID, in.Date).First(&existing).Error
			switch {
			case err == nil:
				updates := map[string]interface{}{
					"status":     e.Status,
					"notes":      e.Notes,
					"teacher_id": teacherID,
				}
				if e.CheckIn != "" {
					updates["check_in"] = e.CheckIn
				}
				if err := tx.Model(&existing).Updates(updates).Error; err != nil {
					return err
				}
				result.Updated++
			case isNotFound(err):
				record := models.Attendance{
					StudentID: e.StudentID,
					ClassID:   class.ID,
					TeacherID: teacherID,
					Date:      in.Date,
					Status:    e.Status,
					CheckIn:   e.CheckIn,
					Notes:     e.Notes,
				}
				if err := tx.Create(&record).Error; err != nil {
					return err
				}
				result.Created++
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, internal("bulk attendance", err)
	}
	for _, e := range in.Entries {
		metrics.AttendanceRecorded(e.Status, "bulk")
	}
	s.invalidate(ctx, in.Date)
	logrus.WithFields(logrus.Fields{
		"class_id": class.ID,
		"date":     in.Date,
		"created":  result.Created,
		"updated":  result.Updated,
	}).Info("Class attendance recorded")
	return result, nil
}

// CheckIn records the calling student's arrival today.
func (s *AttendanceService) CheckIn(ctx context.Context, actor Actor) (*models.Attendance, error) {
	if !actor.IsStudent() || actor.StudentID == 0 {
		return nil, forbidden("only students can check in")
	}
	db := s.db.WithContext(ctx)
	var student models.Student
	if err := db.First(&student, actor.StudentID).Error; err != nil {
		if isNotFound(err) {
			return nil, notFound("student not found")
		}
		return nil, internal("load student", err)
	}

	date := s.today()
	var existing models.Attendance
	err := db.Where("student_id = ? AND date = ?", student.ID, date).First(&existing).Error
	if err == nil {
		if existing.CheckIn != "" {
			return nil, conflict("already checked in today")
		}
		return nil, conflict("attendance already recorded for this date")
	}
	if !isNotFound(err) {
		return nil, internal("load attendance", err)
	}

	at := s.timeOfDay()
	record := models.Attendance{
		StudentID: student.ID,
		ClassID:   student.ClassID,
		Date:      date,
		Status:    s.statusForCheckIn(at),
		CheckIn:   at,
	}
	if err := db.Create(&record).Error; err != nil {
		return nil, internal("check in", err)
	}
	metrics.AttendanceRecorded(record.Status, "checkin")
	s.invalidate(ctx, date)
	return &record, nil
}

// CheckOut records the calling student's departure today.
func (s *AttendanceService) CheckOut(ctx context.Context, actor Actor) (*models.Attendance, error) {
	if !actor.IsStudent() || actor.StudentID == 0 {
		return nil, forbidden("only students can check out")
	}
	db := s.db.WithContext(ctx)
	var record models.Attendance
	err := db.Where("student_id = ? AND date = ?", actor.StudentID, s.today()).First(&record).Error
	if err != nil {
		if isNotFound(err) {
			return nil, conflict("no check-in recorded today")
		}
		return nil, internal("load attendance", err)
	}
	if record.CheckIn == "" {
		return nil, conflict("no check-in recorded today")
	}
	if record.CheckOut != "" {
		return nil, conflict("already checked out today")
	}
	record.CheckOut = s.timeOfDay()
	if err := db.Model(&record).Update("check_out", record.CheckOut).Error; err != nil {
		return nil, internal("check out", err)
	}
	return &record, nil
}

func (s *AttendanceService) Update(ctx context.Context, actor Actor, id uint, in AttendanceUpdate) (*models.Attendance, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	record, err := s.load(db, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeClass(db, actor, record.ClassID); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.Status != nil {
		updates["status"] = *in.Status
	}
	if in.CheckIn != nil {
		updates["check_in"] = *in.CheckIn
	}
	if in.CheckOut != nil {
		updates["check_out"] = *in.CheckOut
	}
	if in.Notes != nil {
		updates["notes"] = *in.Notes
	}
	if len(updates) == 0 {
		return nil, invalid("nothing to update")
	}
	if err := db.Model(record).Updates(updates).Error; err != nil {
		return nil, internal("update attendance", err)
	}
	if in.Status != nil {
		metrics.AttendanceRecorded(*in.Status, "manual")
	}
	s.invalidate(ctx, record.Date)
	return s.Get(ctx, actor, id)
}

func (s *AttendanceService) Delete(ctx context.Context, actor Actor, id uint) error {
	db := s.db.WithContext(ctx)
	record, err := s.load(db, id)
	if err != nil {
		return err
	}
	if err := s.authorizeClass(db, actor, record.ClassID); err != nil {
		return err
	}
	if err := db.Delete(record).Error; err != nil {
		return internal("delete attendance", err)
	}
	s.invalidate(ctx, record.Date)
	return nil
}

// Get returns one record. Students may only read their own and teachers
// only their homeroom class.
func (s *AttendanceService) Get(ctx context.Context, actor Actor, id uint) (*models.Attendance, error) {
	db := s.db.WithContext(ctx)
	var record models.Attendance
	err := db.Preload("Student").Preload("Class").Preload("Teacher").
		First(&record, id).Error
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("attendance not found")
		}
		return nil, internal("get attendance", err)
	}
	if actor.IsStudent() {
		if record.StudentID != actor.StudentID {
			return nil, forbidden("students may only view their own attendance")
		}
		return &record, nil
	}
	if err := s.authorizeClass(db, actor, record.ClassID); err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns records newest first. Students are scoped to themselves and
// teachers to their homeroom class.
func (s *AttendanceService) List(ctx context.Context, actor Actor, f AttendanceFilter, page utils.Pagination) ([]models.Attendance, int64, error) {
	db := s.db.WithContext(ctx)
	switch {
	case actor.IsStudent():
		f.StudentID = actor.StudentID
	case actor.IsTeacher():
		class, err := homeroomOf(db, actor.TeacherID)
		if err != nil {
			return nil, 0, err
		}
		if class == nil {
			return []models.Attendance{}, 0, nil
		}
		if f.ClassID != 0 && f.ClassID != class.ID {
			return nil, 0, forbidden("teachers may only view attendance of their homeroom class")
		}
		f.ClassID = class.ID
	}
	query := db.Model(&models.Attendance{})
	query, err := applyAttendanceFilter(query, f)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, internal("count attendance", err)
	}
	var records []models.Attendance
	err = query.Preload("Student").Preload("Class").
		Order("date DESC, id DESC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&records).Error
	if err != nil {
		return nil, 0, internal("list attendance", err)
	}
	return records, total, nil
}

// MarkMissingAbsent inserts an absent row for every student without a
// record on date. Weekends are skipped.
func (s *AttendanceService) MarkMissingAbsent(ctx context.Context, date string) (int, error) {
	if _, err := utils.ParseDate(date); err != nil {
		return 0, invalid("%s", err.Error())
	}
	if utils.IsWeekend(date) {
		return 0, nil
	}

	db := s.db.WithContext(ctx)
	var students []models.Student
	err := db.Where("id NOT IN (?)", db.Model(&models.Attendance{}).Select("student_id").Where("date = ?", date)).
		Find(&students).Error
	if err != nil {
		return 0, internal("find unrecorded students", err)
	}
	if len(students) == 0 {
		return 0, nil
	}

	records := make([]models.Attendance, 0, len(students))
	for _, st := range students {
		records = append(records, models.Attendance{
			StudentID: st.ID,
			ClassID:   st.ClassID,
			Date:      date,
			Status:    models.AttendanceAbsent,
			Notes:     "marked absent automatically",
		})
	}
	if err := db.CreateInBatches(&records, 200).Error; err != nil {
		return 0, internal("mark absent", err)
	}
	for range records {
		metrics.AttendanceRecorded(models.AttendanceAbsent, "auto")
	}
	s.invalidate(ctx, date)
	return len(records), nil
}

// MarkTodayAbsent is the scheduled variant of MarkMissingAbsent.
func (s *AttendanceService) MarkTodayAbsent(ctx context.Context) (int, error) {
	return s.MarkMissingAbsent(ctx, s.today())
}

// statusForCheckIn derives present or late from an HH:MM check-in time.
// Both strings are zero-padded so lexical order equals time order.
func (s *AttendanceService) statusForCheckIn(checkIn string) string {
	if checkIn != "" && s.lateThreshold != "" && checkIn > s.lateThreshold {
		return models.AttendanceLate
	}
	return models.AttendancePresent
}

func (s *AttendanceService) load(db *gorm.DB, id uint) (*models.Attendance, error) {
	var record models.Attendance
	if err := db.First(&record, id).Error; err != nil {
		if isNotFound(err) {
			return nil, notFound("attendance not found")
		}
		return nil, internal("load attendance", err)
	}
	return &record, nil
}

func (s *AttendanceService) ensureNotRecorded(db *gorm.DB, studentID uint, date string) error {
	var count int64
	if err := db.Model(&models.Attendance{}).Where("student_id = ? AND date = ?", studentID, date).Count(&count).Error; err != nil {
		return internal("check attendance", err)
	}
	if count > 0 {
		return conflict("attendance already recorded for this date")
	}
	return nil
}

// authorizeClass allows admins everywhere and teachers only in their
// homeroom class.
func (s *AttendanceService) authorizeClass(db *gorm.DB, actor Actor, classID uint) error {
	switch {
	case actor.IsAdmin():
		return nil
	case actor.IsTeacher():
		class, err := homeroomOf(db, actor.TeacherID)
		if err != nil {
			return err
		}
		if class == nil || class.ID != classID {
			return forbidden("teachers may only manage attendance of their homeroom class")
		}
		return nil
	default:
		return forbidden("only admins and teachers may manage attendance")
	}
}

func (s *AttendanceService) invalidate(ctx context.Context, dates ...string) {
	if s.stats != nil {
		s.stats.Invalidate(ctx, dates...)
	}
}

func actorTeacherID(actor Actor) *uint {
	if actor.IsTeacher() && actor.TeacherID != 0 {
		id := actor.TeacherID
		return &id
	}
	return nil
}

func applyAttendanceFilter(query *gorm.DB, f AttendanceFilter) (*gorm.DB, error) {
	for _, d := range []string{f.Date, f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := utils.ParseDate(d); err != nil {
			return nil, invalid("%s", err.Error())
		}
	}
	if f.Status != "" && !utils.IsValidAttendanceStatus(f.Status) {
		return nil, invalid("status must be one of [%s]", strings.Join(models.AttendanceStatuses, " "))
	}
	if f.Date != "" {
		query = query.Where("date = ?", f.Date)
	}
	if f.From != "" {
		query = query.Where("date >= ?", f.From)
	}
	if f.To != "" {
		query = query.Where("date <= ?", f.To)
	}
	if f.ClassID != 0 {
		query = query.Where("class_id = ?", f.ClassID)
	}
	if f.StudentID != 0 {
		query = query.Where("student_id = ?", f.StudentID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	return query, nil
}

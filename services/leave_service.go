package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sekolah_absenku/metrics"
	"sekolah_absenku/models"
	"sekolah_absenku/storage"
	"sekolah_absenku/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Notifier delivers in-app notifications to users.
type Notifier interface {
	Notify(ctx context.Context, userIDs []uint, title, message, kind string) error
}

// LeaveInput is a leave request submission. StudentID is only honoured
// when an admin submits on a student's behalf.
type LeaveInput struct {
	StudentID     uint   `json:"student_id"`
	Type          string `json:"type" validate:"required,oneof=sick permission"`
	StartDate     string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate       string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Reason        string `json:"reason" validate:"required,min=3,max=1000"`
	AttachmentURL string `json:"attachment_url" validate:"omitempty,url,max=500"`
}

// LeaveFilter narrows List.
type LeaveFilter struct {
	Status    string
	Type      string
	StudentID uint
	ClassID   uint
}

// ApprovalResult is returned by Approve.
type ApprovalResult struct {
	Leave              *models.LeaveRequest `json:"leave_request"`
	AttendanceCreated  int                  `json:"attendance_created"`
	AttendanceReplaced int                  `json:"attendance_updated"`
}

// maxLeaveDays bounds one request; approval writes a row per day.
const maxLeaveDays = 366

type LeaveService struct {
	db       *gorm.DB
	stats    *StatsService
	notifier Notifier
	store    storage.Store
	clock
}

// NewLeaveService builds the service. stats, notifier and store may be nil.
func NewLeaveService(db *gorm.DB, stats *StatsService, notifier Notifier, store storage.Store, loc *time.Location) *LeaveService {
	return &LeaveService{db: db, stats: stats, notifier: notifier, store: store, clock: newClock(loc)}
}

// Submit files a pending leave request and tells the homeroom teacher.
func (s *LeaveService) Submit(ctx context.Context, actor Actor, in LeaveInput) (*models.LeaveRequest, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	switch {
	case actor.IsStudent():
		in.StudentID = actor.StudentID
	case actor.IsAdmin():
		if in.StudentID == 0 {
			return nil, invalid("student_id is required")
		}
	default:
		return nil, forbidden("only students can submit leave requests")
	}
	if in.EndDate < in.StartDate {
		return nil, invalid("end_date must not be before start_date")
	}
	if days, err := spanDays(in.StartDate, in.EndDate); err != nil {
		return nil, invalid("%s", err.Error())
	} else if days > maxLeaveDays {
		return nil, invalid("leave request may span at most %d days", maxLeaveDays)
	}

	db := s.db.WithContext(ctx)
	var student models.Student
	if err := db.First(&student, in.StudentID).Error; err != nil {
		if isNotFound(err) {
			return nil, invalid("student not found")
		}
		return nil, internal("load student", err)
	}

	var overlapping int64
	err := db.Model(&models.LeaveRequest{}).
		Where("student_id = ? AND status IN ? AND start_date <= ? AND end_date >= ?",
			student.ID, []string{models.LeavePending, models.LeaveApproved}, in.EndDate, in.StartDate).
		Count(&overlapping).Error
	if err != nil {
		return nil, internal("check overlapping leave", err)
	}
	if overlapping > 0 {
		return nil, conflict("overlapping leave request exists")
	}

	leave := models.LeaveRequest{
		StudentID:     student.ID,
		Type:          in.Type,
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		Reason:        in.Reason,
		AttachmentURL: in.AttachmentURL,
		Status:        models.LeavePending,
	}
	if err := db.Create(&leave).Error; err != nil {
		return nil, internal("create leave request", err)
	}

	class, err := s.classWithHomeroom(db, student.ClassID)
	if err == nil && class != nil && class.HomeroomTeacher != nil {
		s.notify(ctx, []uint{class.HomeroomTeacher.UserID},
			"New leave request",
			fmt.Sprintf("%s requested %s leave %s", student.Name, leave.Type, dateSpan(leave.StartDate, leave.EndDate)),
			"info")
	}
	leave.Student = &student
	return &leave, nil
}

// Approve accepts a pending request and writes one attendance row per
// date in range with the leave type as status, replacing existing rows.
func (s *LeaveService) Approve(ctx context.Context, actor Actor, id uint, note string) (*ApprovalResult, error) {
	db := s.db.WithContext(ctx)
	leave, err := s.loadForReview(db, actor, id)
	if err != nil {
		return nil, err
	}
	dates, err := utils.DatesBetween(leave.StartDate, leave.EndDate)
	if err != nil {
		return nil, invalid("%s", err.Error())
	}

	result := &ApprovalResult{}
	now := s.now()
	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.LeaveRequest{}).
			Where("id = ? AND status = ?", leave.ID, models.LeavePending).
			Updates(map[string]interface{}{
				"status":      models.LeaveApproved,
				"reviewed_by": actor.UserID,
				"reviewed_at": now,
				"review_note": strings.TrimSpace(note),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflict("leave request is no longer pending")
		}

		notes := fmt.Sprintf("%s leave: %s", leave.Type, leave.Reason)
		leaveID := leave.ID
		for _, date := range dates {
			var existing models.Attendance
			err := tx.Where("student_id = ? AND date = ?", leave.StudentID, date).First(&existing).Error
			switch {
			case err == nil:
				err = tx.Model(&existing).Updates(map[string]interface{}{
					"status":           leave.Type,
					"notes":            notes,
					"leave_request_id": leaveID,
				}).Error
				if err != nil {
					return err
				}
				result.AttendanceReplaced++
			case isNotFound(err):
				record := models.Attendance{
					StudentID:      leave.StudentID,
					ClassID:        leave.Student.ClassID,
					TeacherID:      actorTeacherID(actor),
					Date:           date,
					Status:         leave.Type,
					Notes:          notes,
					LeaveRequestID: &leaveID,
				}
				if err := tx.Create(&record).Error; err != nil {
					return err
				}
				result.AttendanceCreated++
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		var svcErr *Error
		if errors.As(err, &svcErr) {
			return nil, err
		}
		return nil, internal("approve leave request", err)
	}

	metrics.LeaveDecided(models.LeaveApproved)
	for range dates {
		metrics.AttendanceRecorded(leave.Type, "leave")
	}
	if s.stats != nil {
		s.stats.Invalidate(ctx, dates...)
	}
	s.notify(ctx, []uint{leave.Student.UserID},
		"Leave request approved",
		fmt.Sprintf("Your %s leave %s was approved", leave.Type, dateSpan(leave.StartDate, leave.EndDate)),
		"success")
	logrus.WithFields(logrus.Fields{
		"leave_id":    leave.ID,
		"student_id":  leave.StudentID,
		"reviewer_id": actor.UserID,
		"days":        len(dates),
	}).Info("Leave request approved")

	if result.Leave, err = s.Get(ctx, actor, leave.ID); err != nil {
		return nil, err
	}
	return result, nil
}

// Reject declines a pending request. A note is required.
func (s *LeaveService) Reject(ctx context.Context, actor Actor, id uint, note string) (*models.LeaveRequest, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, invalid("a note is required to reject a leave request")
	}
	db := s.db.WithContext(ctx)
	leave, err := s.loadForReview(db, actor, id)
	if err != nil {
		return nil, err
	}

	res := db.Model(&models.LeaveRequest{}).
		Where("id = ? AND status = ?", leave.ID, models.LeavePending).
		Updates(map[string]interface{}{
			"status":      models.LeaveRejected,
			"reviewed_by": actor.UserID,
			"reviewed_at": s.now(),
			"review_note": note,
		})
	if res.Error != nil {
		return nil, internal("reject leave request", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, conflict("leave request is no longer pending")
	}

	metrics.LeaveDecided(models.LeaveRejected)
	s.notify(ctx, []uint{leave.Student.UserID},
		"Leave request rejected",
		fmt.Sprintf("Your %s leave %s was rejected: %s", leave.Type, dateSpan(leave.StartDate, leave.EndDate), note),
		"warning")
	return s.Get(ctx, actor, leave.ID)
}

// Cancel withdraws the caller's own pending request.
func (s *LeaveService) Cancel(ctx context.Context, actor Actor, id uint) error {
	db := s.db.WithContext(ctx)
	var leave models.LeaveRequest
	if err := db.First(&leave, id).Error; err != nil {
		if isNotFound(err) {
			return notFound("leave request not found")
		}
		return internal("load leave request", err)
	}
	if !actor.IsStudent() || leave.StudentID != actor.StudentID {
		return forbidden("only the requesting student can cancel a leave request")
	}
	if leave.Status != models.LeavePending {
		return conflict("only pending leave requests can be cancelled")
	}
	if err := db.Delete(&leave).Error; err != nil {
		return internal("cancel leave request", err)
	}
	removeAttachment(ctx, s.store, leave.AttachmentURL)
	return nil
}

func (s *LeaveService) Get(ctx context.Context, actor Actor, id uint) (*models.LeaveRequest, error) {
	var leave models.LeaveRequest
	err := s.db.WithContext(ctx).Preload("Student.Class").Preload("Reviewer").First(&leave, id).Error
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("leave request not found")
		}
		return nil, internal("get leave request", err)
	}
	if actor.IsStudent() && leave.StudentID != actor.StudentID {
		return nil, forbidden("students may only view their own leave requests")
	}
	return &leave, nil
}

// List returns requests newest first. Students only see their own.
func (s *LeaveService) List(ctx context.Context, actor Actor, f LeaveFilter, page utils.Pagination) ([]models.LeaveRequest, int64, error) {
	if actor.IsStudent() {
		f.StudentID = actor.StudentID
	}
	query := s.db.WithContext(ctx).Model(&models.LeaveRequest{})
	if f.Status != "" {
		switch f.Status {
		case models.LeavePending, models.LeaveApproved, models.LeaveRejected:
			query = query.Where("leave_requests.status = ?", f.Status)
		default:
			return nil, 0, invalid("status must be one of [pending approved rejected]")
		}
	}
	if f.Type != "" {
		if !utils.IsValidLeaveType(f.Type) {
			return nil, 0, invalid("type must be one of [sick permission]")
		}
		query = query.Where("leave_requests.type = ?", f.Type)
	}
	if f.StudentID != 0 {
		query = query.Where("leave_requests.student_id = ?", f.StudentID)
	}
	if f.ClassID != 0 {
		query = query.Where("leave_requests.student_id IN (?)",
			s.db.Model(&models.Student{}).Select("id").Where("class_id = ?", f.ClassID))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, internal("count leave requests", err)
	}
	var leaves []models.LeaveRequest
	err := query.Preload("Student.Class").
		Order("leave_requests.created_at DESC, leave_requests.id DESC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&leaves).Error
	if err != nil {
		return nil, 0, internal("list leave requests", err)
	}
	return leaves, total, nil
}

// loadForReview loads a pending request the actor may decide on. Teachers
// may only review requests of their homeroom class.
func (s *LeaveService) loadForReview(db *gorm.DB, actor Actor, id uint) (*models.LeaveRequest, error) {
	if !actor.IsAdmin() && !actor.IsTeacher() {
		return nil, forbidden("only admins and teachers can review leave requests")
	}
	var leave models.LeaveRequest
	if err := db.Preload("Student").First(&leave, id).Error; err != nil {
		if isNotFound(err) {
			return nil, notFound("leave request not found")
		}
		return nil, internal("load leave request", err)
	}
	if leave.Student == nil {
		return nil, internal("load leave request", fmt.Errorf("leave request %d has no student", id))
	}
	if actor.IsTeacher() {
		class, err := homeroomOf(db, actor.TeacherID)
		if err != nil {
			return nil, err
		}
		if class == nil || class.ID != leave.Student.ClassID {
			return nil, forbidden("teachers may only review leave requests of their homeroom class")
		}
	}
	if leave.Status != models.LeavePending {
		return nil, conflict("leave request already %s", leave.Status)
	}
	return &leave, nil
}

func (s *LeaveService) classWithHomeroom(db *gorm.DB, classID uint) (*models.Class, error) {
	var class models.Class
	if err := db.Preload("HomeroomTeacher").First(&class, classID).Error; err != nil {
		return nil, err
	}
	return &class, nil
}

func (s *LeaveService) notify(ctx context.Context, userIDs []uint, title, message, kind string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userIDs, title, message, kind); err != nil {
		logrus.WithError(err).WithField("title", title).Warn("Failed to send leave notification")
	}
}

func dateSpan(start, end string) string {
	if start == end {
		return "on " + start
	}
	return fmt.Sprintf("from %s to %s", start, end)
}

// spanDays counts the calendar days in [start, end].
func spanDays(start, end string) (int, error) {
	from, err := utils.ParseDate(start)
	if err != nil {
		return 0, err
	}
	to, err := utils.ParseDate(end)
	if err != nil {
		return 0, err
	}
	return int(to.Sub(from).Hours()/24) + 1, nil
}

// removeAttachment deletes an uploaded file once its leave request is gone.
func removeAttachment(ctx context.Context, store storage.Store, url string) {
	if store == nil || url == "" {
		return
	}
	key := store.KeyFor(url)
	if key == "" {
		return
	}
	if err := store.Delete(ctx, key); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Failed to remove leave attachment")
	}
}

package services

import (
	"context"
	"fmt"
	"time"

	"sekolah_absenku/models"
	"sekolah_absenku/utils"

	"gorm.io/gorm"
)

// AttendanceReminder nudges homeroom teachers whose class still has
// students without an attendance record today.
type AttendanceReminder struct {
	db       *gorm.DB
	notifier Notifier
	clock
}

func NewAttendanceReminder(db *gorm.DB, notifier Notifier, loc *time.Location) *AttendanceReminder {
	return &AttendanceReminder{db: db, notifier: notifier, clock: newClock(loc)}
}

// RemindHomeroomTeachers returns how many teachers were notified.
func (r *AttendanceReminder) RemindHomeroomTeachers(ctx context.Context) (int, error) {
	if r.notifier == nil {
		return 0, nil
	}
	today := r.today()
	if utils.IsWeekend(today) {
		return 0, nil
	}

	db := r.db.WithContext(ctx)
	var rows []struct {
		ClassName string
		UserID    uint
		Missing   int64
	}
	recorded := db.Model(&models.Attendance{}).Select("student_id").Where("date = ?", today)
	err := db.Table("classes").
		Select("classes.name AS class_name, teachers.user_id AS user_id, COUNT(students.id) AS missing").
		Joins("JOIN teachers ON teachers.id = classes.homeroom_teacher_id").
		Joins("JOIN students ON students.class_id = classes.id").
		Where("students.id NOT IN (?)", recorded).
		Group("classes.id, classes.name, teachers.user_id").
		Scan(&rows).Error
	if err != nil {
		return 0, internal("find classes missing attendance", err)
	}

	sent := 0
	for _, row := range rows {
		if row.Missing == 0 {
			continue
		}
		msg := fmt.Sprintf("%d students in %s have no attendance record for %s", row.Missing, row.ClassName, today)
		if err := r.notifier.Notify(ctx, []uint{row.UserID}, "Attendance reminder", msg, "warning"); err != nil {
			return sent, internal("send attendance reminder", err)
		}
		sent++
	}
	return sent, nil
}

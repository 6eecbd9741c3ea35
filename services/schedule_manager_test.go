package services

import (
	"context"
	"testing"
	"time"

	"sekolah_absenku/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReminderNotifiesClassesWithGaps(t *testing.T) {
	s := newSchool(t)
	seedAttendance(t, s, "2025-03-03", map[*models.Student]string{
		s.outsider: models.AttendancePresent,
	})
	notifier := &recordingNotifier{}
	reminder := NewAttendanceReminder(s.db, notifier, time.UTC)
	reminder.now = fixedClock("2025-03-03", "09:00")

	n, err := reminder.RemindHomeroomTeachers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, []uint{s.teacher.UserID}, notifier.sent[0].UserIDs)
	assert.Equal(t, "warning", notifier.sent[0].Kind)

	reminder.now = fixedClock("2025-03-09", "09:00")
	n, err = reminder.RemindHomeroomTeachers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "no reminders on Sunday")
}

func TestScheduleManagerJobs(t *testing.T) {
	s := newSchool(t)
	attendance := newAttendanceService(s, "2025-03-04", "16:00")
	logs := NewActivityLogService(s.db, nil, nil)

	sm := NewScheduleManager(time.UTC, logs, attendance, NewAttendanceReminder(s.db, nil, time.UTC), ScheduleOptions{
		AutoAbsentCron: "0 16 * * 1-5",
		LogArchiveDays: 30,
	})
	require.NoError(t, sm.Start())
	sm.Stop()

	sm.run("auto_absent", sm.markAbsent)
	var absent int64
	s.db.Model(&models.Attendance{}).Where("date = ? AND status = ?", "2025-03-04", models.AttendanceAbsent).Count(&absent)
	assert.EqualValues(t, 4, absent)

	assert.NoError(t, sm.archiveLogs(context.Background()), "no uploader configured")
	assert.NoError(t, sm.remind(context.Background()), "no notifier configured")

	bad := NewScheduleManager(time.UTC, logs, attendance, nil, ScheduleOptions{AutoAbsentCron: "not a spec"})
	assert.Error(t, bad.Start())
}

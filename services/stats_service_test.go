package services

import (
	"context"
	"testing"
	"time"

	"sekolah_absenku/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAttendance(t *testing.T, s *school, date string, statuses map[*models.Student]string) {
	t.Helper()
	for st, status := range statuses {
		require.NoError(t, s.db.Create(&models.Attendance{
			StudentID: st.ID, ClassID: st.ClassID, Date: date, Status: status,
		}).Error)
	}
}

func TestDailyStatsCountsMatchRows(t *testing.T) {
	s := newSchool(t)
	seedAttendance(t, s, "2025-03-03", map[*models.Student]string{
		s.students[0]: models.AttendancePresent,
		s.students[1]: models.AttendanceLate,
		s.students[2]: models.AttendanceSick,
		s.outsider:    models.AttendanceAbsent,
	})
	seedAttendance(t, s, "2025-03-04", map[*models.Student]string{
		s.students[0]: models.AttendancePresent,
	})

	svc := NewStatsService(s.db, nil, time.Minute, time.UTC)
	stats, err := svc.Daily(context.Background(), "2025-03-03", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.TotalStudents)
	assert.EqualValues(t, 4, stats.Recorded)
	assert.Zero(t, stats.NotRecorded)
	assert.EqualValues(t, 1, stats.Counts[models.AttendancePresent])
	assert.EqualValues(t, 1, stats.Counts[models.AttendanceLate])
	assert.EqualValues(t, 1, stats.Counts[models.AttendanceSick])
	assert.EqualValues(t, 1, stats.Counts[models.AttendanceAbsent])
	assert.EqualValues(t, 0, stats.Counts[models.AttendancePermission])
	assert.Equal(t, 50.0, stats.AttendanceRate)

	classID := s.class.ID
	stats, err = svc.Daily(context.Background(), "2025-03-04", &classID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalStudents)
	assert.EqualValues(t, 1, stats.Recorded)
	assert.EqualValues(t, 2, stats.NotRecorded)
	assert.Equal(t, 33.33, stats.AttendanceRate)

	_, err = svc.Daily(context.Background(), "2025-13-01", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMonthlyStatsBreakdown(t *testing.T) {
	s := newSchool(t)
	seedAttendance(t, s, "2025-03-03", map[*models.Student]string{
		s.students[0]: models.AttendancePresent,
		s.students[1]: models.AttendanceAbsent,
	})
	seedAttendance(t, s, "2025-03-04", map[*models.Student]string{
		s.students[0]: models.AttendanceLate,
		s.students[1]: models.AttendancePresent,
	})
	seedAttendance(t, s, "2025-04-01", map[*models.Student]string{
		s.students[0]: models.AttendanceAbsent,
	})

	svc := NewStatsService(s.db, nil, 0, time.UTC)
	stats, err := svc.Monthly(context.Background(), 2025, 3, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.Recorded)
	assert.Equal(t, 75.0, stats.AttendanceRate)
	require.Len(t, stats.Days, 2)
	assert.Equal(t, "2025-03-03", stats.Days[0].Date)
	assert.EqualValues(t, 2, stats.Days[0].Total)
	assert.EqualValues(t, 1, stats.Days[1].Counts[models.AttendanceLate])

	empty, err := svc.Monthly(context.Background(), 2025, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Days)
	assert.Zero(t, empty.AttendanceRate)

	_, err = svc.Monthly(context.Background(), 2025, 13, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDashboards(t *testing.T) {
	s := newSchool(t)
	ctx := context.Background()
	seedAttendance(t, s, "2025-03-03", map[*models.Student]string{
		s.students[0]: models.AttendancePresent,
		s.outsider:    models.AttendancePresent,
	})
	require.NoError(t, s.db.Create(&models.LeaveRequest{
		StudentID: s.students[1].ID, Type: models.LeaveSick, StartDate: "2025-03-04", EndDate: "2025-03-04",
		Reason: "flu", Status: models.LeavePending,
	}).Error)

	svc := NewStatsService(s.db, nil, 0, time.UTC)
	svc.now = fixedClock("2025-03-03", "10:00")

	admin, err := svc.Admin(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, admin.TotalStudents)
	assert.EqualValues(t, 2, admin.TotalTeachers)
	assert.EqualValues(t, 2, admin.TotalClasses)
	assert.EqualValues(t, 1, admin.PendingLeaves)
	assert.EqualValues(t, 2, admin.Today.Recorded)
	assert.Len(t, admin.RecentLeaves, 1)

	teacher, err := svc.Teacher(ctx, s.teacherActor())
	require.NoError(t, err)
	require.NotNil(t, teacher.Homeroom)
	assert.Equal(t, s.class.ID, teacher.Homeroom.ID)
	assert.EqualValues(t, 3, teacher.Homeroom.StudentCount)
	assert.EqualValues(t, 1, teacher.Today.Recorded)
	assert.Len(t, teacher.PendingLeaves, 1)

	_, err = svc.Teacher(ctx, s.admin)
	assert.ErrorIs(t, err, ErrForbidden)

	student, err := svc.Student(ctx, s.studentActor(0))
	require.NoError(t, err)
	require.NotNil(t, student.Today)
	assert.Equal(t, models.AttendancePresent, student.Today.Status)
	assert.EqualValues(t, 1, student.Month[models.AttendancePresent])
	assert.Len(t, student.RecentAttendance, 1)
}

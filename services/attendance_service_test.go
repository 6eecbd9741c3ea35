package services

import (
	"context"
	"testing"
	"time"

	"sekolah_absenku/models"
	"sekolah_absenku/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAttendanceService(s *school, date, hhmm string) *AttendanceService {
	svc := NewAttendanceService(s.db, NewStatsService(s.db, nil, 0, time.UTC), time.UTC, "07:15")
	svc.now = fixedClock(date, hhmm)
	return svc
}

func TestAttendanceCreateRejectsDuplicate(t *testing.T) {
	s := newSchool(t)
	svc := newAttendanceService(s, "2025-03-03", "08:00")
	ctx := context.Background()

	record, err := svc.Create(ctx, s.admin, AttendanceInput{StudentID: s.students[0].ID, Status: models.AttendancePresent})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-03", record.Date)
	assert.Equal(t, s.class.ID, record.ClassID)
	assert.Nil(t, record.TeacherID)

	_, err = svc.Create(ctx, s.admin, AttendanceInput{StudentID: s.students[0].ID, Date: "2025-03-03", Status: models.AttendanceLate})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.Create(ctx, s.admin, AttendanceInput{StudentID: 999})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAttendanceCreateDerivesStatusFromCheckIn(t *testing.T) {
	s := newSchool(t)
	svc := newAttendanceService(s, "2025-03-03", "08:00")
	ctx := context.Background()

	onTime, err := svc.Create(ctx, s.admin, AttendanceInput{StudentID: s.students[0].ID, CheckIn: "07:05"})
	require.NoError(t, err)
	assert.Equal(t, models.AttendancePresent, onTime.Status)

	late, err := svc.Create(ctx, s.admin, AttendanceInput{StudentID: s.students[1].ID, CheckIn: "07:40"})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceLate, late.Status)
}

func TestAttendanceTeacherLimitedToHomeroom(t *testing.T) {
	s := newSchool(t)
	svc := newAttendanceService(s, "2025-03-03", "08:00")
	ctx := context.Background()

	record, err := svc.Create(ctx, s.teacherActor(), AttendanceInput{StudentID: s.students[0].ID, Status: models.AttendancePresent})
	require.NoError(t, err)
	require.NotNil(t, record.TeacherID)
	assert.Equal(t, s.teacher.ID, *record.TeacherID)

	_, err = svc.Create(ctx, s.teacherActor(), AttendanceInput{StudentID: s.outsider.ID, Status: models.AttendancePresent})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Create(ctx, s.studentActor(0), AttendanceInput{StudentID: s.students[1].ID})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAttendanceBulkCreate(t *testing.T) {
	s := newSchool(t)
	svc := newAttendanceService(s, "2025-03-03", "08:00")
	ctx := context.Background()

	_, err := svc.Create(ctx, s.admin, AttendanceInput{StudentID: s.students[0].ID, Status: models.AttendanceAbsent})
	require.NoError(t, err)

	result, err := svc.BulkCreate(ctx, s.teacherActor(), BulkAttendanceInput{
		ClassID: s.class.ID,
		Entries: []BulkAttendEntry{
			{StudentID: s.students[0].ID, Status: models.AttendancePresent, CheckIn: "07:00"},
			{StudentID: s.students[1].ID, Status: models.AttendanceSick},
			{StudentID: s.students[2].ID, Status: models.AttendanceLate, CheckIn: "07:30"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-03", result.Date)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Updated)

	var first models.Attendance
	require.NoError(t, s.db.Where("student_id = ? AND date = ?", s.students[0].ID, "2025-03-03").First(&first).Error)
	assert.Equal(t, models.AttendancePresent, first.Status)
	assert.Equal(t, "07:00", first.CheckIn)
}

func TestAttendanceBulkCreateRejectsForeignStudent(t *testing.T) {
	s := newSchool(t)
	svc := newAttendanceService(s, "2025-03-03", "08:00")

	_, err := svc.BulkCreate(context.Background(), s.admin, BulkAttendanceInput{
		ClassID: s.class.ID,
		Entries: []BulkAttendEntry{
			{StudentID: s.students[0].ID, Status: models.AttendancePresent},
			{StudentID: s.outsider.ID, Status: models.AttendancePresent},
		},
	})
	assert.ErrorIs(t, err, ErrValidation)

	var n int64
	s.db.Model(&models.Attendance{}).Count(&n)
	assert.Zero(t, n, "nothing is written when one entry is rejected")

	_, err = svc.BulkCreate(context.Background(), s.otherTeacherActor(), BulkAttendanceInput{
		ClassID: s.class.ID,
		Entries: []BulkAttendEntry{{StudentID: s.students[0].ID, Status: models.AttendancePresent}},
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAttendanceCheckInAndOut(t *testing.T) {
	s := newSchool(t)
	ctx := context.Background()
	student := s.studentActor(0)

	svc := newAttendanceService(s, "2025-03-03", "07:30")
	_, err := svc.CheckOut(ctx, student)
	assert.ErrorIs(t, err, ErrConflict, "check-out before check-in")

	record, err := svc.CheckIn(ctx, student)
	require.NoError(t, err)
	assert.Equal(t, "07:30", record.CheckIn)
	assert.Equal(t, models.AttendanceLate, record.Status)

	_, err = svc.CheckIn(ctx, student)
	assert.ErrorIs(t, err, ErrConflict)

	svc.now = fixedClock("2025-03-03", "13:45")
	record, err = svc.CheckOut(ctx, student)
	require.NoError(t, err)
	assert.Equal(t, "13:45", record.CheckOut)

	_, err = svc.CheckOut(ctx, student)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.CheckIn(ctx, s.admin)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAttendanceCheckInAfterManualRecord(t *testing.T) {
	s := newSchool(t)
	svc := newAttendanceService(s, "2025-03-03", "07:00")
	ctx := context.Background()

	_, err := svc.Create(ctx, s.admin, AttendanceInput{StudentID: s.students[0].ID, Status: models.AttendanceSick})
	require.NoError(t, err)

	_, err = svc.CheckIn(ctx, s.studentActor(0))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAttendanceUpdateAndDelete(t *testing.T) {
	s := newSchool(t)
	svc := newAttendanceService(s, "2025-03-03", "08:00")
	ctx := context.Background()

	record, err := svc.Create(ctx, s.admin, AttendanceInput{StudentID: s.students[0].ID, Status: models.AttendanceAbsent})
	require.NoError(t, err)

	status := models.AttendancePermission
	notes := "family event"
	updated, err := svc.Update(ctx, s.teacherActor(), record.ID, AttendanceUpdate{Status: &status, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, models.AttendancePermission, updated.Status)
	assert.Equal(t, "family event", updated.Notes)

	bad := "holiday"
	_, err = svc.Update(ctx, s.admin, record.ID, AttendanceUpdate{Status: &bad})
	assert.ErrorIs(t, err, ErrValidation)

	assert.ErrorIs(t, svc.Delete(ctx, s.otherTeacherActor(), record.ID), ErrForbidden)
	require.NoError(t, svc.Delete(ctx, s.admin, record.ID))
	_, err = svc.Get(ctx, s.admin, record.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttendanceListScopes(t *testing.T) {
	s := newSchool(t)
	svc := newAttendanceService(s, "2025-03-03", "08:00")
	ctx := context.Background()
	page := utils.Pagination{Page: 1, Limit: 50}

	for _, st := range append([]*models.Student{s.outsider}, s.students...) {
		_, err := svc.Create(ctx, s.admin, AttendanceInput{StudentID: st.ID, Status: models.AttendancePresent})
		require.NoError(t, err)
	}

	_, total, err := svc.List(ctx, s.admin, AttendanceFilter{Date: "2025-03-03"}, page)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)

	_, total, err = svc.List(ctx, s.studentActor(1), AttendanceFilter{}, page)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, total, err = svc.List(ctx, s.admin, AttendanceFilter{ClassID: s.class2.ID}, page)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, _, err = svc.List(ctx, s.admin, AttendanceFilter{Date: "03/03/2025"}, page)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAttendanceTeacherReadsOnlyHomeroom(t *testing.T) {
	s := newSchool(t)
	svc := newAttendanceService(s, "2025-03-03", "08:00")
	ctx := context.Background()
	page := utils.Pagination{Page: 1, Limit: 50}

	foreign, err := svc.Create(ctx, s.admin, AttendanceInput{StudentID: s.outsider.ID, Status: models.AttendancePresent})
	require.NoError(t, err)
	own, err := svc.Create(ctx, s.admin, AttendanceInput{StudentID: s.students[0].ID, Status: models.AttendancePresent})
	require.NoError(t, err)

	_, err = svc.Get(ctx, s.teacherActor(), foreign.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	got, err := svc.Get(ctx, s.teacherActor(), own.ID)
	require.NoError(t, err)
	assert.Equal(t, own.ID, got.ID)

	_, _, err = svc.List(ctx, s.teacherActor(), AttendanceFilter{ClassID: s.class2.ID}, page)
	assert.ErrorIs(t, err, ErrForbidden)

	records, total, err := svc.List(ctx, s.teacherActor(), AttendanceFilter{}, page)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, own.ID, records[0].ID)

	spare, err := NewTeacherService(s.db).Create(ctx, TeacherInput{NIP: "19900320", Name: "Agus Wijaya"})
	require.NoError(t, err)
	noClass := Actor{UserID: spare.UserID, Role: models.RoleTeacher, TeacherID: spare.ID}
	records, total, err = svc.List(ctx, noClass, AttendanceFilter{}, page)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, records)
	_, err = svc.Get(ctx, noClass, own.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAttendanceWritesInvalidateStats(t *testing.T) {
	s := newSchool(t)
	stats, cache := cachedStats(s)
	svc := NewAttendanceService(s.db, stats, time.UTC, "07:15")
	svc.now = fixedClock("2025-03-03", "08:00")
	ctx := context.Background()

	before, err := stats.Daily(ctx, "2025-03-03", nil)
	require.NoError(t, err)
	assert.Zero(t, before.Recorded)
	require.Positive(t, cache.size())

	_, err = svc.Create(ctx, s.admin, AttendanceInput{StudentID: s.students[0].ID, Status: models.AttendancePresent})
	require.NoError(t, err)
	assert.Zero(t, cache.size())

	after, err := stats.Daily(ctx, "2025-03-03", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, after.Recorded)
}

func TestMarkMissingAbsent(t *testing.T) {
	s := newSchool(t)
	svc := newAttendanceService(s, "2025-03-03", "16:00")
	ctx := context.Background()

	_, err := svc.Create(ctx, s.admin, AttendanceInput{StudentID: s.students[0].ID, Status: models.AttendancePresent})
	require.NoError(t, err)

	// 2025-03-08 is a Saturday
	n, err := svc.MarkMissingAbsent(ctx, "2025-03-08")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.MarkTodayAbsent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = svc.MarkMissingAbsent(ctx, "2025-03-03")
	require.NoError(t, err)
	assert.Zero(t, n, "second run finds nobody left")

	var absent int64
	s.db.Model(&models.Attendance{}).Where("date = ? AND status = ?", "2025-03-03", models.AttendanceAbsent).Count(&absent)
	assert.EqualValues(t, 3, absent)
}

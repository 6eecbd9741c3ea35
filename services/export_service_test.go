package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sekolah_absenku/models"
	"sekolah_absenku/storage"
	"sekolah_absenku/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newExportService(t *testing.T, s *school) (*ExportService, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStore(dir, "http://localhost:3000/exports/")
	require.NoError(t, err)
	svc := NewExportService(s.db, store, "SMP Negeri 1", time.UTC)
	svc.now = fixedClock("2025-03-20", "10:00")
	return svc, dir
}

func TestAttendanceExcelExport(t *testing.T) {
	s := newSchool(t)
	seedAttendance(t, s, "2025-03-03", map[*models.Student]string{
		s.students[0]: models.AttendancePresent,
		s.students[1]: models.AttendanceSick,
		s.outsider:    models.AttendanceLate,
	})
	seedAttendance(t, s, "2025-03-04", map[*models.Student]string{
		s.students[0]: models.AttendanceAbsent,
	})
	svc, dir := newExportService(t, s)

	file, err := svc.AttendanceExcel(context.Background(), s.admin, ExportFilter{})
	require.NoError(t, err)
	assert.Equal(t, models.ExportAttendanceExcel, file.Kind)
	assert.Equal(t, "attendance_2025-03-01_2025-03-31.xlsx", file.FileName)
	assert.Equal(t, 4, file.RecordCount)
	assert.True(t, strings.HasPrefix(file.URL, "http://localhost:3000/exports/reports/2025/03/20/"), file.URL)

	book, err := excelize.OpenFile(filepath.Join(dir, file.StorageKey))
	require.NoError(t, err)
	defer book.Close()

	detail, err := book.GetRows("Attendance")
	require.NoError(t, err)
	assert.Len(t, detail, 5)
	assert.Equal(t, "Date", detail[0][1])

	summary, err := book.GetRows("Summary")
	require.NoError(t, err)
	assert.Len(t, summary, 4, "header plus one row per student")
}

func TestAttendancePDFExportScopedToHomeroom(t *testing.T) {
	s := newSchool(t)
	seedAttendance(t, s, "2025-03-03", map[*models.Student]string{
		s.students[0]: models.AttendancePresent,
		s.outsider:    models.AttendancePresent,
	})
	svc, dir := newExportService(t, s)
	ctx := context.Background()

	file, err := svc.AttendancePDF(ctx, s.teacherActor(), ExportFilter{From: "2025-03-01", To: "2025-03-07"})
	require.NoError(t, err)
	assert.Equal(t, 1, file.RecordCount)
	assert.Contains(t, string(file.Filters), `"class_id":`)

	data, err := os.ReadFile(filepath.Join(dir, file.StorageKey))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))

	_, err = svc.AttendancePDF(ctx, s.teacherActor(), ExportFilter{ClassID: s.class2.ID})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.AttendancePDF(ctx, s.admin, ExportFilter{From: "2024-01-01", To: "2025-03-01"})
	assert.ErrorIs(t, err, ErrValidation, "range too long")
}

func TestStudentsExcelExportAndHistory(t *testing.T) {
	s := newSchool(t)
	svc, _ := newExportService(t, s)
	ctx := context.Background()
	page := utils.Pagination{Page: 1, Limit: 10}

	file, err := svc.StudentsExcel(ctx, s.admin, s.class.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, file.RecordCount)

	_, err = svc.StudentsExcel(ctx, s.studentActor(0), 0)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.AttendanceExcel(ctx, s.studentActor(0), ExportFilter{})
	require.NoError(t, err)

	_, total, err := svc.List(ctx, s.admin, page)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	mine, total, err := svc.List(ctx, s.studentActor(0), page)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, models.ExportAttendanceExcel, mine[0].Kind)
}

func TestExportRefusesOversizedReports(t *testing.T) {
	s := newSchool(t)
	seedAttendance(t, s, "2025-03-03", map[*models.Student]string{
		s.students[0]: models.AttendancePresent,
		s.students[1]: models.AttendancePresent,
		s.students[2]: models.AttendanceLate,
	})
	svc, _ := newExportService(t, s)
	svc.maxRows = 2
	ctx := context.Background()

	_, err := svc.AttendanceExcel(ctx, s.admin, ExportFilter{})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.StudentsExcel(ctx, s.admin, s.class.ID)
	assert.ErrorIs(t, err, ErrValidation)

	var files int64
	s.db.Model(&models.ExportFile{}).Count(&files)
	assert.Zero(t, files, "no partial report is stored")

	svc.maxRows = 3
	file, err := svc.AttendanceExcel(ctx, s.admin, ExportFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, file.RecordCount)
}

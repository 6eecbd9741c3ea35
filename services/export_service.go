package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sekolah_absenku/metrics"
	"sekolah_absenku/models"
	"sekolah_absenku/storage"
	"sekolah_absenku/utils"

	"github.com/jung-kurt/gofpdf"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	defaultMaxExportRows = 20000
	maxExportDays        = 366
)

// ExportFilter selects the attendance rows of a report. From and To
// default to the current month.
type ExportFilter struct {
	From      string `json:"from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	To        string `json:"to,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ClassID   uint   `json:"class_id,omitempty"`
	StudentID uint   `json:"student_id,omitempty"`
	Status    string `json:"status,omitempty" validate:"omitempty,oneof=present late sick permission absent"`
}

type ExportService struct {
	db         *gorm.DB
	store      storage.Store
	schoolName string
	maxRows    int64
	clock
}

func NewExportService(db *gorm.DB, store storage.Store, schoolName string, loc *time.Location) *ExportService {
	return &ExportService{
		db:         db,
		store:      store,
		schoolName: schoolName,
		maxRows:    defaultMaxExportRows,
		clock:      newClock(loc),
	}
}

// AttendancePDF renders an attendance report as PDF.
func (s *ExportService) AttendancePDF(ctx context.Context, actor Actor, f ExportFilter) (*models.ExportFile, error) {
	rows, f, err := s.attendanceRows(ctx, actor, f)
	if err != nil {
		return nil, err
	}
	data, err := s.renderAttendancePDF(f, rows)
	if err != nil {
		return nil, internal("render attendance pdf", err)
	}
	name := fmt.Sprintf("attendance_%s_%s.pdf", f.From, f.To)
	return s.save(ctx, actor, models.ExportAttendancePDF, "pdf", name, f, len(rows), data)
}

// AttendanceExcel renders an attendance report as an xlsx workbook with a
// detail sheet and a per-student summary sheet.
func (s *ExportService) AttendanceExcel(ctx context.Context, actor Actor, f ExportFilter) (*models.ExportFile, error) {
	rows, f, err := s.attendanceRows(ctx, actor, f)
	if err != nil {
		return nil, err
	}
	data, err := renderAttendanceExcel(rows)
	if err != nil {
		return nil, internal("render attendance excel", err)
	}
	name := fmt.Sprintf("attendance_%s_%s.xlsx", f.From, f.To)
	return s.save(ctx, actor, models.ExportAttendanceExcel, "xlsx", name, f, len(rows), data)
}

// StudentsExcel exports the student roster, optionally for one class.
func (s *ExportService) StudentsExcel(ctx context.Context, actor Actor, classID uint) (*models.ExportFile, error) {
	f := ExportFilter{ClassID: classID}
	if err := s.scope(s.db.WithContext(ctx), actor, &f); err != nil {
		return nil, err
	}
	if f.StudentID != 0 {
		return nil, forbidden("students cannot export the roster")
	}

	query := s.db.WithContext(ctx).Model(&models.Student{})
	if f.ClassID != 0 {
		query = query.Where("class_id = ?", f.ClassID)
	}
	if err := s.checkRowCount(query, "students"); err != nil {
		return nil, err
	}
	var students []models.Student
	if err := query.Preload("Class").Order("class_id ASC, name ASC").Find(&students).Error; err != nil {
		return nil, internal("load students for export", err)
	}
	data, err := renderStudentsExcel(students)
	if err != nil {
		return nil, internal("render students excel", err)
	}
	name := fmt.Sprintf("students_%s.xlsx", s.today())
	return s.save(ctx, actor, models.ExportStudentsExcel, "xlsx", name, f, len(students), data)
}

// List returns previous exports; non-admins only see their own.
func (s *ExportService) List(ctx context.Context, actor Actor, page utils.Pagination) ([]models.ExportFile, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.ExportFile{})
	if !actor.IsAdmin() {
		query = query.Where("requested_by = ?", actor.UserID)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, internal("count exports", err)
	}
	var files []models.ExportFile
	if err := query.Order("created_at DESC, id DESC").Offset(page.Offset()).Limit(page.Limit).Find(&files).Error; err != nil {
		return nil, 0, internal("list exports", err)
	}
	return files, total, nil
}

func (s *ExportService) attendanceRows(ctx context.Context, actor Actor, f ExportFilter) ([]models.Attendance, ExportFilter, error) {
	if err := validateInput(f); err != nil {
		return nil, f, err
	}
	if f.From == "" || f.To == "" {
		now := s.now().In(s.loc)
		first, last, _ := utils.MonthRange(now.Year(), int(now.Month()))
		if f.From == "" {
			f.From = first
		}
		if f.To == "" {
			f.To = last
		}
	}
	days, err := utils.DatesBetween(f.From, f.To)
	if err != nil {
		return nil, f, invalid("%s", err.Error())
	}
	if len(days) > maxExportDays {
		return nil, f, invalid("export range is limited to %d days", maxExportDays)
	}

	db := s.db.WithContext(ctx)
	if err := s.scope(db, actor, &f); err != nil {
		return nil, f, err
	}
	query, err := applyAttendanceFilter(db.Model(&models.Attendance{}), AttendanceFilter{
		From:      f.From,
		To:        f.To,
		ClassID:   f.ClassID,
		StudentID: f.StudentID,
		Status:    f.Status,
	})
	if err != nil {
		return nil, f, err
	}
	if err := s.checkRowCount(query, "attendance"); err != nil {
		return nil, f, err
	}
	var rows []models.Attendance
	err = query.Preload("Student").Preload("Class").
		Order("date ASC, class_id ASC, student_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, f, internal("load attendance for export", err)
	}
	return rows, f, nil
}

// checkRowCount refuses reports larger than maxRows instead of truncating them.
func (s *ExportService) checkRowCount(query *gorm.DB, what string) error {
	var count int64
	if err := query.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return internal("count "+what+" for export", err)
	}
	if count > s.maxRows {
		return invalid("export has %d %s rows, more than the limit of %d; narrow the filter", count, what, s.maxRows)
	}
	return nil
}

// scope narrows a filter to what the actor may export: teachers their
// homeroom class, students themselves.
func (s *ExportService) scope(db *gorm.DB, actor Actor, f *ExportFilter) error {
	switch {
	case actor.IsAdmin():
		return nil
	case actor.IsTeacher():
		class, err := homeroomOf(db, actor.TeacherID)
		if err != nil {
			return err
		}
		if class == nil {
			return forbidden("only homeroom teachers can export reports")
		}
		if f.ClassID != 0 && f.ClassID != class.ID {
			return forbidden("teachers may only export their homeroom class")
		}
		f.ClassID = class.ID
		return nil
	case actor.IsStudent():
		f.StudentID = actor.StudentID
		f.ClassID = 0
		return nil
	default:
		return forbidden("export not allowed")
	}
}

func (s *ExportService) save(ctx context.Context, actor Actor, kind, format, name string, f ExportFilter, count int, data []byte) (*models.ExportFile, error) {
	key := storage.NewKey("reports", format, s.now().In(s.loc))
	url, err := s.store.Put(ctx, key, storage.ContentType(format), data)
	if err != nil {
		return nil, internal("store export", err)
	}
	filters, err := json.Marshal(f)
	if err != nil {
		return nil, internal("encode export filters", err)
	}

	file := models.ExportFile{
		Kind:        kind,
		Format:      format,
		FileName:    name,
		StorageKey:  key,
		URL:         url,
		Filters:     models.JSON(filters),
		RecordCount: count,
		FileSize:    int64(len(data)),
		RequestedBy: actor.UserID,
	}
	if err := s.db.WithContext(ctx).Create(&file).Error; err != nil {
		return nil, internal("save export record", err)
	}
	metrics.ExportGenerated(kind)
	logrus.WithFields(logrus.Fields{
		"kind":    kind,
		"records": count,
		"bytes":   len(data),
		"user_id": actor.UserID,
	}).Info("Export generated")
	return &file, nil
}

func (s *ExportService) renderAttendancePDF(f ExportFilter, rows []models.Attendance) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(false, 10)

	widths := []float64{10, 24, 28, 70, 25, 25, 18, 18, 59}
	headers := []string{"No", "Date", "NISN", "Name", "Class", "Status", "In", "Out", "Notes"}
	tableHeader := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(220, 230, 241)
		for i, h := range headers {
			pdf.CellFormat(widths[i], 7, h, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
	}

	pdf.AddPage()
	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 8, tr(s.schoolName))
	pdf.Ln(8)
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 7, "Attendance Report")
	pdf.Ln(7)
	pdf.SetFont("Arial", "", 9)
	pdf.Cell(0, 5, tr(describeFilter(f, rows)))
	pdf.Ln(5)
	pdf.SetDrawColor(40, 145, 108)
	pdf.SetLineWidth(0.5)
	pdf.Line(10, pdf.GetY(), 287, pdf.GetY())
	pdf.SetLineWidth(0.2)
	pdf.SetDrawColor(0, 0, 0)
	pdf.Ln(3)

	tableHeader()
	counts := emptyCounts()
	for i, r := range rows {
		if pdf.GetY() > 190 {
			pdf.AddPage()
			tableHeader()
		}
		counts[r.Status]++
		cells := []string{
			fmt.Sprintf("%d", i+1),
			r.Date,
			studentNISN(r.Student),
			truncate(studentName(r.Student), 40),
			className(r.Class),
			r.Status,
			r.CheckIn,
			r.CheckOut,
			truncate(r.Notes, 34),
		}
		for j, c := range cells {
			align := "L"
			if j == 0 || (j >= 5 && j <= 7) {
				align = "C"
			}
			pdf.CellFormat(widths[j], 6, tr(c), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	if pdf.GetY() > 170 {
		pdf.AddPage()
	}
	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, "Summary")
	pdf.Ln(6)
	pdf.SetFont("Arial", "", 9)
	for _, st := range models.AttendanceStatuses {
		pdf.CellFormat(40, 6, titleCase(st), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", counts[st]), "1", 1, "R", false, 0, "")
	}
	pdf.CellFormat(40, 6, "Total", "1", 0, "L", true, 0, "")
	pdf.CellFormat(20, 6, fmt.Sprintf("%d", len(rows)), "1", 1, "R", true, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderAttendanceExcel(rows []models.Attendance) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const detail = "Attendance"
	if err := f.SetSheetName("Sheet1", detail); err != nil {
		return nil, err
	}
	header, err := headerStyle(f)
	if err != nil {
		return nil, err
	}

	headers := []interface{}{"No", "Date", "NISN", "Name", "Class", "Status", "Check In", "Check Out", "Notes"}
	if err := writeRow(f, detail, 1, headers); err != nil {
		return nil, err
	}
	type tally struct {
		nisn, name, class string
		counts            map[string]int64
	}
	perStudent := map[uint]*tally{}
	var order []uint
	for i, r := range rows {
		row := []interface{}{i + 1, r.Date, studentNISN(r.Student), studentName(r.Student), className(r.Class), r.Status, r.CheckIn, r.CheckOut, r.Notes}
		if err := writeRow(f, detail, i+2, row); err != nil {
			return nil, err
		}
		t, ok := perStudent[r.StudentID]
		if !ok {
			t = &tally{nisn: studentNISN(r.Student), name: studentName(r.Student), class: className(r.Class), counts: emptyCounts()}
			perStudent[r.StudentID] = t
			order = append(order, r.StudentID)
		}
		t.counts[r.Status]++
	}
	if err := f.SetCellStyle(detail, "A1", "I1", header); err != nil {
		return nil, err
	}
	for col, width := range map[string]float64{"A": 6, "B": 12, "C": 14, "D": 32, "E": 12, "F": 12, "G": 10, "H": 10, "I": 40} {
		if err := f.SetColWidth(detail, col, col, width); err != nil {
			return nil, err
		}
	}

	const summary = "Summary"
	if _, err := f.NewSheet(summary); err != nil {
		return nil, err
	}
	summaryHeader := []interface{}{"NISN", "Name", "Class"}
	for _, st := range models.AttendanceStatuses {
		summaryHeader = append(summaryHeader, titleCase(st))
	}
	summaryHeader = append(summaryHeader, "Total")
	if err := writeRow(f, summary, 1, summaryHeader); err != nil {
		return nil, err
	}
	for i, id := range order {
		t := perStudent[id]
		row := []interface{}{t.nisn, t.name, t.class}
		var total int64
		for _, st := range models.AttendanceStatuses {
			row = append(row, t.counts[st])
			total += t.counts[st]
		}
		row = append(row, total)
		if err := writeRow(f, summary, i+2, row); err != nil {
			return nil, err
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(summaryHeader))
	if err := f.SetCellStyle(summary, "A1", lastCol+"1", header); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(summary, "B", "B", 32); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderStudentsExcel(students []models.Student) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Students"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	header, err := headerStyle(f)
	if err != nil {
		return nil, err
	}
	headers := []interface{}{"No", "NISN", "Name", "Class", "Gender", "Birth Date", "Parent", "Parent Phone", "Address"}
	if err := writeRow(f, sheet, 1, headers); err != nil {
		return nil, err
	}
	for i, st := range students {
		row := []interface{}{i + 1, st.NISN, st.Name, className(st.Class), st.Gender, st.BirthDate, st.ParentName, st.ParentPhone, st.Address}
		if err := writeRow(f, sheet, i+2, row); err != nil {
			return nil, err
		}
	}
	if err := f.SetCellStyle(sheet, "A1", "I1", header); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheet, "C", "C", 32); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheet, "I", "I", 48); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func headerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DCE6F1"}, Pattern: 1},
	})
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func describeFilter(f ExportFilter, rows []models.Attendance) string {
	parts := []string{fmt.Sprintf("Period: %s to %s", f.From, f.To)}
	if f.ClassID != 0 {
		name := fmt.Sprintf("#%d", f.ClassID)
		if len(rows) > 0 && rows[0].Class != nil {
			name = rows[0].Class.Name
		}
		parts = append(parts, "Class: "+name)
	}
	if f.StudentID != 0 && len(rows) > 0 {
		parts = append(parts, "Student: "+studentName(rows[0].Student))
	}
	if f.Status != "" {
		parts = append(parts, "Status: "+f.Status)
	}
	return strings.Join(parts, "   ")
}

func studentName(st *models.Student) string {
	if st == nil {
		return ""
	}
	return st.Name
}

func studentNISN(st *models.Student) string {
	if st == nil {
		return ""
	}
	return st.NISN
}

func className(c *models.Class) string {
	if c == nil {
		return ""
	}
	return c.Name
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

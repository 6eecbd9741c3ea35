package controllers

import (
	"sekolah_absenku/middleware"
	"sekolah_absenku/models"
	"sekolah_absenku/services"
	"sekolah_absenku/utils"

	"github.com/gofiber/fiber/v2"
)

type ExportController struct {
	Exports *services.ExportService
}

func NewExportController(exports *services.ExportService) *ExportController {
	return &ExportController{Exports: exports}
}

// ExportAttendancePDF renders the filtered attendance as a PDF report
func (ec *ExportController) ExportAttendancePDF(c *fiber.Ctx) error {
	return ec.exportAttendance(c, models.ExportAttendancePDF)
}

// ExportAttendanceExcel renders the filtered attendance as an xlsx workbook
func (ec *ExportController) ExportAttendanceExcel(c *fiber.Ctx) error {
	return ec.exportAttendance(c, models.ExportAttendanceExcel)
}

func (ec *ExportController) exportAttendance(c *fiber.Ctx, kind string) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	filter, err := exportFilterFrom(c)
	if err != nil {
		return err
	}

	var file *models.ExportFile
	if kind == models.ExportAttendancePDF {
		file, err = ec.Exports.AttendancePDF(c.UserContext(), actor, filter)
	} else {
		file, err = ec.Exports.AttendanceExcel(c.UserContext(), actor, filter)
	}
	if err != nil {
		return respondError(c, err)
	}
	middleware.LogActivity(c, "EXPORT", "attendance", file.ID, fiber.Map{"kind": kind})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "export generated",
		"export":  file,
		"url":     file.URL,
	})
}

// ExportStudentsExcel exports the student roster, optionally for one class
func (ec *ExportController) ExportStudentsExcel(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	classID, err := queryUint(c, "class_id")
	if err != nil {
		return err
	}
	file, err := ec.Exports.StudentsExcel(c.UserContext(), actor, classID)
	if err != nil {
		return respondError(c, err)
	}
	middleware.LogActivity(c, "EXPORT", "students", file.ID, fiber.Map{"kind": models.ExportStudentsExcel})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "export generated",
		"export":  file,
		"url":     file.URL,
	})
}

func (ec *ExportController) GetExports(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	page := utils.ParsePagination(c)
	files, total, err := ec.Exports.List(c.UserContext(), actor, page)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paginated("exports", files, page, total))
}

// exportFilterFrom accepts the filter either as JSON body or query string.
func exportFilterFrom(c *fiber.Ctx) (services.ExportFilter, error) {
	var f services.ExportFilter
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&f); err != nil {
			return f, fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		return f, nil
	}
	classID, err := queryUint(c, "class_id")
	if err != nil {
		return f, err
	}
	studentID, err := queryUint(c, "student_id")
	if err != nil {
		return f, err
	}
	f.From = c.Query("from")
	f.To = c.Query("to")
	f.ClassID = classID
	f.StudentID = studentID
	f.Status = c.Query("status")
	return f, nil
}

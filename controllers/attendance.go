package controllers

import (
	"sekolah_absenku/services"
	"sekolah_absenku/utils"

	"github.com/gofiber/fiber/v2"
)

type AttendanceController struct {
	Attendance *services.AttendanceService
}

func NewAttendanceController(attendance *services.AttendanceService) *AttendanceController {
	return &AttendanceController{Attendance: attendance}
}

// GetAttendance lists records; students only ever see their own
func (ac *AttendanceController) GetAttendance(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	classID, err := queryUint(c, "class_id")
	if err != nil {
		return err
	}
	studentID, err := queryUint(c, "student_id")
	if err != nil {
		return err
	}
	page := utils.ParsePagination(c)
	records, total, err := ac.Attendance.List(c.UserContext(), actor, services.AttendanceFilter{
		Date:      c.Query("date"),
		From:      c.Query("from"),
		To:        c.Query("to"),
		ClassID:   classID,
		StudentID: studentID,
		Status:    c.Query("status"),
	}, page)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paginated("attendance", records, page, total))
}

func (ac *AttendanceController) GetAttendanceRecord(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	record, err := ac.Attendance.Get(c.UserContext(), actor, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"attendance": record})
}

func (ac *AttendanceController) CreateAttendance(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	var req services.AttendanceInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	record, err := ac.Attendance.Create(c.UserContext(), actor, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":    "attendance recorded",
		"attendance": record,
	})
}

// BulkCreateAttendance marks a whole class for one date
func (ac *AttendanceController) BulkCreateAttendance(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	var req services.BulkAttendanceInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	result, err := ac.Attendance.BulkCreate(c.UserContext(), actor, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "attendance saved",
		"result":  result,
	})
}

func (ac *AttendanceController) CheckIn(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	record, err := ac.Attendance.CheckIn(c.UserContext(), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":    "checked in",
		"attendance": record,
	})
}

func (ac *AttendanceController) CheckOut(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	record, err := ac.Attendance.CheckOut(c.UserContext(), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":    "checked out",
		"attendance": record,
	})
}

func (ac *AttendanceController) UpdateAttendance(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req services.AttendanceUpdate
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	record, err := ac.Attendance.Update(c.UserContext(), actor, id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":    "attendance updated",
		"attendance": record,
	})
}

func (ac *AttendanceController) DeleteAttendance(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := ac.Attendance.Delete(c.UserContext(), actor, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "attendance deleted"})
}

package controllers

import (
	"sekolah_absenku/services"
	"sekolah_absenku/utils"

	"github.com/gofiber/fiber/v2"
)

type TeacherController struct {
	Teachers *services.TeacherService
}

func NewTeacherController(teachers *services.TeacherService) *TeacherController {
	return &TeacherController{Teachers: teachers}
}

func (tc *TeacherController) GetTeachers(c *fiber.Ctx) error {
	page := utils.ParsePagination(c)
	teachers, total, err := tc.Teachers.List(c.UserContext(), c.Query("search"), page)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paginated("teachers", teachers, page, total))
}

func (tc *TeacherController) GetTeacher(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	teacher, err := tc.Teachers.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"teacher": teacher})
}

// CreateTeacher creates the teacher and its login account (identifier = NIP)
func (tc *TeacherController) CreateTeacher(c *fiber.Ctx) error {
	var req services.TeacherInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	teacher, err := tc.Teachers.Create(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "teacher created successfully",
		"teacher": teacher,
	})
}

func (tc *TeacherController) UpdateTeacher(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req services.TeacherInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	teacher, err := tc.Teachers.Update(c.UserContext(), id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "teacher updated successfully",
		"teacher": teacher,
	})
}

func (tc *TeacherController) DeleteTeacher(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := tc.Teachers.Delete(c.UserContext(), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "teacher deleted successfully"})
}

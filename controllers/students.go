package controllers

import (
	"sekolah_absenku/middleware"
	"sekolah_absenku/services"
	"sekolah_absenku/utils"

	"github.com/gofiber/fiber/v2"
)

type StudentController struct {
	Students *services.StudentService
}

func NewStudentController(students *services.StudentService) *StudentController {
	return &StudentController{Students: students}
}

// GetStudents returns students with pagination
func (sc *StudentController) GetStudents(c *fiber.Ctx) error {
	classID, err := queryUint(c, "class_id")
	if err != nil {
		return err
	}
	page := utils.ParsePagination(c)
	students, total, err := sc.Students.List(c.UserContext(), services.StudentFilter{
		ClassID: classID,
		Search:  c.Query("search"),
	}, page)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paginated("students", students, page, total))
}

// GetStudent returns a specific student by ID
func (sc *StudentController) GetStudent(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	student, err := sc.Students.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"student": student})
}

// CreateStudent creates the student and its login account
func (sc *StudentController) CreateStudent(c *fiber.Ctx) error {
	var req services.StudentInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	student, err := sc.Students.Create(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	middleware.LogActivity(c, "CREATE", "students", student.ID, fiber.Map{
		"nisn":     student.NISN,
		"class_id": student.ClassID,
	})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "student created successfully",
		"student": student,
	})
}

func (sc *StudentController) UpdateStudent(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req services.StudentInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	student, err := sc.Students.Update(c.UserContext(), id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "student updated successfully",
		"student": student,
	})
}

func (sc *StudentController) DeleteStudent(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := sc.Students.Delete(c.UserContext(), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "student deleted successfully"})
}

package controllers

import (
	"sekolah_absenku/services"

	"github.com/gofiber/fiber/v2"
)

type ClassController struct {
	Classes *services.ClassService
}

func NewClassController(classes *services.ClassService) *ClassController {
	return &ClassController{Classes: classes}
}

func (cc *ClassController) GetClasses(c *fiber.Ctx) error {
	classes, err := cc.Classes.List(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"classes": classes, "total": len(classes)})
}

func (cc *ClassController) GetClass(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	class, err := cc.Classes.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"class": class})
}

// GetClassStudents returns the roster of a class
func (cc *ClassController) GetClassStudents(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	students, err := cc.Classes.Students(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"students": students, "total": len(students)})
}

func (cc *ClassController) CreateClass(c *fiber.Ctx) error {
	var req services.ClassInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	class, err := cc.Classes.Create(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "class created successfully",
		"class":   class,
	})
}

func (cc *ClassController) UpdateClass(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req services.ClassInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	class, err := cc.Classes.Update(c.UserContext(), id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "class updated successfully",
		"class":   class,
	})
}

// DeleteClass is rejected while students are still assigned
func (cc *ClassController) DeleteClass(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := cc.Classes.Delete(c.UserContext(), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "class deleted successfully"})
}

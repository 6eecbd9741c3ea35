package controllers

import (
	"strconv"
	"time"

	"sekolah_absenku/services"

	"github.com/gofiber/fiber/v2"
)

type DashboardController struct {
	Stats *services.StatsService
	loc   *time.Location
}

func NewDashboardController(stats *services.StatsService, loc *time.Location) *DashboardController {
	if loc == nil {
		loc = time.UTC
	}
	return &DashboardController{Stats: stats, loc: loc}
}

// GetDashboard returns the dashboard for the caller's role
func (dc *DashboardController) GetDashboard(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	var data interface{}
	switch {
	case actor.IsAdmin():
		data, err = dc.Stats.Admin(c.UserContext())
	case actor.IsTeacher():
		data, err = dc.Stats.Teacher(c.UserContext(), actor)
	default:
		data, err = dc.Stats.Student(c.UserContext(), actor)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"role": actor.Role, "dashboard": data})
}

// GetDailyStats returns per-status counts for ?date (default today)
func (dc *DashboardController) GetDailyStats(c *fiber.Ctx) error {
	classID, err := dc.classScope(c)
	if err != nil {
		return err
	}
	stats, err := dc.Stats.Daily(c.UserContext(), c.Query("date"), classID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"stats": stats})
}

// GetMonthlyStats returns totals for ?year&month (default current month)
func (dc *DashboardController) GetMonthlyStats(c *fiber.Ctx) error {
	now := time.Now().In(dc.loc)
	year, err := strconv.Atoi(c.Query("year", strconv.Itoa(now.Year())))
	if err != nil {
		return badRequest(c, "invalid year")
	}
	month, err := strconv.Atoi(c.Query("month", strconv.Itoa(int(now.Month()))))
	if err != nil {
		return badRequest(c, "invalid month")
	}
	classID, err := dc.classScope(c)
	if err != nil {
		return err
	}
	stats, err := dc.Stats.Monthly(c.UserContext(), year, month, classID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"stats": stats})
}

func (dc *DashboardController) classScope(c *fiber.Ctx) (*uint, error) {
	id, err := queryUint(c, "class_id")
	if err != nil || id == 0 {
		return nil, err
	}
	return &id, nil
}

package controllers

import (
	"errors"
	"strconv"

	"sekolah_absenku/services"
	"sekolah_absenku/utils"

	"github.com/gofiber/fiber/v2"
)

type LogController struct {
	Logs        *services.ActivityLogService
	ArchiveDays int
}

func NewLogController(logs *services.ActivityLogService, archiveDays int) *LogController {
	return &LogController{Logs: logs, ArchiveDays: archiveDays}
}

// GetLogs retrieves paginated activity logs with filters
func (lc *LogController) GetLogs(c *fiber.Ctx) error {
	userID, err := queryUint(c, "user_id")
	if err != nil {
		return err
	}
	page := utils.ParsePagination(c)
	logs, total, err := lc.Logs.List(c.UserContext(), services.ActivityLogFilter{
		UserID:   userID,
		Action:   c.Query("action"),
		Resource: c.Query("resource"),
		From:     c.Query("start_date"),
		To:       c.Query("end_date"),
	}, page)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paginated("logs", logs, page, total))
}

func (lc *LogController) GetArchives(c *fiber.Ctx) error {
	archives, err := lc.Logs.Archives(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"archives": archives})
}

// FlushLogs writes queued entries to the database immediately
func (lc *LogController) FlushLogs(c *fiber.Ctx) error {
	n, err := lc.Logs.FlushCached(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "activity logs flushed", "flushed": n})
}

// ArchiveLogs archives entries older than ?days (default LOG_ARCHIVE_DAYS)
func (lc *LogController) ArchiveLogs(c *fiber.Ctx) error {
	days, err := strconv.Atoi(c.Query("days", strconv.Itoa(lc.ArchiveDays)))
	if err != nil {
		return badRequest(c, "invalid days")
	}
	archives, err := lc.Logs.Archive(c.UserContext(), days)
	if errors.Is(err, services.ErrArchiveUnavailable) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return respondError(c, err)
	}
	if len(archives) == 0 {
		return c.JSON(fiber.Map{"message": "nothing to archive"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "activity logs archived",
		"archives": archives,
	})
}

package controllers

import (
	"errors"

	"sekolah_absenku/middleware"
	"sekolah_absenku/services/notifications"

	"github.com/gofiber/fiber/v2"
)

type LineController struct {
	Linker *notifications.LineLinker
}

func NewLineController(linker *notifications.LineLinker) *LineController {
	return &LineController{Linker: linker}
}

// RequestLinkCode issues a one-time code to send to the LINE official account
func (lc *LineController) RequestLinkCode(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	code, expires, err := lc.Linker.IssueCode(c.UserContext(), user.ID)
	if errors.Is(err, notifications.ErrLinkUnavailable) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"code":        code,
		"expires_at":  expires,
		"instruction": "send \"LINK " + code + "\" to the school LINE account",
	})
}

func (lc *LineController) Unlink(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := lc.Linker.Unlink(c.UserContext(), user.ID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "LINE account unlinked"})
}

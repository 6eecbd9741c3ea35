package controllers

import (
	"sekolah_absenku/middleware"
	"sekolah_absenku/services/notifications"
	"sekolah_absenku/utils"

	"github.com/gofiber/fiber/v2"
)

type NotificationController struct {
	Notifications *notifications.Service
}

func NewNotificationController(svc *notifications.Service) *NotificationController {
	return &NotificationController{Notifications: svc}
}

// GetNotifications returns notifications for the current user
func (nc *NotificationController) GetNotifications(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	page := utils.ParsePagination(c)
	unreadOnly := c.Query("unread") == "true" || c.Query("read") == "false"
	items, total, err := nc.Notifications.List(c.UserContext(), user.ID, unreadOnly, page)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paginated("notifications", items, page, total))
}

func (nc *NotificationController) GetUnreadCount(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	count, err := nc.Notifications.UnreadCount(c.UserContext(), user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"unread_count": count})
}

func (nc *NotificationController) MarkAsRead(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := nc.Notifications.MarkRead(c.UserContext(), user.ID, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "notification marked as read"})
}

func (nc *NotificationController) MarkAllAsRead(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	n, err := nc.Notifications.MarkAllRead(c.UserContext(), user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "all notifications marked as read", "updated": n})
}

// CreateAnnouncement sends a notification to every user of a role (admin only)
func (nc *NotificationController) CreateAnnouncement(c *fiber.Ctx) error {
	var req struct {
		Role    string `json:"role" validate:"omitempty,oneof=admin teacher student"`
		Title   string `json:"title" validate:"required,max=255"`
		Message string `json:"message" validate:"required"`
		Type    string `json:"type" validate:"omitempty,oneof=info success warning error"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.Type == "" {
		req.Type = "info"
	}
	sent, err := nc.Notifications.Announce(c.UserContext(), req.Role, req.Title, req.Message, req.Type)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":    "announcement sent",
		"recipients": sent,
	})
}

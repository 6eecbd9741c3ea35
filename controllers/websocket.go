package controllers

import (
	"sekolah_absenku/database"
	"sekolah_absenku/middleware"
	"sekolah_absenku/models"
	"sekolah_absenku/services/websocket"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

type WebSocketController struct {
	hub *websocket.Hub
}

func NewWebSocketController(hub *websocket.Hub) *WebSocketController {
	return &WebSocketController{hub: hub}
}

// Upgrade authenticates the ?token query parameter before the websocket
// handshake; browsers cannot send an Authorization header there.
func (wsc *WebSocketController) Upgrade(c *fiber.Ctx) error {
	if !fiberws.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	claims, err := middleware.ParseToken(c.Query("token"))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
	}
	var user models.User
	if err := database.DB.WithContext(c.UserContext()).First(&user, claims.UserID).Error; err != nil || user.Status != models.UserActive {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "user not found or inactive"})
	}
	c.Locals("ws_user_id", user.ID)
	return c.Next()
}

// WebSocketHandler connects an authenticated socket to the hub
func (wsc *WebSocketController) WebSocketHandler() fiber.Handler {
	return fiberws.New(func(c *fiberws.Conn) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("WebSocket handler panic")
			}
		}()
		userID, ok := c.Locals("ws_user_id").(uint)
		if !ok {
			_ = c.Close()
			return
		}
		logrus.WithField("user_id", userID).Debug("WebSocket connection established")
		wsc.hub.ServeFiberWS(c, userID)
	})
}

// GetWebSocketStats returns connection statistics (admin only)
func (wsc *WebSocketController) GetWebSocketStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"connected_clients": wsc.hub.GetClientCount(),
		"status":            "active",
	})
}

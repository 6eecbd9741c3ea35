package middleware

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"sekolah_absenku/models"
	"sekolah_absenku/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var activityLogs *services.ActivityLogService

// SetActivityLogService sets where LogActivity writes to. Nil disables activity logging.
func SetActivityLogService(s *services.ActivityLogService) {
	activityLogs = s
}

// RequestID tags every request with X-Request-ID, keeping one sent by a proxy.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(fiber.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals("request_id", id)
		c.Set(fiber.HeaderXRequestID, id)
		return c.Next()
	}
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		fields := logrus.Fields{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"duration":   time.Since(start).String(),
			"ip":         c.IP(),
			"user_agent": c.Get(fiber.HeaderUserAgent),
		}
		if id, ok := c.Locals("request_id").(string); ok {
			fields["request_id"] = id
		}
		entry := logrus.WithFields(fields)
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Info("HTTP Request")

		return err
	}
}

// LogActivity records an audit entry for the current user.
func LogActivity(c *fiber.Ctx, action, resource string, resourceID uint, details interface{}) {
	if activityLogs == nil {
		return
	}
	var userID uint
	if user, err := GetCurrentUser(c); err == nil {
		userID = user.ID
	}

	meta := map[string]interface{}{
		"method":      c.Method(),
		"path":        c.Path(),
		"status_code": c.Response().StatusCode(),
	}
	if id, ok := c.Locals("request_id").(string); ok {
		meta["request_id"] = id
	}
	if details != nil {
		meta["details"] = details
	}
	var detailsJSON models.JSON
	if b, err := json.Marshal(meta); err == nil {
		detailsJSON = b
	}

	entry := models.ActivityLog{
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    detailsJSON,
		IPAddress:  c.IP(),
		UserAgent:  truncateUA(c.Get(fiber.HeaderUserAgent)),
	}

	// the fiber ctx is recycled after the handler returns
	go func(e models.ActivityLog) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("panic recovered in LogActivity goroutine")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		activityLogs.Record(ctx, e)
	}(entry)
}

// LogActivityMiddleware automatically logs successful writes under /api.
func LogActivityMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodGet || strings.Contains(c.Path(), "/auth/") {
			return c.Next()
		}

		err := c.Next()

		var action string
		switch c.Method() {
		case fiber.MethodPost:
			action = "CREATE"
		case fiber.MethodPut, fiber.MethodPatch:
			action = "UPDATE"
		case fiber.MethodDelete:
			action = "DELETE"
		default:
			return err
		}

		// /api/<resource>/...
		var resource string
		if parts := strings.Split(strings.Trim(c.Path(), "/"), "/"); len(parts) >= 2 {
			resource = parts[1]
		}

		var resourceID uint
		if id, parseErr := strconv.ParseUint(c.Params("id"), 10, 64); parseErr == nil {
			resourceID = uint(id)
		}

		if err == nil && c.Response().StatusCode() < 400 {
			LogActivity(c, action, resource, resourceID, nil)
		}

		return err
	}
}

func truncateUA(ua string) string {
	if len(ua) > 500 {
		return ua[:500]
	}
	return ua
}

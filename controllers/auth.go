package controllers

import (
	"sekolah_absenku/middleware"
	"sekolah_absenku/services"
	"sekolah_absenku/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type AuthController struct {
	Auth *services.AuthService
}

func NewAuthController(auth *services.AuthService) *AuthController {
	return &AuthController{Auth: auth}
}

// Login authenticates a user and returns a JWT token
func (ac *AuthController) Login(c *fiber.Ctx) error {
	var req services.LoginInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	user, err := ac.Auth.Authenticate(c.UserContext(), req)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"role":       req.Role,
			"identifier": req.Identifier,
			"ip":         c.IP(),
		}).WithError(err).Warn("Login rejected")
		return respondError(c, err)
	}

	token, err := middleware.GenerateToken(user)
	if err != nil {
		logrus.WithError(err).Error("Failed to sign token")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
		})
	}

	homeroom, err := ac.Auth.HomeroomFor(c.UserContext(), user)
	if err != nil {
		return respondError(c, err)
	}

	c.Locals("user", user)
	middleware.LogActivity(c, "LOGIN", "auth", user.ID, fiber.Map{
		"identifier": user.Identifier,
		"role":       user.Role,
	})

	return c.JSON(fiber.Map{
		"message": "login successful",
		"token":   token,
		"user":    utils.ToUserDTO(*user, homeroom),
	})
}

// Logout blacklists the current token until it expires
func (ac *AuthController) Logout(c *fiber.Ctx) error {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := middleware.RevokeToken(c.UserContext(), middleware.GetCurrentToken(c), claims); err != nil {
		// logout still succeeds client-side
		logrus.WithError(err).Warn("Failed to blacklist token")
	}
	middleware.LogActivity(c, "LOGOUT", "auth", claims.UserID, nil)
	return c.JSON(fiber.Map{"message": "logged out successfully"})
}

// GetProfile returns the current user's profile
func (ac *AuthController) GetProfile(c *fiber.Ctx) error {
	current, err := middleware.GetCurrentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	user, err := ac.Auth.Profile(c.UserContext(), current.ID)
	if err != nil {
		return respondError(c, err)
	}
	homeroom, err := ac.Auth.HomeroomFor(c.UserContext(), user)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"user": utils.ToUserDTO(*user, homeroom)})
}

// ChangePassword allows users to change their password
func (ac *AuthController) ChangePassword(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	var req services.ChangePasswordInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := ac.Auth.ChangePassword(c.UserContext(), user.ID, req); err != nil {
		return respondError(c, err)
	}
	middleware.LogActivity(c, "UPDATE", "users", user.ID, fiber.Map{"action": "password_change"})
	return c.JSON(fiber.Map{"message": "password changed successfully"})
}

package controllers

import (
	"sekolah_absenku/middleware"
	"sekolah_absenku/services"
	"sekolah_absenku/utils"

	"github.com/gofiber/fiber/v2"
)

// UserController manages login accounts. Profiles are created through the
// student and teacher endpoints.
type UserController struct {
	Auth *services.AuthService
}

func NewUserController(auth *services.AuthService) *UserController {
	return &UserController{Auth: auth}
}

// GetUsers returns all users with pagination
func (uc *UserController) GetUsers(c *fiber.Ctx) error {
	page := utils.ParsePagination(c)
	users, total, err := uc.Auth.ListUsers(c.UserContext(), services.UserFilter{
		Role:   c.Query("role"),
		Status: c.Query("status"),
		Search: c.Query("search"),
	}, page)
	if err != nil {
		return respondError(c, err)
	}
	dtos := make([]utils.UserDTO, 0, len(users))
	for _, u := range users {
		dtos = append(dtos, utils.ToUserDTO(u, nil))
	}
	return c.JSON(paginated("users", dtos, page, total))
}

// GetUser returns a specific user by ID
func (uc *UserController) GetUser(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	user, err := uc.Auth.Profile(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	homeroom, err := uc.Auth.HomeroomFor(c.UserContext(), user)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"user": utils.ToUserDTO(*user, homeroom)})
}

// UpdateUserStatus activates or deactivates an account
func (uc *UserController) UpdateUserStatus(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := uc.Auth.SetStatus(c.UserContext(), actor, id, req.Status); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "user status updated", "status": req.Status})
}

// ResetPassword allows admin to reset a user's password directly
func (uc *UserController) ResetPassword(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		NewPassword string `json:"new_password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := uc.Auth.ResetPassword(c.UserContext(), id, req.NewPassword); err != nil {
		return respondError(c, err)
	}
	middleware.LogActivity(c, "UPDATE", "password_reset_admin", id, nil)
	return c.JSON(fiber.Map{"message": "password reset successfully"})
}

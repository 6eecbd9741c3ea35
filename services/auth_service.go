package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"sekolah_absenku/models"
	"sekolah_absenku/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LoginInput is the login form. Identifier is the username for admins,
// the NIP for teachers and the NISN for students.
type LoginInput struct {
	Role       string `json:"role" validate:"required,oneof=admin teacher student"`
	Identifier string `json:"identifier" validate:"required,max=50"`
	Password   string `json:"password" validate:"required"`
}

// ChangePasswordInput changes the caller's password.
type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6,max=72"`
}

type AuthService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAuthService(db *gorm.DB) *AuthService {
	return &AuthService{db: db, now: time.Now}
}

// Authenticate verifies credentials for the given role. Legacy password
// hashes are upgraded to bcrypt on success.
func (s *AuthService) Authenticate(ctx context.Context, in LoginInput) (*models.User, error) {
	in.Identifier = strings.TrimSpace(in.Identifier)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var user models.User
	err := db.Where("identifier = ? AND role = ?", in.Identifier, in.Role).First(&user).Error
	if err != nil {
		if isNotFound(err) {
			return nil, &Error{Kind: ErrUnauthorized, Message: "invalid credentials"}
		}
		return nil, internal("load user", err)
	}
	if err := utils.CheckPassword(in.Password, user.Password); err != nil {
		return nil, &Error{Kind: ErrUnauthorized, Message: "invalid credentials"}
	}
	if user.Status != models.UserActive {
		return nil, forbidden("account is inactive")
	}

	now := s.now()
	updates := map[string]interface{}{"last_login_at": now}
	if utils.NeedsRehash(user.Password) {
		hashed, err := utils.HashPassword(in.Password)
		if err != nil {
			return nil, internal("rehash password", err)
		}
		updates["password"] = hashed
		logrus.WithField("user_id", user.ID).Info("Upgraded legacy password hash")
	}
	if err := db.Model(&user).Updates(updates).Error; err != nil {
		return nil, internal("record login", err)
	}
	return s.Profile(ctx, user.ID)
}

// Profile loads a user with its student or teacher record.
func (s *AuthService) Profile(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Preload("Student.Class").
		Preload("Teacher").
		First(&user, userID).Error
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("user not found")
		}
		return nil, internal("load profile", err)
	}
	return &user, nil
}

// HomeroomFor returns the class a teacher user leads, or nil.
func (s *AuthService) HomeroomFor(ctx context.Context, user *models.User) (*models.Class, error) {
	if user.Teacher == nil {
		return nil, nil
	}
	return homeroomOf(s.db.WithContext(ctx), user.Teacher.ID)
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uint, in ChangePasswordInput) error {
	if err := validateInput(in); err != nil {
		return err
	}
	db := s.db.WithContext(ctx)
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if isNotFound(err) {
			return notFound("user not found")
		}
		return internal("load user", err)
	}
	if err := utils.CheckPassword(in.CurrentPassword, user.Password); err != nil {
		if errors.Is(err, utils.ErrPasswordMismatch) {
			return invalid("current password is incorrect")
		}
		return internal("check password", err)
	}
	hashed, err := utils.HashPassword(in.NewPassword)
	if err != nil {
		return internal("hash password", err)
	}
	if err := db.Model(&user).Update("password", hashed).Error; err != nil {
		return internal("update password", err)
	}
	return nil
}

// SetStatus activates or deactivates an account. Admins cannot
// deactivate themselves.
func (s *AuthService) SetStatus(ctx context.Context, actor Actor, userID uint, status string) error {
	if status != models.UserActive && status != models.UserInactive {
		return invalid("status must be one of [active inactive]")
	}
	if actor.UserID == userID && status == models.UserInactive {
		return conflict("you cannot deactivate your own account")
	}
	db := s.db.WithContext(ctx)
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if isNotFound(err) {
			return notFound("user not found")
		}
		return internal("load user", err)
	}
	if err := db.Model(&user).Update("status", status).Error; err != nil {
		return internal("update user status", err)
	}
	return nil
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Role   string
	Status string
	Search string
}

// ListUsers returns login accounts for the admin user screen.
func (s *AuthService) ListUsers(ctx context.Context, f UserFilter, page utils.Pagination) ([]models.User, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.User{})
	if f.Role != "" {
		if !utils.IsValidRole(f.Role) {
			return nil, 0, invalid("role must be one of [admin teacher student]")
		}
		query = query.Where("role = ?", f.Role)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + q + "%"
		query = query.Where("name LIKE ? OR identifier LIKE ?", like, like)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, internal("count users", err)
	}
	var users []models.User
	err := query.Preload("Student.Class").Preload("Teacher").
		Order("role ASC, name ASC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&users).Error
	if err != nil {
		return nil, 0, internal("list users", err)
	}
	return users, total, nil
}

// ResetPassword sets a new password for another account (admin only).
func (s *AuthService) ResetPassword(ctx context.Context, userID uint, newPassword string) error {
	if len(newPassword) < 6 || len(newPassword) > 72 {
		return invalid("new_password must be between 6 and 72 characters")
	}
	db := s.db.WithContext(ctx)
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if isNotFound(err) {
			return notFound("user not found")
		}
		return internal("load user", err)
	}
	hashed, err := utils.HashPassword(newPassword)
	if err != nil {
		return internal("hash password", err)
	}
	if err := db.Model(&user).Update("password", hashed).Error; err != nil {
		return internal("reset password", err)
	}
	logrus.WithField("user_id", userID).Info("Password reset by admin")
	return nil
}

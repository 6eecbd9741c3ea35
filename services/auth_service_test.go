package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"sekolah_absenku/models"
	"sekolah_absenku/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateByRole(t *testing.T) {
	s := newSchool(t)
	svc := NewAuthService(s.db)
	ctx := context.Background()

	user, err := svc.Authenticate(ctx, LoginInput{Role: models.RoleTeacher, Identifier: s.teacher.NIP, Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, s.teacher.UserID, user.ID)
	require.NotNil(t, user.Teacher)
	assert.NotNil(t, user.LastLoginAt)

	home, err := svc.HomeroomFor(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, home)
	assert.Equal(t, s.class.ID, home.ID)

	_, err = svc.Authenticate(ctx, LoginInput{Role: models.RoleStudent, Identifier: s.teacher.NIP, Password: "secret1"})
	assert.ErrorIs(t, err, ErrUnauthorized, "wrong role")

	_, err = svc.Authenticate(ctx, LoginInput{Role: models.RoleTeacher, Identifier: s.teacher.NIP, Password: "nope"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.Authenticate(ctx, LoginInput{Role: "parent", Identifier: "x", Password: "x"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAuthenticateRejectsInactive(t *testing.T) {
	s := newSchool(t)
	svc := NewAuthService(s.db)
	ctx := context.Background()
	st := s.students[0]

	require.NoError(t, svc.SetStatus(ctx, s.admin, st.UserID, models.UserInactive))
	_, err := svc.Authenticate(ctx, LoginInput{Role: models.RoleStudent, Identifier: st.NISN, Password: "secret1"})
	assert.ErrorIs(t, err, ErrForbidden)

	assert.ErrorIs(t, svc.SetStatus(ctx, s.admin, s.admin.UserID, models.UserInactive), ErrConflict)
	assert.ErrorIs(t, svc.SetStatus(ctx, s.admin, st.UserID, "banned"), ErrValidation)
	assert.ErrorIs(t, svc.SetStatus(ctx, s.admin, 999, models.UserActive), ErrNotFound)
}

func TestAuthenticateUpgradesLegacyHash(t *testing.T) {
	s := newSchool(t)
	sum := sha256.Sum256([]byte("legacy-pass"))
	legacy := models.User{
		Identifier: "operator",
		Password:   "sha256$" + hex.EncodeToString(sum[:]),
		Role:       models.RoleAdmin,
		Name:       "Operator",
		Status:     models.UserActive,
	}
	require.NoError(t, s.db.Create(&legacy).Error)

	_, err := NewAuthService(s.db).Authenticate(context.Background(), LoginInput{Role: models.RoleAdmin, Identifier: "operator", Password: "legacy-pass"})
	require.NoError(t, err)

	var stored models.User
	require.NoError(t, s.db.First(&stored, legacy.ID).Error)
	assert.False(t, utils.NeedsRehash(stored.Password))
	assert.NoError(t, utils.CheckPassword("legacy-pass", stored.Password))
}

func TestChangeAndResetPassword(t *testing.T) {
	s := newSchool(t)
	svc := NewAuthService(s.db)
	ctx := context.Background()
	userID := s.students[0].UserID

	err := svc.ChangePassword(ctx, userID, ChangePasswordInput{CurrentPassword: "wrong", NewPassword: "newpass1"})
	assert.ErrorIs(t, err, ErrValidation)
	err = svc.ChangePassword(ctx, userID, ChangePasswordInput{CurrentPassword: "secret1", NewPassword: "123"})
	assert.ErrorIs(t, err, ErrValidation)
	require.NoError(t, svc.ChangePassword(ctx, userID, ChangePasswordInput{CurrentPassword: "secret1", NewPassword: "newpass1"}))

	var user models.User
	require.NoError(t, s.db.First(&user, userID).Error)
	assert.NoError(t, utils.CheckPassword("newpass1", user.Password))

	assert.ErrorIs(t, svc.ResetPassword(ctx, userID, "short"), ErrValidation)
	require.NoError(t, svc.ResetPassword(ctx, userID, "reset123"))
	require.NoError(t, s.db.First(&user, userID).Error)
	assert.NoError(t, utils.CheckPassword("reset123", user.Password))
}

func TestListUsers(t *testing.T) {
	s := newSchool(t)
	svc := NewAuthService(s.db)
	page := utils.Pagination{Page: 1, Limit: 50}

	users, total, err := svc.ListUsers(context.Background(), UserFilter{}, page)
	require.NoError(t, err)
	assert.EqualValues(t, 7, total)
	assert.Len(t, users, 7)

	users, total, err = svc.ListUsers(context.Background(), UserFilter{Role: models.RoleStudent, Search: "Dewi"}, page)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, users, 1)
	require.NotNil(t, users[0].Student)
	assert.Equal(t, s.students[1].ID, users[0].Student.ID)

	_, _, err = svc.ListUsers(context.Background(), UserFilter{Role: "principal"}, page)
	assert.ErrorIs(t, err, ErrValidation)
}

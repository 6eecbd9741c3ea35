package services

import (
	"context"
	"strings"

	"sekolah_absenku/models"
	"sekolah_absenku/utils"

	"gorm.io/gorm"
)

// TeacherInput is the payload for creating or updating a teacher.
type TeacherInput struct {
	NIP      string  `json:"nip" validate:"required,numeric,min=5,max=30"`
	Name     string  `json:"name" validate:"required,max=150"`
	Subject  string  `json:"subject" validate:"max=100"`
	Phone    string  `json:"phone" validate:"max=20"`
	Email    string  `json:"email" validate:"omitempty,email"`
	LineID   *string `json:"line_id" validate:"omitempty,max=100"`
	Password string  `json:"password" validate:"omitempty,min=6"`
}

type TeacherService struct {
	db *gorm.DB
}

func NewTeacherService(db *gorm.DB) *TeacherService {
	return &TeacherService{db: db}
}

// Create registers a teacher and its login account (identifier = NIP).
func (s *TeacherService) Create(ctx context.Context, in TeacherInput) (*models.Teacher, error) {
	in.NIP = strings.TrimSpace(in.NIP)
	in.Name = utils.SanitizeString(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if err := s.ensureNIPFree(db, in.NIP, 0); err != nil {
		return nil, err
	}
	if err := ensureIdentifierFree(db, in.NIP, 0); err != nil {
		return nil, err
	}

	password := in.Password
	if password == "" {
		password = in.NIP
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return nil, internal("hash teacher password", err)
	}

	var teacher models.Teacher
	err = db.Transaction(func(tx *gorm.DB) error {
		user := models.User{
			Identifier: in.NIP,
			Password:   hashed,
			Role:       models.RoleTeacher,
			Name:       in.Name,
			Email:      in.Email,
			LineID:     derefString(in.LineID),
			Status:     models.UserActive,
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		teacher = models.Teacher{
			UserID:  user.ID,
			NIP:     in.NIP,
			Name:    in.Name,
			Subject: in.Subject,
			Phone:   in.Phone,
			Email:   in.Email,
		}
		return tx.Create(&teacher).Error
	})
	if err != nil {
		return nil, internal("create teacher", err)
	}
	return s.Get(ctx, teacher.ID)
}

func (s *TeacherService) Update(ctx context.Context, id uint, in TeacherInput) (*models.Teacher, error) {
	in.NIP = strings.TrimSpace(in.NIP)
	in.Name = utils.SanitizeString(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var teacher models.Teacher
	if err := db.First(&teacher, id).Error; err != nil {
		if isNotFound(err) {
			return nil, notFound("teacher not found")
		}
		return nil, internal("load teacher", err)
	}
	if in.NIP != teacher.NIP {
		if err := s.ensureNIPFree(db, in.NIP, teacher.ID); err != nil {
			return nil, err
		}
		if err := ensureIdentifierFree(db, in.NIP, teacher.UserID); err != nil {
			return nil, err
		}
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		userUpdates := map[string]interface{}{
			"identifier": in.NIP,
			"name":       in.Name,
			"email":      in.Email,
		}
		// line_id is left alone unless sent; LINE linking usually owns it.
		if in.LineID != nil {
			userUpdates["line_id"] = *in.LineID
		}
		if in.Password != "" {
			hashed, err := utils.HashPassword(in.Password)
			if err != nil {
				return err
			}
			userUpdates["password"] = hashed
		}
		if err := tx.Model(&models.User{}).Where("id = ?", teacher.UserID).Updates(userUpdates).Error; err != nil {
			return err
		}
		return tx.Model(&teacher).Updates(map[string]interface{}{
			"nip":     in.NIP,
			"name":    in.Name,
			"subject": in.Subject,
			"phone":   in.Phone,
			"email":   in.Email,
		}).Error
	})
	if err != nil {
		return nil, internal("update teacher", err)
	}
	return s.Get(ctx, id)
}

// Delete removes a teacher who is not homeroom teacher of any class.
// Attendance rows they recorded and leave requests they reviewed are kept
// with the reference cleared.
func (s *TeacherService) Delete(ctx context.Context, id uint) error {
	db := s.db.WithContext(ctx)
	var teacher models.Teacher
	if err := db.First(&teacher, id).Error; err != nil {
		if isNotFound(err) {
			return notFound("teacher not found")
		}
		return internal("load teacher", err)
	}

	var class models.Class
	err := db.Where("homeroom_teacher_id = ?", id).First(&class).Error
	if err == nil {
		return conflict("teacher is homeroom teacher of class %s", class.Name)
	}
	if !isNotFound(err) {
		return internal("check homeroom", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Attendance{}).Where("teacher_id = ?", id).Update("teacher_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.LeaveRequest{}).Where("reviewed_by = ?", teacher.UserID).Update("reviewed_by", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", teacher.UserID).Delete(&models.Notification{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&teacher).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, teacher.UserID).Error
	})
	if err != nil {
		return internal("delete teacher", err)
	}
	return nil
}

func (s *TeacherService) Get(ctx context.Context, id uint) (*models.Teacher, error) {
	var teacher models.Teacher
	if err := s.db.WithContext(ctx).Preload("User").First(&teacher, id).Error; err != nil {
		if isNotFound(err) {
			return nil, notFound("teacher not found")
		}
		return nil, internal("get teacher", err)
	}
	return &teacher, nil
}

func (s *TeacherService) List(ctx context.Context, search string, page utils.Pagination) ([]models.Teacher, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Teacher{})
	if q := strings.TrimSpace(search); q != "" {
		like := "%" + q + "%"
		query = query.Where("name LIKE ? OR nip LIKE ? OR subject LIKE ?", like, like, like)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, internal("count teachers", err)
	}
	var teachers []models.Teacher
	if err := query.Order("name ASC").Offset(page.Offset()).Limit(page.Limit).Find(&teachers).Error; err != nil {
		return nil, 0, internal("list teachers", err)
	}
	return teachers, total, nil
}

func (s *TeacherService) ensureNIPFree(db *gorm.DB, nip string, exceptID uint) error {
	var count int64
	if err := db.Model(&models.Teacher{}).Where("nip = ? AND id <> ?", nip, exceptID).Count(&count).Error; err != nil {
		return internal("check nip", err)
	}
	if count > 0 {
		return conflict("NIP already registered")
	}
	return nil
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

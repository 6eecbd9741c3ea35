package services

import (
	"context"
	"strings"

	"sekolah_absenku/models"
	"sekolah_absenku/storage"
	"sekolah_absenku/utils"

	"gorm.io/gorm"
)

// StudentInput is the payload for creating or updating a student.
type StudentInput struct {
	NISN        string `json:"nisn" validate:"required,numeric,min=4,max=20"`
	Name        string `json:"name" validate:"required,max=150"`
	ClassID     uint   `json:"class_id" validate:"required"`
	Gender      string `json:"gender" validate:"omitempty,oneof=L P"`
	BirthDate   string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Address     string `json:"address" validate:"max=500"`
	ParentName  string `json:"parent_name" validate:"max=150"`
	ParentPhone string `json:"parent_phone" validate:"max=20"`
	Email       string `json:"email" validate:"omitempty,email"`
	Password    string `json:"password" validate:"omitempty,min=6"`
}

// StudentFilter narrows List.
type StudentFilter struct {
	ClassID uint
	Search  string
}

type StudentService struct {
	db    *gorm.DB
	stats *StatsService
	store storage.Store
}

// NewStudentService builds the service. stats and store may be nil.
func NewStudentService(db *gorm.DB, stats *StatsService, store storage.Store) *StudentService {
	return &StudentService{db: db, stats: stats, store: store}
}

// Create registers a student together with its login account. The initial
// password defaults to the NISN.
func (s *StudentService) Create(ctx context.Context, in StudentInput) (*models.Student, error) {
	in.NISN = strings.TrimSpace(in.NISN)
	in.Name = utils.SanitizeString(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if err := s.ensureClass(db, in.ClassID); err != nil {
		return nil, err
	}
	if err := s.ensureNISNFree(db, in.NISN, 0); err != nil {
		return nil, err
	}
	if err := ensureIdentifierFree(db, in.NISN, 0); err != nil {
		return nil, err
	}

	password := in.Password
	if password == "" {
		password = in.NISN
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return nil, internal("hash student password", err)
	}

	var student models.Student
	err = db.Transaction(func(tx *gorm.DB) error {
		user := models.User{
			Identifier: in.NISN,
			Password:   hashed,
			Role:       models.RoleStudent,
			Name:       in.Name,
			Email:      in.Email,
			Status:     models.UserActive,
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		student = models.Student{
			UserID:      user.ID,
			NISN:        in.NISN,
			Name:        in.Name,
			ClassID:     in.ClassID,
			Gender:      in.Gender,
			BirthDate:   in.BirthDate,
			Address:     in.Address,
			ParentName:  in.ParentName,
			ParentPhone: in.ParentPhone,
		}
		return tx.Create(&student).Error
	})
	if err != nil {
		return nil, internal("create student", err)
	}
	s.stats.InvalidateAll(ctx)
	return s.Get(ctx, student.ID)
}

// Update changes a student's profile; a new NISN also renames the login.
func (s *StudentService) Update(ctx context.Context, id uint, in StudentInput) (*models.Student, error) {
	in.NISN = strings.TrimSpace(in.NISN)
	in.Name = utils.SanitizeString(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var student models.Student
	if err := db.First(&student, id).Error; err != nil {
		if isNotFound(err) {
			return nil, notFound("student not found")
		}
		return nil, internal("load student", err)
	}
	if in.ClassID != student.ClassID {
		if err := s.ensureClass(db, in.ClassID); err != nil {
			return nil, err
		}
	}
	if in.NISN != student.NISN {
		if err := s.ensureNISNFree(db, in.NISN, student.ID); err != nil {
			return nil, err
		}
		if err := ensureIdentifierFree(db, in.NISN, student.UserID); err != nil {
			return nil, err
		}
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		userUpdates := map[string]interface{}{
			"identifier": in.NISN,
			"name":       in.Name,
			"email":      in.Email,
		}
		if in.Password != "" {
			hashed, err := utils.HashPassword(in.Password)
			if err != nil {
				return err
			}
			userUpdates["password"] = hashed
		}
		if err := tx.Model(&models.User{}).Where("id = ?", student.UserID).Updates(userUpdates).Error; err != nil {
			return err
		}
		return tx.Model(&student).Updates(map[string]interface{}{
			"nisn":         in.NISN,
			"name":         in.Name,
			"class_id":     in.ClassID,
			"gender":       in.Gender,
			"birth_date":   in.BirthDate,
			"address":      in.Address,
			"parent_name":  in.ParentName,
			"parent_phone": in.ParentPhone,
		}).Error
	})
	if err != nil {
		return nil, internal("update student", err)
	}
	if in.ClassID != student.ClassID {
		s.stats.InvalidateAll(ctx)
	}
	return s.Get(ctx, id)
}

// Delete removes a student with its account, attendance, leave requests
// (and their attachments) and notifications.
func (s *StudentService) Delete(ctx context.Context, id uint) error {
	db := s.db.WithContext(ctx)
	var student models.Student
	if err := db.First(&student, id).Error; err != nil {
		if isNotFound(err) {
			return notFound("student not found")
		}
		return internal("load student", err)
	}
	var attachments []string
	err := db.Model(&models.LeaveRequest{}).
		Where("student_id = ? AND attachment_url <> ''", id).
		Pluck("attachment_url", &attachments).Error
	if err != nil {
		return internal("load leave attachments", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("student_id = ?", id).Delete(&models.Attendance{}).Error; err != nil {
			return err
		}
		if err := tx.Where("student_id = ?", id).Delete(&models.LeaveRequest{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", student.UserID).Delete(&models.Notification{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&student).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, student.UserID).Error
	})
	if err != nil {
		return internal("delete student", err)
	}
	for _, url := range attachments {
		removeAttachment(ctx, s.store, url)
	}
	s.stats.InvalidateAll(ctx)
	return nil
}

func (s *StudentService) Get(ctx context.Context, id uint) (*models.Student, error) {
	var student models.Student
	err := s.db.WithContext(ctx).Preload("Class").Preload("User").First(&student, id).Error
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("student not found")
		}
		return nil, internal("get student", err)
	}
	return &student, nil
}

// List returns students ordered by name.
func (s *StudentService) List(ctx context.Context, f StudentFilter, page utils.Pagination) ([]models.Student, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Student{})
	if f.ClassID != 0 {
		query = query.Where("class_id = ?", f.ClassID)
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + q + "%"
		query = query.Where("name LIKE ? OR nisn LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, internal("count students", err)
	}
	var students []models.Student
	err := query.Preload("Class").
		Order("name ASC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&students).Error
	if err != nil {
		return nil, 0, internal("list students", err)
	}
	return students, total, nil
}

func (s *StudentService) ensureClass(db *gorm.DB, classID uint) error {
	var count int64
	if err := db.Model(&models.Class{}).Where("id = ?", classID).Count(&count).Error; err != nil {
		return internal("check class", err)
	}
	if count == 0 {
		return invalid("class not found")
	}
	return nil
}

func (s *StudentService) ensureNISNFree(db *gorm.DB, nisn string, exceptID uint) error {
	var count int64
	if err := db.Model(&models.Student{}).Where("nisn = ? AND id <> ?", nisn, exceptID).Count(&count).Error; err != nil {
		return internal("check nisn", err)
	}
	if count > 0 {
		return conflict("NISN already registered")
	}
	return nil
}

// ensureIdentifierFree guards the users.identifier unique index.
func ensureIdentifierFree(db *gorm.DB, identifier string, exceptUserID uint) error {
	var count int64
	err := db.Model(&models.User{}).Where("identifier = ? AND id <> ?", identifier, exceptUserID).Count(&count).Error
	if err != nil {
		return internal("check identifier", err)
	}
	if count > 0 {
		return conflict("identifier %s is already in use", identifier)
	}
	return nil
}

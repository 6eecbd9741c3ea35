package services

import (
	"context"
	"strings"

	"sekolah_absenku/models"

	"gorm.io/gorm"
)

// ClassInput is the payload for creating or updating a class.
type ClassInput struct {
	Name              string `json:"name" validate:"required,max=50"`
	Grade             string `json:"grade" validate:"max=10"`
	AcademicYear      string `json:"academic_year" validate:"omitempty,len=9"`
	HomeroomTeacherID *uint  `json:"homeroom_teacher_id"`
}

type ClassService struct {
	db    *gorm.DB
	stats *StatsService
}

// NewClassService builds the service. stats may be nil.
func NewClassService(db *gorm.DB, stats *StatsService) *ClassService {
	return &ClassService{db: db, stats: stats}
}

func (s *ClassService) Create(ctx context.Context, in ClassInput) (*models.Class, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	if err := s.checkName(db, in.Name, 0); err != nil {
		return nil, err
	}
	if err := s.checkHomeroom(db, in.HomeroomTeacherID, 0); err != nil {
		return nil, err
	}

	class := models.Class{
		Name:              in.Name,
		Grade:             in.Grade,
		AcademicYear:      in.AcademicYear,
		HomeroomTeacherID: in.HomeroomTeacherID,
	}
	if err := db.Create(&class).Error; err != nil {
		return nil, internal("create class", err)
	}
	return s.Get(ctx, class.ID)
}

func (s *ClassService) Update(ctx context.Context, id uint, in ClassInput) (*models.Class, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	var class models.Class
	if err := db.First(&class, id).Error; err != nil {
		if isNotFound(err) {
			return nil, notFound("class not found")
		}
		return nil, internal("load class", err)
	}
	if err := s.checkName(db, in.Name, id); err != nil {
		return nil, err
	}
	if err := s.checkHomeroom(db, in.HomeroomTeacherID, id); err != nil {
		return nil, err
	}

	err := db.Model(&class).Updates(map[string]interface{}{
		"name":                in.Name,
		"grade":               in.Grade,
		"academic_year":       in.AcademicYear,
		"homeroom_teacher_id": in.HomeroomTeacherID,
	}).Error
	if err != nil {
		return nil, internal("update class", err)
	}
	return s.Get(ctx, id)
}

// Delete removes an empty class. Attendance history recorded under the
// class goes with it.
func (s *ClassService) Delete(ctx context.Context, id uint) error {
	db := s.db.WithContext(ctx)
	var class models.Class
	if err := db.First(&class, id).Error; err != nil {
		if isNotFound(err) {
			return notFound("class not found")
		}
		return internal("load class", err)
	}

	var students int64
	if err := db.Model(&models.Student{}).Where("class_id = ?", id).Count(&students).Error; err != nil {
		return internal("count class students", err)
	}
	if students > 0 {
		return conflict("class still has students")
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("class_id = ?", id).Delete(&models.Attendance{}).Error; err != nil {
			return err
		}
		return tx.Delete(&class).Error
	})
	if err != nil {
		return internal("delete class", err)
	}
	s.stats.InvalidateAll(ctx)
	return nil
}

// Get returns a class with its homeroom teacher and student count.
func (s *ClassService) Get(ctx context.Context, id uint) (*models.Class, error) {
	db := s.db.WithContext(ctx)
	var class models.Class
	if err := db.Preload("HomeroomTeacher").First(&class, id).Error; err != nil {
		if isNotFound(err) {
			return nil, notFound("class not found")
		}
		return nil, internal("get class", err)
	}
	if err := db.Model(&models.Student{}).Where("class_id = ?", id).Count(&class.StudentCount).Error; err != nil {
		return nil, internal("count class students", err)
	}
	return &class, nil
}

// List returns every class ordered by name, with student counts.
func (s *ClassService) List(ctx context.Context) ([]models.Class, error) {
	db := s.db.WithContext(ctx)
	var classes []models.Class
	if err := db.Preload("HomeroomTeacher").Order("name ASC").Find(&classes).Error; err != nil {
		return nil, internal("list classes", err)
	}

	var rows []struct {
		ClassID uint
		Total   int64
	}
	err := db.Model(&models.Student{}).
		Select("class_id, COUNT(*) AS total").
		Group("class_id").
		Scan(&rows).Error
	if err != nil {
		return nil, internal("count students per class", err)
	}
	counts := make(map[uint]int64, len(rows))
	for _, r := range rows {
		counts[r.ClassID] = r.Total
	}
	for i := range classes {
		classes[i].StudentCount = counts[classes[i].ID]
	}
	return classes, nil
}

// Students returns the class roster ordered by name.
func (s *ClassService) Students(ctx context.Context, classID uint) ([]models.Student, error) {
	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.Class{}).Where("id = ?", classID).Count(&count).Error; err != nil {
		return nil, internal("check class", err)
	}
	if count == 0 {
		return nil, notFound("class not found")
	}
	var students []models.Student
	if err := db.Where("class_id = ?", classID).Order("name ASC").Find(&students).Error; err != nil {
		return nil, internal("list class students", err)
	}
	return students, nil
}

// HomeroomOf returns the class led by the teacher, or nil.
func (s *ClassService) HomeroomOf(ctx context.Context, teacherID uint) (*models.Class, error) {
	return homeroomOf(s.db.WithContext(ctx), teacherID)
}

func homeroomOf(db *gorm.DB, teacherID uint) (*models.Class, error) {
	if teacherID == 0 {
		return nil, nil
	}
	var class models.Class
	err := db.Where("homeroom_teacher_id = ?", teacherID).First(&class).Error
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, internal("load homeroom class", err)
	}
	return &class, nil
}

func (s *ClassService) checkName(db *gorm.DB, name string, exceptID uint) error {
	var count int64
	if err := db.Model(&models.Class{}).Where("name = ? AND id <> ?", name, exceptID).Count(&count).Error; err != nil {
		return internal("check class name", err)
	}
	if count > 0 {
		return conflict("class name already exists")
	}
	return nil
}

func (s *ClassService) checkHomeroom(db *gorm.DB, teacherID *uint, exceptClassID uint) error {
	if teacherID == nil {
		return nil
	}
	var teacher models.Teacher
	if err := db.First(&teacher, *teacherID).Error; err != nil {
		if isNotFound(err) {
			return invalid("homeroom teacher not found")
		}
		return internal("load homeroom teacher", err)
	}
	var other models.Class
	err := db.Where("homeroom_teacher_id = ? AND id <> ?", *teacherID, exceptClassID).First(&other).Error
	if err == nil {
		return conflict("%s is already homeroom teacher of class %s", teacher.Name, other.Name)
	}
	if !isNotFound(err) {
		return internal("check homeroom", err)
	}
	return nil
}

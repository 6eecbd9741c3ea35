package seeders

import (
	"context"
	"fmt"
	"log"

	"sekolah_absenku/models"
	"sekolah_absenku/services"
	"sekolah_absenku/utils"

	"gorm.io/gorm"
)

// Run seeds an empty database with an admin account and sample data.
// Every step is skipped when its table already has rows.
func Run(db *gorm.DB) error {
	log.Println("Starting database seeding...")

	steps := []struct {
		name string
		fn   func(*gorm.DB) error
	}{
		{"admin", SeedAdmin},
		{"teachers", SeedTeachers},
		{"classes", SeedClasses},
		{"students", SeedStudents},
	}
	for _, step := range steps {
		if err := step.fn(db); err != nil {
			return fmt.Errorf("seed %s: %w", step.name, err)
		}
	}

	log.Println("Database seeding completed successfully!")
	return nil
}

// SeedAdmin creates the default admin account (admin / admin123)
func SeedAdmin(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Println("Admin already seeded, skipping...")
		return nil
	}
	hashed, err := utils.HashPassword("admin123")
	if err != nil {
		return err
	}
	admin := models.User{
		Identifier: "admin",
		Password:   hashed,
		Role:       models.RoleAdmin,
		Name:       "Administrator",
		Status:     models.UserActive,
	}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}
	log.Println("Admin seeded successfully")
	return nil
}

// SeedTeachers seeds sample teachers; their password is their NIP
func SeedTeachers(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Teacher{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Println("Teachers already seeded, skipping...")
		return nil
	}

	svc := services.NewTeacherService(db)
	teachers := []services.TeacherInput{
		{NIP: "198501012010011001", Name: "Budi Santoso", Subject: "Matematika", Phone: "081234567890"},
		{NIP: "198702152011012002", Name: "Siti Rahayu", Subject: "Bahasa Indonesia", Phone: "081234567891"},
		{NIP: "199003202015031003", Name: "Agus Wijaya", Subject: "IPA", Phone: "081234567892"},
	}
	for _, in := range teachers {
		if _, err := svc.Create(context.Background(), in); err != nil {
			return fmt.Errorf("teacher %s: %w", in.NIP, err)
		}
	}
	log.Println("Teachers seeded successfully")
	return nil
}

// SeedClasses seeds one class per sample teacher, each as homeroom teacher
func SeedClasses(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Class{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Println("Classes already seeded, skipping...")
		return nil
	}

	var teachers []models.Teacher
	if err := db.Order("id ASC").Limit(3).Find(&teachers).Error; err != nil {
		return err
	}
	names := []string{"VII-A", "VIII-A", "IX-A"}
	grades := []string{"7", "8", "9"}

	svc := services.NewClassService(db, nil)
	for i, name := range names {
		in := services.ClassInput{Name: name, Grade: grades[i], AcademicYear: "2025/2026"}
		if i < len(teachers) {
			id := teachers[i].ID
			in.HomeroomTeacherID = &id
		}
		if _, err := svc.Create(context.Background(), in); err != nil {
			return fmt.Errorf("class %s: %w", name, err)
		}
	}
	log.Println("Classes seeded successfully")
	return nil
}

// SeedStudents seeds a few students per class; their password is their NISN
func SeedStudents(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Student{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Println("Students already seeded, skipping...")
		return nil
	}

	var classes []models.Class
	if err := db.Order("id ASC").Find(&classes).Error; err != nil {
		return err
	}
	firstNames := []string{"Andi", "Dewi", "Rizky", "Putri", "Fajar"}
	genders := []string{"L", "P", "L", "P", "L"}

	svc := services.NewStudentService(db, nil, nil)
	for ci, class := range classes {
		for i, first := range firstNames {
			in := services.StudentInput{
				NISN:       fmt.Sprintf("00%02d%06d", ci+1, i+1),
				Name:       fmt.Sprintf("%s %s", first, class.Name),
				ClassID:    class.ID,
				Gender:     genders[i],
				ParentName: "Orang Tua " + first,
			}
			if _, err := svc.Create(context.Background(), in); err != nil {
				return fmt.Errorf("student %s: %w", in.NISN, err)
			}
		}
	}
	log.Println("Students seeded successfully")
	return nil
}

package utils

import (
	"time"

	"sekolah_absenku/models"
)

// Compact representations used across APIs
type ClassShort struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type ProfileDTO struct {
	ID       uint        `json:"id"`
	Type     string      `json:"type"` // "student" or "teacher"
	Number   string      `json:"number"`
	Name     string      `json:"name"`
	Class    *ClassShort `json:"class,omitempty"`
	Homeroom *ClassShort `json:"homeroom,omitempty"`
	Subject  string      `json:"subject,omitempty"`
}

type UserDTO struct {
	ID          uint        `json:"id"`
	Identifier  string      `json:"identifier"`
	Name        string      `json:"name"`
	Email       string      `json:"email,omitempty"`
	Role        string      `json:"role"`
	Status      string      `json:"status"`
	LastLoginAt *time.Time  `json:"last_login_at,omitempty"`
	Profile     *ProfileDTO `json:"profile,omitempty"`
}

// ToUserDTO maps a user to its public shape.
// Assumptions: caller has preloaded Student.Class and Teacher when available;
// homeroom may be nil.
func ToUserDTO(u models.User, homeroom *models.Class) UserDTO {
	dto := UserDTO{
		ID:          u.ID,
		Identifier:  u.Identifier,
		Name:        u.Name,
		Email:       u.Email,
		Role:        u.Role,
		Status:      u.Status,
		LastLoginAt: u.LastLoginAt,
	}

	switch {
	case u.Student != nil:
		p := &ProfileDTO{ID: u.Student.ID, Type: models.RoleStudent, Number: u.Student.NISN, Name: u.Student.Name}
		if u.Student.Class != nil {
			p.Class = &ClassShort{ID: u.Student.Class.ID, Name: u.Student.Class.Name}
		}
		dto.Profile = p
	case u.Teacher != nil:
		p := &ProfileDTO{ID: u.Teacher.ID, Type: models.RoleTeacher, Number: u.Teacher.NIP, Name: u.Teacher.Name, Subject: u.Teacher.Subject}
		if homeroom != nil {
			p.Homeroom = &ClassShort{ID: homeroom.ID, Name: homeroom.Name}
		}
		dto.Profile = p
	}
	return dto
}

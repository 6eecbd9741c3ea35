package models

import (
	"database/sql/driver"
	"time"
)

// Base model with common fields. Rows are hard-deleted so unique identifiers
// (NISN, NIP, class names) can be reused.
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JSON field type for GORM
type JSON []byte

func (j JSON) Value() (driver.Value, error) {
	if j.IsNull() {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = append((*j)[0:0], v...)
	}
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if j.IsNull() {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	if j == nil {
		return nil
	}
	*j = append((*j)[0:0], data...)
	return nil
}

func (j JSON) IsNull() bool {
	return len(j) == 0 || string(j) == "null"
}

// Roles
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// User statuses
const (
	UserActive   = "active"
	UserInactive = "inactive"
)

// Attendance statuses
const (
	AttendancePresent    = "present"
	AttendanceLate       = "late"
	AttendanceSick       = "sick"
	AttendancePermission = "permission"
	AttendanceAbsent     = "absent"
)

// AttendanceStatuses lists every status in display order.
var AttendanceStatuses = []string{
	AttendancePresent,
	AttendanceLate,
	AttendanceSick,
	AttendancePermission,
	AttendanceAbsent,
}

// Leave types and statuses
const (
	LeaveSick       = "sick"
	LeavePermission = "permission"

	LeavePending  = "pending"
	LeaveApproved = "approved"
	LeaveRejected = "rejected"
)

// User is the login account. Identifier is the username for admins,
// the NIP for teachers and the NISN for students.
type User struct {
	BaseModel
	Identifier  string     `json:"identifier" gorm:"size:50;not null;uniqueIndex"`
	Password    string     `json:"-" gorm:"size:255;not null"`
	Role        string     `json:"role" gorm:"size:20;not null;index"`
	Name        string     `json:"name" gorm:"size:150;not null"`
	Email       string     `json:"email" gorm:"size:150"`
	LineID      string     `json:"line_id" gorm:"size:100"`
	Status      string     `json:"status" gorm:"size:20;not null;default:'active'"`
	LastLoginAt *time.Time `json:"last_login_at"`

	// Relationships
	Student *Student `json:"student,omitempty" gorm:"foreignKey:UserID"`
	Teacher *Teacher `json:"teacher,omitempty" gorm:"foreignKey:UserID"`
}

// Student model
type Student struct {
	BaseModel
	UserID      uint   `json:"user_id" gorm:"uniqueIndex;not null"`
	NISN        string `json:"nisn" gorm:"column:nisn;size:20;not null;uniqueIndex"`
	Name        string `json:"name" gorm:"size:150;not null"`
	ClassID     uint   `json:"class_id" gorm:"not null;index"`
	Gender      string `json:"gender" gorm:"size:1"` // L, P
	BirthDate   string `json:"birth_date" gorm:"size:10"`
	Address     string `json:"address" gorm:"size:500"`
	ParentName  string `json:"parent_name" gorm:"size:150"`
	ParentPhone string `json:"parent_phone" gorm:"size:20"`

	// Relationships
	User  *User  `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Class *Class `json:"class,omitempty" gorm:"foreignKey:ClassID"`
}

// Teacher model
type Teacher struct {
	BaseModel
	UserID  uint   `json:"user_id" gorm:"uniqueIndex;not null"`
	NIP     string `json:"nip" gorm:"column:nip;size:30;not null;uniqueIndex"`
	Name    string `json:"name" gorm:"size:150;not null"`
	Subject string `json:"subject" gorm:"size:100"`
	Phone   string `json:"phone" gorm:"size:20"`
	Email   string `json:"email" gorm:"size:150"`

	// Relationships
	User *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

// Class model. A teacher is wali kelas of at most one class.
type Class struct {
	BaseModel
	Name              string `json:"name" gorm:"size:50;not null;uniqueIndex"`
	Grade             string `json:"grade" gorm:"size:10"`
	AcademicYear      string `json:"academic_year" gorm:"size:9"`
	HomeroomTeacherID *uint  `json:"homeroom_teacher_id" gorm:"uniqueIndex"`

	// Relationships
	HomeroomTeacher *Teacher  `json:"homeroom_teacher,omitempty" gorm:"foreignKey:HomeroomTeacherID"`
	Students        []Student `json:"students,omitempty" gorm:"foreignKey:ClassID"`
	StudentCount    int64     `json:"student_count" gorm:"-"`
}

// Attendance is one student's record for one day.
type Attendance struct {
	BaseModel
	StudentID      uint   `json:"student_id" gorm:"not null;uniqueIndex:idx_attendance_student_date"`
	ClassID        uint   `json:"class_id" gorm:"not null;index"`
	TeacherID      *uint  `json:"teacher_id" gorm:"index"`
	Date           string `json:"date" gorm:"size:10;not null;index;uniqueIndex:idx_attendance_student_date"` // YYYY-MM-DD
	Status         string `json:"status" gorm:"size:20;not null;index"`
	CheckIn        string `json:"check_in" gorm:"size:5"`  // HH:MM
	CheckOut       string `json:"check_out" gorm:"size:5"` // HH:MM
	Notes          string `json:"notes" gorm:"type:text"`
	LeaveRequestID *uint  `json:"leave_request_id" gorm:"index"`

	// Relationships
	Student *Student `json:"student,omitempty" gorm:"foreignKey:StudentID"`
	Class   *Class   `json:"class,omitempty" gorm:"foreignKey:ClassID"`
	Teacher *Teacher `json:"teacher,omitempty" gorm:"foreignKey:TeacherID"`
}

// LeaveRequest is a pengajuan izin submitted by a student.
type LeaveRequest struct {
	BaseModel
	StudentID     uint       `json:"student_id" gorm:"not null;index"`
	Type          string     `json:"type" gorm:"size:20;not null"`
	StartDate     string     `json:"start_date" gorm:"size:10;not null"`
	EndDate       string     `json:"end_date" gorm:"size:10;not null"`
	Reason        string     `json:"reason" gorm:"type:text;not null"`
	AttachmentURL string     `json:"attachment_url" gorm:"size:500"`
	Status        string     `json:"status" gorm:"size:20;not null;default:'pending';index"`
	ReviewedBy    *uint      `json:"reviewed_by"`
	ReviewedAt    *time.Time `json:"reviewed_at"`
	ReviewNote    string     `json:"review_note" gorm:"type:text"`

	// Relationships
	Student  *Student `json:"student,omitempty" gorm:"foreignKey:StudentID"`
	Reviewer *User    `json:"reviewer,omitempty" gorm:"foreignKey:ReviewedBy"`
}

// ActivityLog model for activity tracking
type ActivityLog struct {
	BaseModel
	UserID     uint   `json:"user_id" gorm:"index"`
	Action     string `json:"action" gorm:"size:100;not null"`
	Resource   string `json:"resource" gorm:"size:100;not null"`
	ResourceID uint   `json:"resource_id"`
	Details    JSON   `json:"details" gorm:"type:json"`
	IPAddress  string `json:"ip_address" gorm:"size:45"`
	UserAgent  string `json:"user_agent" gorm:"size:500"`
}

// LogArchive records activity logs moved to object storage.
type LogArchive struct {
	BaseModel
	FileName    string    `json:"file_name" gorm:"size:255;not null"`
	S3Key       string    `json:"s3_key" gorm:"size:500;not null"`
	EndDate     time.Time `json:"end_date"`
	RecordCount int       `json:"record_count"`
	FileSize    int64     `json:"file_size"`
	Status      string    `json:"status" gorm:"size:20;not null;default:'completed'"`
}

// Notification model
type Notification struct {
	BaseModel
	UserID  uint       `json:"user_id" gorm:"not null;index"`
	Title   string     `json:"title" gorm:"size:255;not null"`
	Message string     `json:"message" gorm:"type:text;not null"`
	Type    string     `json:"type" gorm:"size:20;not null;default:'info'"` // info, success, warning, error
	Read    bool       `json:"read" gorm:"default:false"`
	ReadAt  *time.Time `json:"read_at"`
}

// Export kinds
const (
	ExportAttendancePDF   = "attendance_pdf"
	ExportAttendanceExcel = "attendance_excel"
	ExportStudentsExcel   = "students_excel"
)

// ExportFile tracks generated report files.
type ExportFile struct {
	BaseModel
	Kind        string `json:"kind" gorm:"size:50;not null;index"`
	Format      string `json:"format" gorm:"size:10;not null"` // pdf, xlsx
	FileName    string `json:"file_name" gorm:"size:255;not null"`
	StorageKey  string `json:"storage_key" gorm:"size:500;not null"`
	URL         string `json:"url" gorm:"size:1000;not null"`
	Filters     JSON   `json:"filters" gorm:"type:json"`
	RecordCount int    `json:"record_count"`
	FileSize    int64  `json:"file_size"`
	RequestedBy uint   `json:"requested_by" gorm:"index"`
}

// All returns every model for migrations.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Teacher{},
		&Class{},
		&Student{},
		&Attendance{},
		&LeaveRequest{},
		&ActivityLog{},
		&LogArchive{},
		&Notification{},
		&ExportFile{},
	}
}

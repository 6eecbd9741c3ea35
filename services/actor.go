package services

import (
	"time"

	"sekolah_absenku/models"
	"sekolah_absenku/utils"
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID    uint
	Role      string
	TeacherID uint // set when Role is teacher
	StudentID uint // set when Role is student
}

// ActorFromUser builds an Actor; Student and Teacher must be preloaded.
func ActorFromUser(u *models.User) Actor {
	a := Actor{UserID: u.ID, Role: u.Role}
	if u.Teacher != nil {
		a.TeacherID = u.Teacher.ID
	}
	if u.Student != nil {
		a.StudentID = u.Student.ID
	}
	return a
}

func (a Actor) IsAdmin() bool   { return a.Role == models.RoleAdmin }
func (a Actor) IsTeacher() bool { return a.Role == models.RoleTeacher }
func (a Actor) IsStudent() bool { return a.Role == models.RoleStudent }

// clock resolves "today" and "now" in the school's timezone.
type clock struct {
	loc *time.Location
	now func() time.Time
}

func newClock(loc *time.Location) clock {
	if loc == nil {
		loc = time.UTC
	}
	return clock{loc: loc, now: time.Now}
}

func (c clock) today() string {
	return utils.FormatDate(c.now(), c.loc)
}

func (c clock) timeOfDay() string {
	return c.now().In(c.loc).Format(utils.ClockLayout)
}

package models

import "time"

// LectureStatus captures the lifecycle of a lecture slot.
type LectureStatus string

const (
	LectureStatusScheduled   LectureStatus = "SCHEDULED"
	LectureStatusSubAssigned LectureStatus = "SUB_ASSIGNED"
	LectureStatusCompleted   LectureStatus = "COMPLETED"
	LectureStatusCancelled   LectureStatus = "CANCELLED"
)

// Lecture is a single dated class slot owned by a scheduled teacher.
type Lecture struct {
	ID                  string        `db:"id" json:"id"`
	ScheduledTeacherID  string        `db:"scheduled_teacher_id" json:"scheduled_teacher_id"`
	SubstituteTeacherID *string       `db:"substitute_teacher_id" json:"substitute_teacher_id,omitempty"`
	Department          string        `db:"department" json:"department"`
	Subject             string        `db:"subject" json:"subject"`
	ClassYear           string        `db:"class_year" json:"class_year"`
	Room                string        `db:"room" json:"room"`
	Date                time.Time     `db:"date" json:"date"`
	DayOfWeek           string        `db:"day_of_week" json:"day_of_week"`
	StartTime           string        `db:"start_time" json:"start_time"`
	EndTime             string        `db:"end_time" json:"end_time"`
	Status              LectureStatus `db:"status" json:"status"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

// Covered reports whether a substitute has been stamped on the lecture.
func (l Lecture) Covered() bool {
	return l.SubstituteTeacherID != nil && *l.SubstituteTeacherID != ""
}

// Cancelled reports whether the lecture no longer takes place.
func (l Lecture) Cancelled() bool {
	return l.Status == LectureStatusCancelled
}

// TaughtBy reports whether teacherID is either the scheduled teacher or the substitute.
func (l Lecture) TaughtBy(teacherID string) bool {
	if l.ScheduledTeacherID == teacherID {
		return true
	}
	return l.SubstituteTeacherID != nil && *l.SubstituteTeacherID == teacherID
}

// LectureFilter narrows lecture listings.
type LectureFilter struct {
	TeacherID  string
	Department string
	Date       *time.Time
	Page       int
	PageSize   int
}

// ConflictDimension names the resource two lectures compete for.
type ConflictDimension string

const (
	ConflictDimensionTeacher ConflictDimension = "TEACHER"
	ConflictDimensionRoom    ConflictDimension = "ROOM"
)

// LectureConflict describes an existing lecture that collides with a requested slot.
type LectureConflict struct {
	LectureID string            `json:"lecture_id"`
	TeacherID string            `json:"teacher_id"`
	Room      string            `json:"room"`
	Date      string            `json:"date"`
	StartTime string            `json:"start_time"`
	EndTime   string            `json:"end_time"`
	Dimension ConflictDimension `json:"dimension"`
}

// LectureConflictError is returned when a lecture collides with an existing one.
type LectureConflictError struct {
	Message  string          `json:"message"`
	Conflict LectureConflict `json:"conflict"`
}

// Error implements the error interface for conflict errors.
func (e *LectureConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

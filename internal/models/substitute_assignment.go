package models

import "time"

// AssignmentStatus is the resolution state of a substitute assignment.
type AssignmentStatus string

const (
	AssignmentStatusPending      AssignmentStatus = "PENDING"
	AssignmentStatusAssigned     AssignmentStatus = "ASSIGNED"
	AssignmentStatusAutoAssigned AssignmentStatus = "AUTO_ASSIGNED"
	AssignmentStatusUnassigned   AssignmentStatus = "UNASSIGNED"
)

// AssignmentType records who resolved the assignment.
type AssignmentType string

const (
	AssignmentTypeManual         AssignmentType = "MANUAL"
	AssignmentTypeAuto           AssignmentType = "AUTO"
	AssignmentTypeManualOverride AssignmentType = "MANUAL_OVERRIDE"
)

// SubstituteAssignment tracks coverage of one lecture for one absence.
type SubstituteAssignment struct {
	ID                  string           `db:"id" json:"id"`
	LectureID           string           `db:"lecture_id" json:"lecture_id"`
	LeaveRequestID      *string          `db:"leave_request_id" json:"leave_request_id,omitempty"`
	OriginalTeacherID   string           `db:"original_teacher_id" json:"original_teacher_id"`
	SubstituteTeacherID *string          `db:"substitute_teacher_id" json:"substitute_teacher_id,omitempty"`
	Status              AssignmentStatus `db:"status" json:"status"`
	AssignmentType      AssignmentType   `db:"assignment_type" json:"assignment_type"`
	AssignedAt          time.Time        `db:"assigned_at" json:"assigned_at"`
	ResponseDeadline    time.Time        `db:"response_deadline" json:"response_deadline"`
	ResolvedAt          *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
	Note                *string          `db:"note" json:"note,omitempty"`
}

// AssignmentResolution is the conditional update applied to a pending assignment.
type AssignmentResolution struct {
	ID                  string
	Status              AssignmentStatus
	AssignmentType      AssignmentType
	SubstituteTeacherID *string
	ResolvedAt          time.Time
	Note                *string
}

// PendingAssignment joins a pending assignment with the lecture it covers.
type PendingAssignment struct {
	SubstituteAssignment
	Department           string    `db:"department" json:"department"`
	Subject              string    `db:"subject" json:"subject"`
	ClassYear            string    `db:"class_year" json:"class_year"`
	Room                 string    `db:"room" json:"room"`
	LectureDate          time.Time `db:"lecture_date" json:"lecture_date"`
	StartTime            string    `db:"start_time" json:"start_time"`
	EndTime              string    `db:"end_time" json:"end_time"`
	OriginalTeacherName  string    `db:"original_teacher_name" json:"original_teacher_name"`
	TimeRemainingSeconds int64     `db:"-" json:"time_remaining_seconds"`
}

// Candidate is an eligible substitute with the load used to rank it.
type Candidate struct {
	Teacher   Teacher `json:"teacher"`
	DailyLoad int     `json:"daily_load"`
}

// RejectionReason explains why a teacher was not eligible.
type RejectionReason string

const (
	RejectionSelf          RejectionReason = "EXCLUDED"
	RejectionInactive      RejectionReason = "INACTIVE"
	RejectionDepartment    RejectionReason = "OTHER_DEPARTMENT"
	RejectionTimeConflict  RejectionReason = "TIME_CONFLICT"
	RejectionWorkloadLimit RejectionReason = "WORKLOAD_LIMIT"
)

// Rejection records one ineligible teacher and why.
type Rejection struct {
	TeacherID string          `json:"teacher_id"`
	FullName  string          `json:"full_name"`
	Reason    RejectionReason `json:"reason"`
	Detail    string          `json:"detail,omitempty"`
}

// CandidatePreview is the read-only eligibility explanation for a lecture.
type CandidatePreview struct {
	LectureID  string      `json:"lecture_id"`
	Candidates []Candidate `json:"candidates"`
	Rejections []Rejection `json:"rejections"`
}

// AbsenceOutcome is the per-lecture result of an immediate absence resolution.
type AbsenceOutcome string

const (
	AbsenceOutcomeAssigned   AbsenceOutcome = "ASSIGNED"
	AbsenceOutcomeUnassigned AbsenceOutcome = "UNASSIGNED"
	AbsenceOutcomeSkipped    AbsenceOutcome = "SKIPPED"
	AbsenceOutcomeFailed     AbsenceOutcome = "FAILED"
)

// AbsenceLogEntry describes what happened to one lecture during markAbsent.
type AbsenceLogEntry struct {
	LectureID      string         `json:"lecture_id"`
	Subject        string         `json:"subject"`
	StartTime      string         `json:"start_time"`
	EndTime        string         `json:"end_time"`
	Outcome        AbsenceOutcome `json:"outcome"`
	SubstituteID   *string        `json:"substitute_id,omitempty"`
	SubstituteName string         `json:"substitute_name,omitempty"`
	Note           string         `json:"note,omitempty"`
}

// AbsenceResult summarises an immediate absence resolution.
type AbsenceResult struct {
	TeacherID     string            `json:"teacher_id"`
	Date          string            `json:"date"`
	Total         int               `json:"total"`
	AssignedCount int               `json:"assigned_count"`
	Log           []AbsenceLogEntry `json:"log"`
}

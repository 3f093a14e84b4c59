package models

import "time"

// NotificationKind classifies inbox messages.
type NotificationKind string

const (
	NotificationLeaveSubmitted      NotificationKind = "LEAVE_SUBMITTED"
	NotificationLeaveApproved       NotificationKind = "LEAVE_APPROVED"
	NotificationLeaveAutoApproved   NotificationKind = "LEAVE_AUTO_APPROVED"
	NotificationLeaveRejected       NotificationKind = "LEAVE_REJECTED"
	NotificationSubstituteAssigned  NotificationKind = "SUBSTITUTE_ASSIGNED"
	NotificationSubstituteReleased  NotificationKind = "SUBSTITUTE_RELEASED"
	NotificationCoverageArranged    NotificationKind = "COVERAGE_ARRANGED"
	NotificationCoverageUnavailable NotificationKind = "COVERAGE_UNAVAILABLE"
)

// NotificationPriority defines ordering for notifications.
type NotificationPriority string

const (
	NotificationPriorityLow    NotificationPriority = "LOW"
	NotificationPriorityNormal NotificationPriority = "NORMAL"
	NotificationPriorityHigh   NotificationPriority = "HIGH"
)

// Notification represents a persisted inbox row for a teacher.
type Notification struct {
	ID        string               `db:"id" json:"id"`
	TeacherID string               `db:"teacher_id" json:"teacher_id"`
	Kind      NotificationKind     `db:"kind" json:"kind"`
	Title     string               `db:"title" json:"title"`
	Message   string               `db:"message" json:"message"`
	Priority  NotificationPriority `db:"priority" json:"priority"`
	IsRead    bool                 `db:"is_read" json:"is_read"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
}

// NotificationFilter allows listing a teacher's inbox.
type NotificationFilter struct {
	TeacherID  string
	UnreadOnly bool
	Page       int
	PageSize   int
}

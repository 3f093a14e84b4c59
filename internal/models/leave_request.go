package models

import (
	"time"

	"github.com/lib/pq"
)

// LeaveStatus is the lifecycle state of a leave request. It only moves forward.
type LeaveStatus string

const (
	LeaveStatusPending      LeaveStatus = "PENDING"
	LeaveStatusApproved     LeaveStatus = "APPROVED"
	LeaveStatusAutoApproved LeaveStatus = "AUTO_APPROVED"
	LeaveStatusRejected     LeaveStatus = "REJECTED"
)

// LeaveAction is an event applied to a leave request.
type LeaveAction string

const (
	LeaveActionApprove LeaveAction = "APPROVE"
	LeaveActionReject  LeaveAction = "REJECT"
	LeaveActionTimeout LeaveAction = "TIMEOUT"
)

var leaveTransitions = map[LeaveStatus]map[LeaveAction]LeaveStatus{
	LeaveStatusPending: {
		LeaveActionApprove: LeaveStatusApproved,
		LeaveActionReject:  LeaveStatusRejected,
		LeaveActionTimeout: LeaveStatusAutoApproved,
	},
}

// LeaveTransitionFor returns the target state of applying action in state from.
func LeaveTransitionFor(from LeaveStatus, action LeaveAction) (LeaveStatus, bool) {
	next, ok := leaveTransitions[from][action]
	return next, ok
}

// Terminal reports whether no further transition is possible.
func (s LeaveStatus) Terminal() bool {
	return len(leaveTransitions[s]) == 0
}

// Approved reports whether the leave was granted, by a reviewer or by timeout.
func (s LeaveStatus) Approved() bool {
	return s == LeaveStatusApproved || s == LeaveStatusAutoApproved
}

// Valid reports whether s is a known status.
func (s LeaveStatus) Valid() bool {
	switch s {
	case LeaveStatusPending, LeaveStatusApproved, LeaveStatusAutoApproved, LeaveStatusRejected:
		return true
	}
	return false
}

// LeaveRequest is a teacher's request to be absent over an inclusive date range.
type LeaveRequest struct {
	ID               string         `db:"id" json:"id"`
	TeacherID        string         `db:"teacher_id" json:"teacher_id"`
	Department       string         `db:"department" json:"department"`
	StartDate        time.Time      `db:"start_date" json:"start_date"`
	EndDate          time.Time      `db:"end_date" json:"end_date"`
	Reason           string         `db:"reason" json:"reason"`
	Status           LeaveStatus    `db:"status" json:"status"`
	SubmittedAt      time.Time      `db:"submitted_at" json:"submitted_at"`
	HODDecisionAt    *time.Time     `db:"hod_decision_at" json:"hod_decision_at,omitempty"`
	ReviewedBy       *string        `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewComments   *string        `db:"review_comments" json:"review_comments,omitempty"`
	AffectedLectures pq.StringArray `db:"affected_lectures" json:"affected_lectures,omitempty"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// LeaveRequestFilter captures listing criteria for leave requests.
type LeaveRequestFilter struct {
	TeacherID  string
	Department string
	Status     LeaveStatus
	Page       int
	PageSize   int
}

// LeaveTransition is the conditional update applied to a pending leave request.
type LeaveTransition struct {
	ID             string
	To             LeaveStatus
	DecidedAt      time.Time
	ReviewedBy     *string
	ReviewComments *string
}

// LeaveDecision is returned after a leave request leaves PENDING.
type LeaveDecision struct {
	Request     LeaveRequest           `json:"request"`
	Assignments []SubstituteAssignment `json:"assignments"`
}

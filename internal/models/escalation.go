package models

import "time"

// TickReport summarises one escalation scheduler pass.
type TickReport struct {
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	Skipped            bool      `json:"skipped"`
	LeavesAutoApproved int       `json:"leaves_auto_approved"`
	LeavesSkipped      int       `json:"leaves_skipped"`
	LeavesFailed       int       `json:"leaves_failed"`
	AutoAssigned       int       `json:"auto_assigned"`
	Unassigned         int       `json:"unassigned"`
	AssignmentsSkipped int       `json:"assignments_skipped"`
	AssignmentsFailed  int       `json:"assignments_failed"`
}

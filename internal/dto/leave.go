package dto

import "github.com/noah-isme/sma-substitute-api/internal/models"

// SubmitLeaveRequest is the payload for requesting leave. TeacherID defaults to
// the caller; a HOD may file on behalf of a teacher in their department.
type SubmitLeaveRequest struct {
	TeacherID        string   `json:"teacherId"`
	StartDate        string   `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate          string   `json:"endDate" validate:"required,datetime=2006-01-02"`
	Reason           string   `json:"reason" validate:"required,max=500"`
	AffectedLectures []string `json:"affectedLectures" validate:"omitempty,dive,required"`
}

// ReviewLeaveRequest captures the reviewer decision and optional comments.
type ReviewLeaveRequest struct {
	Decision models.LeaveAction `json:"decision" validate:"required,oneof=APPROVE REJECT"`
	Comments string             `json:"comments" validate:"max=500"`
}

// LeaveQuery mirrors supported listing filters.
type LeaveQuery struct {
	TeacherID  string             `form:"teacherId"`
	Department string             `form:"department"`
	Status     models.LeaveStatus `form:"status"`
	Page       int                `form:"page"`
	PageSize   int                `form:"pageSize"`
}

package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-substitute-api/internal/dto"
	"github.com/noah-isme/sma-substitute-api/internal/models"
	"github.com/noah-isme/sma-substitute-api/pkg/response"
)

type leaveService interface {
	Submit(ctx context.Context, actor models.Actor, req dto.SubmitLeaveRequest) (*models.LeaveRequest, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.LeaveRequest, error)
	List(ctx context.Context, actor models.Actor, filter models.LeaveRequestFilter) ([]models.LeaveRequest, *models.Pagination, error)
	Review(ctx context.Context, actor models.Actor, id string, req dto.ReviewLeaveRequest) (*models.LeaveDecision, error)
	Assignments(ctx context.Context, actor models.Actor, id string) ([]models.SubstituteAssignment, error)
}

// LeaveHandler exposes leave request endpoints.
type LeaveHandler struct {
	service leaveService
}

// NewLeaveHandler constructs a LeaveHandler.
func NewLeaveHandler(service leaveService) *LeaveHandler {
	return &LeaveHandler{service: service}
}

// Submit godoc
// @Summary Submit a leave request
// @Tags Leave
// @Accept json
// @Produce json
// @Param payload body dto.SubmitLeaveRequest true "Leave payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /leave-requests [post]
func (h *LeaveHandler) Submit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.SubmitLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid leave request payload"))
		return
	}
	leave, err := h.service.Submit(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, leave)
}

// List godoc
// @Summary List leave requests visible to the caller
// @Tags Leave
// @Produce json
// @Param status query string false "PENDING, APPROVED, AUTO_APPROVED or REJECTED"
// @Param teacherId query string false "Teacher filter (admin only)"
// @Param department query string false "Department filter (admin only)"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /leave-requests [get]
func (h *LeaveHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.LeaveQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid query parameters"))
		return
	}
	items, pagination, err := h.service.List(c.Request.Context(), actor, models.LeaveRequestFilter{
		TeacherID:  query.TeacherID,
		Department: query.Department,
		Status:     query.Status,
		Page:       query.Page,
		PageSize:   query.PageSize,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get a leave request
// @Tags Leave
// @Produce json
// @Param id path string true "Leave request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /leave-requests/{id} [get]
func (h *LeaveHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	leave, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, leave, nil)
}

// Review godoc
// @Summary Approve or reject a pending leave request
// @Tags Leave
// @Accept json
// @Produce json
// @Param id path string true "Leave request ID"
// @Param payload body dto.ReviewLeaveRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /leave-requests/{id}/review [post]
func (h *LeaveHandler) Review(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ReviewLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid review payload"))
		return
	}
	decision, err := h.service.Review(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// Assignments godoc
// @Summary List substitute assignments created for a leave request
// @Tags Leave
// @Produce json
// @Param id path string true "Leave request ID"
// @Success 200 {object} response.Envelope
// @Router /leave-requests/{id}/assignments [get]
func (h *LeaveHandler) Assignments(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	items, err := h.service.Assignments(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

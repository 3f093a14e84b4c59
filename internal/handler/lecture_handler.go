package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-substitute-api/internal/dto"
	"github.com/noah-isme/sma-substitute-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitute-api/pkg/errors"
	"github.com/noah-isme/sma-substitute-api/pkg/response"
)

type lectureService interface {
	Get(ctx context.Context, actor models.Actor, id string) (*models.Lecture, error)
	List(ctx context.Context, actor models.Actor, filter models.LectureFilter) ([]models.Lecture, *models.Pagination, error)
	Create(ctx context.Context, actor models.Actor, req dto.CreateLectureRequest) (*models.Lecture, error)
	Reschedule(ctx context.Context, actor models.Actor, id string, req dto.RescheduleLectureRequest) (*models.Lecture, error)
	Cancel(ctx context.Context, actor models.Actor, id string) (*models.Lecture, error)
}

// LectureHandler exposes dated lecture endpoints.
type LectureHandler struct {
	service lectureService
}

// NewLectureHandler constructs a LectureHandler.
func NewLectureHandler(service lectureService) *LectureHandler {
	return &LectureHandler{service: service}
}

// List godoc
// @Summary List lectures visible to the caller
// @Tags Lectures
// @Produce json
// @Param teacherId query string false "Teacher filter"
// @Param date query string false "Date (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /lectures [get]
func (h *LectureHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.LectureQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid query parameters"))
		return
	}
	filter := models.LectureFilter{TeacherID: query.TeacherID, Page: query.Page, PageSize: query.PageSize}
	if query.Date != "" {
		date, err := time.Parse("2006-01-02", query.Date)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date must use YYYY-MM-DD"))
			return
		}
		filter.Date = &date
	}
	items, pagination, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get a lecture
// @Tags Lectures
// @Produce json
// @Param id path string true "Lecture ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /lectures/{id} [get]
func (h *LectureHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	lecture, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lecture, nil)
}

// Create godoc
// @Summary Schedule a lecture
// @Tags Lectures
// @Accept json
// @Produce json
// @Param payload body dto.CreateLectureRequest true "Lecture payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lectures [post]
func (h *LectureHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateLectureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid lecture payload"))
		return
	}
	lecture, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, lecture)
}

// Reschedule godoc
// @Summary Move a lecture to another slot or room
// @Tags Lectures
// @Accept json
// @Produce json
// @Param id path string true "Lecture ID"
// @Param payload body dto.RescheduleLectureRequest true "New slot"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lectures/{id} [put]
func (h *LectureHandler) Reschedule(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.RescheduleLectureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid lecture payload"))
		return
	}
	lecture, err := h.service.Reschedule(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lecture, nil)
}

// Cancel godoc
// @Summary Cancel a lecture and release its substitute
// @Tags Lectures
// @Produce json
// @Param id path string true "Lecture ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lectures/{id}/cancel [post]
func (h *LectureHandler) Cancel(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	lecture, err := h.service.Cancel(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lecture, nil)
}

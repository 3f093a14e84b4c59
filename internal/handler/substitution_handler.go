package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-substitute-api/internal/dto"
	"github.com/noah-isme/sma-substitute-api/internal/models"
	"github.com/noah-isme/sma-substitute-api/pkg/response"
)

type substitutionService interface {
	MarkAbsent(ctx context.Context, actor models.Actor, req dto.MarkAbsentRequest) (*models.AbsenceResult, error)
	AssignManually(ctx context.Context, actor models.Actor, lectureID string, req dto.ManualAssignRequest) (*models.SubstituteAssignment, error)
	ListPending(ctx context.Context, actor models.Actor) ([]models.PendingAssignment, error)
	Candidates(ctx context.Context, actor models.Actor, lectureID string) (*models.CandidatePreview, error)
}

// SubstitutionHandler exposes substitute assignment endpoints.
type SubstitutionHandler struct {
	service substitutionService
}

// NewSubstitutionHandler constructs a SubstitutionHandler.
func NewSubstitutionHandler(service substitutionService) *SubstitutionHandler {
	return &SubstitutionHandler{service: service}
}

// MarkAbsent godoc
// @Summary Mark a teacher absent and assign substitutes immediately
// @Tags Substitutions
// @Accept json
// @Produce json
// @Param payload body dto.MarkAbsentRequest false "Absent teacher and date (defaults: caller, today)"
// @Success 200 {object} response.Envelope
// @Router /substitutions/absent [post]
func (h *SubstitutionHandler) MarkAbsent(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.MarkAbsentRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, bindError(err, "invalid absence payload"))
			return
		}
	}
	result, err := h.service.MarkAbsent(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Pending godoc
// @Summary List assignments awaiting a substitute
// @Tags Substitutions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /substitutions/pending [get]
func (h *SubstitutionHandler) Pending(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	items, err := h.service.ListPending(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil, map[string]interface{}{"count": len(items)})
}

// Assign godoc
// @Summary Assign or override the substitute of a lecture
// @Tags Substitutions
// @Accept json
// @Produce json
// @Param id path string true "Lecture ID"
// @Param payload body dto.ManualAssignRequest true "Substitute"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lectures/{id}/substitute [post]
func (h *SubstitutionHandler) Assign(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ManualAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid assignment payload"))
		return
	}
	assignment, err := h.service.AssignManually(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Candidates godoc
// @Summary Preview eligible substitutes for a lecture
// @Tags Substitutions
// @Produce json
// @Param id path string true "Lecture ID"
// @Success 200 {object} response.Envelope
// @Router /lectures/{id}/candidates [get]
func (h *SubstitutionHandler) Candidates(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	preview, err := h.service.Candidates(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

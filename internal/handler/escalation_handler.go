package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-substitute-api/internal/models"
	"github.com/noah-isme/sma-substitute-api/pkg/response"
)

type escalationRunner interface {
	Tick(ctx context.Context) models.TickReport
}

// EscalationHandler lets administrators trigger an escalation pass on demand.
type EscalationHandler struct {
	runner escalationRunner
}

// NewEscalationHandler constructs an EscalationHandler.
func NewEscalationHandler(runner escalationRunner) *EscalationHandler {
	return &EscalationHandler{runner: runner}
}

// Run godoc
// @Summary Run one escalation pass immediately
// @Tags Escalations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /escalations/run [post]
func (h *EscalationHandler) Run(c *gin.Context) {
	report := h.runner.Tick(c.Request.Context())
	response.JSON(c, http.StatusOK, report, nil)
}

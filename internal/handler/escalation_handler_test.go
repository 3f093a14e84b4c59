package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-substitute-api/internal/models"
)

type escalationRunnerStub struct {
	calls  int
	report models.TickReport
}

func (s *escalationRunnerStub) Tick(ctx context.Context) models.TickReport {
	s.calls++
	return s.report
}

func TestEscalationHandlerRunReturnsReport(t *testing.T) {
	runner := &escalationRunnerStub{report: models.TickReport{LeavesAutoApproved: 1, AutoAssigned: 2, Unassigned: 1}}
	handler := NewEscalationHandler(runner)
	c, w := newTestContext(http.MethodPost, "/escalations/run", "", adminClaims)

	handler.Run(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, runner.calls)
	var body struct {
		Data models.TickReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Data.AutoAssigned)
	assert.Equal(t, 1, body.Data.LeavesAutoApproved)
}

func TestMetricsHandlerReady(t *testing.T) {
	handler := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return nil },
	})
	c, w := newTestContext(http.MethodGet, "/ready", "", nil)

	handler.Ready(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ready"`)
}

func TestMetricsHandlerReadyReportsFailingDependency(t *testing.T) {
	handler := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("dial tcp: connection refused") },
	})
	c, w := newTestContext(http.MethodGet, "/ready", "", nil)

	handler.Ready(c)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

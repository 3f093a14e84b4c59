package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-substitute-api/internal/models"
)

// Leave submitted at 10:00 and left unreviewed: the 10:31 tick auto-approves it
// and opens a pending assignment that the 10:46 tick resolves.
func TestEscalationAutoApprovesStaleLeaveThenAssigns(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 10, 0))
	f.seedScienceDepartment(day)
	l := f.db.lecture("lec-1")
	l.StartTime, l.EndTime = "13:00", "14:00"
	f.db.addLecture(l)
	leave := submitLeave(t, f, "t-absent", day)

	f.clock.Set(at(day, 10, 29))
	report := f.scheduler.Tick(context.Background())
	assert.Zero(t, report.LeavesAutoApproved)
	assert.Equal(t, models.LeaveStatusPending, f.db.leave(leave.ID).Status)

	f.clock.Set(at(day, 10, 31))
	report = f.scheduler.Tick(context.Background())
	assert.Equal(t, 1, report.LeavesAutoApproved)
	assert.Zero(t, report.AutoAssigned, "the new assignment is still inside its response window")
	assert.Equal(t, models.LeaveStatusAutoApproved, f.db.leave(leave.ID).Status)

	rows := f.db.assignmentsForLecture("lec-1")
	require.Len(t, rows, 1)
	assert.Equal(t, models.AssignmentStatusPending, rows[0].Status)
	assert.Equal(t, at(day, 10, 46), rows[0].ResponseDeadline)

	f.clock.Set(at(day, 10, 45))
	report = f.scheduler.Tick(context.Background())
	assert.Zero(t, report.AutoAssigned)

	f.clock.Set(at(day, 10, 46))
	report = f.scheduler.Tick(context.Background())
	assert.Equal(t, 1, report.AutoAssigned)
	assert.Equal(t, models.AssignmentStatusAutoAssigned, f.db.assignment(rows[0].ID).Status)
	assert.Equal(t, "t-busy", *f.db.lecture("lec-1").SubstituteTeacherID)
}

func TestEscalationTickIsIdempotent(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 10, 0))
	f.seedScienceDepartment(day)
	submitLeave(t, f, "t-absent", day)

	f.clock.Set(at(day, 12, 0))
	first := f.scheduler.Tick(context.Background())
	assert.Equal(t, 1, first.LeavesAutoApproved)

	f.clock.Set(at(day, 12, 30))
	second := f.scheduler.Tick(context.Background())
	assert.Zero(t, second.LeavesAutoApproved)
	assert.Equal(t, 1, second.AutoAssigned)

	third := f.scheduler.Tick(context.Background())
	assert.Zero(t, third.LeavesAutoApproved+third.AutoAssigned+third.Unassigned+third.LeavesFailed+third.AssignmentsFailed)

	assert.Len(t, f.db.assignmentsForLecture("lec-1"), 1)
	assert.Equal(t, 1, f.db.teacher("t-busy").SubstituteCount)
	assert.Len(t, f.notifier.kindsFor("t-busy"), 1)
}

type stubAssignmentEscalator struct {
	results map[string]error
	calls   []string
}

func (s *stubAssignmentEscalator) EscalateAssignment(ctx context.Context, id string) (models.AssignmentStatus, error) {
	s.calls = append(s.calls, id)
	if err := s.results[id]; err != nil {
		return "", err
	}
	return models.AssignmentStatusAutoAssigned, nil
}

type stubLeaveEscalator struct{ err error }

func (s stubLeaveEscalator) AutoApprove(ctx context.Context, id string) (*models.LeaveDecision, error) {
	return nil, s.err
}

type staticLister struct {
	ids []string
	err error
}

func (s staticLister) ListPendingSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	return s.ids, s.err
}

func (s staticLister) ListPendingDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return s.ids, s.err
}

func TestEscalationTickIsolatesFailingRows(t *testing.T) {
	escalator := &stubAssignmentEscalator{results: map[string]error{
		"a-2": errors.New("deadlock detected"),
		"a-3": ErrEscalationSkipped,
	}}
	scheduler := NewEscalationScheduler(EscalationSchedulerDeps{
		Leaves:         stubLeaveEscalator{},
		Assignments:    escalator,
		StaleLeaves:    staticLister{err: errors.New("scan failed")},
		DueAssignments: staticLister{ids: []string{"a-1", "a-2", "a-3", "a-4"}},
		Logger:         zap.NewNop(),
	}, EscalationConfig{})

	report := scheduler.Tick(context.Background())
	assert.Equal(t, []string{"a-1", "a-2", "a-3", "a-4"}, escalator.calls)
	assert.Equal(t, 2, report.AutoAssigned)
	assert.Equal(t, 1, report.AssignmentsFailed)
	assert.Equal(t, 1, report.AssignmentsSkipped)
	assert.Equal(t, 1, report.LeavesFailed, "a failed scan is reported, the other scan still runs")
}

type fakeLease struct {
	mu       sync.Mutex
	held     bool
	err      error
	acquired int
	released int
}

func (l *fakeLease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *fakeLease) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

func TestEscalationTickHonoursLease(t *testing.T) {
	escalator := &stubAssignmentEscalator{}
	lease := &fakeLease{held: true}
	scheduler := NewEscalationScheduler(EscalationSchedulerDeps{
		Leaves:         stubLeaveEscalator{},
		Assignments:    escalator,
		StaleLeaves:    staticLister{},
		DueAssignments: staticLister{ids: []string{"a-1"}},
		Lease:          lease,
	}, EscalationConfig{})

	report := scheduler.Tick(context.Background())
	assert.True(t, report.Skipped)
	assert.Empty(t, escalator.calls)

	lease.held = false
	report = scheduler.Tick(context.Background())
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.AutoAssigned)
	assert.Equal(t, 1, lease.acquired)
	assert.Equal(t, 1, lease.released)

	lease.err = errors.New("redis down")
	report = scheduler.Tick(context.Background())
	assert.False(t, report.Skipped, "an unreachable lease store does not stop escalation")
	assert.Equal(t, 1, report.AutoAssigned)
}

func TestEscalationSchedulerStartStop(t *testing.T) {
	escalator := &stubAssignmentEscalator{}
	scheduler := NewEscalationScheduler(EscalationSchedulerDeps{
		Leaves:         stubLeaveEscalator{},
		Assignments:    escalator,
		StaleLeaves:    staticLister{},
		DueAssignments: staticLister{},
	}, EscalationConfig{Schedule: "@every 1h"})

	require.NoError(t, scheduler.Start(context.Background()))
	require.NoError(t, scheduler.Start(context.Background()), "second start is a no-op")
	scheduler.Stop()
	scheduler.Stop()

	bad := NewEscalationScheduler(EscalationSchedulerDeps{}, EscalationConfig{Schedule: "every now and then"})
	require.Error(t, bad.Start(context.Background()))
}

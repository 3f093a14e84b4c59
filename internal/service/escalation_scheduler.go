package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-substitute-api/internal/models"
	"github.com/noah-isme/sma-substitute-api/pkg/clock"
)

const escalationLeaseKey = "escalation:tick"

type leaveEscalator interface {
	AutoApprove(ctx context.Context, id string) (*models.LeaveDecision, error)
}

type assignmentEscalator interface {
	EscalateAssignment(ctx context.Context, id string) (models.AssignmentStatus, error)
}

type staleLeaveLister interface {
	ListPendingSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

type dueAssignmentLister interface {
	ListPendingDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type tickLease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// EscalationConfig controls the recurring escalation tick.
type EscalationConfig struct {
	Schedule              string
	LeaveAutoApproveAfter time.Duration
	LeaseTTL              time.Duration
	BatchSize             int
}

// EscalationSchedulerDeps groups the collaborators of EscalationScheduler.
type EscalationSchedulerDeps struct {
	Leaves         leaveEscalator
	Assignments    assignmentEscalator
	StaleLeaves    staleLeaveLister
	DueAssignments dueAssignmentLister
	Lease          tickLease
	Clock          clock.Clock
	Metrics        *MetricsService
	Logger         *zap.Logger
}

// EscalationScheduler periodically auto-approves stale leave requests and resolves
// assignments whose response window elapsed. Each row is processed independently;
// one failing row never aborts the tick.
type EscalationScheduler struct {
	leaves         leaveEscalator
	assignments    assignmentEscalator
	staleLeaves    staleLeaveLister
	dueAssignments dueAssignmentLister
	lease          tickLease
	clock          clock.Clock
	metrics        *MetricsService
	logger         *zap.Logger
	config         EscalationConfig

	mu   sync.Mutex
	cron *cron.Cron
}

// NewEscalationScheduler constructs the scheduler. Call Start to run it on its schedule.
func NewEscalationScheduler(deps EscalationSchedulerDeps, cfg EscalationConfig) *EscalationScheduler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.LeaveAutoApproveAfter <= 0 {
		cfg.LeaveAutoApproveAfter = 30 * time.Minute
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 50 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &EscalationScheduler{
		leaves:         deps.Leaves,
		assignments:    deps.Assignments,
		staleLeaves:    deps.StaleLeaves,
		dueAssignments: deps.DueAssignments,
		lease:          deps.Lease,
		clock:          deps.Clock,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		config:         cfg,
	}
}

// Start registers the tick on the cron schedule. Overlapping runs are skipped.
func (s *EscalationScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(s.logger.Named("cron")))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	if _, err := c.AddFunc(s.config.Schedule, func() { s.Tick(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.logger.Info("escalation scheduler started", zap.String("schedule", s.config.Schedule))
	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (s *EscalationScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("escalation scheduler stopped")
}

// Tick runs both escalation scans once and reports what happened.
func (s *EscalationScheduler) Tick(ctx context.Context) models.TickReport {
	report := models.TickReport{StartedAt: s.clock.Now()}

	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx, escalationLeaseKey, s.config.LeaseTTL)
		if err != nil {
			s.logger.Warn("escalation lease unavailable, running tick anyway", zap.Error(err))
		} else if !ok {
			report.Skipped = true
			report.FinishedAt = s.clock.Now()
			s.logger.Debug("escalation tick held by another instance")
			return report
		} else {
			defer func() {
				if err := s.lease.Release(context.WithoutCancel(ctx), escalationLeaseKey); err != nil {
					s.logger.Warn("release escalation lease", zap.Error(err))
				}
			}()
		}
	}

	s.escalateLeaves(ctx, &report)
	s.escalateAssignments(ctx, &report)

	report.FinishedAt = s.clock.Now()
	s.metrics.ObserveEscalationTick(report)
	if report.LeavesAutoApproved+report.AutoAssigned+report.Unassigned+report.LeavesFailed+report.AssignmentsFailed > 0 {
		s.logger.Info("escalation tick",
			zap.Int("leaves_auto_approved", report.LeavesAutoApproved),
			zap.Int("leaves_skipped", report.LeavesSkipped),
			zap.Int("leaves_failed", report.LeavesFailed),
			zap.Int("auto_assigned", report.AutoAssigned),
			zap.Int("unassigned", report.Unassigned),
			zap.Int("assignments_skipped", report.AssignmentsSkipped),
			zap.Int("assignments_failed", report.AssignmentsFailed),
			zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
		)
	}
	return report
}

func (s *EscalationScheduler) escalateLeaves(ctx context.Context, report *models.TickReport) {
	cutoff := report.StartedAt.Add(-s.config.LeaveAutoApproveAfter)
	ids, err := s.staleLeaves.ListPendingSubmittedBefore(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		s.logger.Error("scan stale leave requests", zap.Error(err))
		report.LeavesFailed++
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		_, err := s.leaves.AutoApprove(ctx, id)
		switch {
		case err == nil:
			report.LeavesAutoApproved++
		case errors.Is(err, ErrEscalationSkipped):
			report.LeavesSkipped++
		default:
			report.LeavesFailed++
			s.logger.Error("auto-approve leave request", zap.String("leave_id", id), zap.Error(err))
		}
	}
}

func (s *EscalationScheduler) escalateAssignments(ctx context.Context, report *models.TickReport) {
	ids, err := s.dueAssignments.ListPendingDue(ctx, s.clock.Now(), s.config.BatchSize)
	if err != nil {
		s.logger.Error("scan due assignments", zap.Error(err))
		report.AssignmentsFailed++
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		status, err := s.assignments.EscalateAssignment(ctx, id)
		switch {
		case err == nil && status == models.AssignmentStatusAutoAssigned:
			report.AutoAssigned++
		case err == nil && status == models.AssignmentStatusUnassigned:
			report.Unassigned++
		case err == nil, errors.Is(err, ErrEscalationSkipped):
			report.AssignmentsSkipped++
		default:
			report.AssignmentsFailed++
			s.logger.Error("escalate assignment", zap.String("assignment_id", id), zap.Error(err))
		}
	}
}

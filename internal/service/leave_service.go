package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-substitute-api/internal/dto"
	"github.com/noah-isme/sma-substitute-api/internal/models"
	"github.com/noah-isme/sma-substitute-api/pkg/clock"
	appErrors "github.com/noah-isme/sma-substitute-api/pkg/errors"
)

type leaveStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, leave *models.LeaveRequest) error
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.LeaveRequest, error)
	List(ctx context.Context, filter models.LeaveRequestFilter) ([]models.LeaveRequest, int, error)
	TransitionFromPending(ctx context.Context, exec sqlx.ExtContext, params models.LeaveTransition) (*models.LeaveRequest, error)
}

type teacherReader interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Teacher, error)
}

type fanOutLectureStore interface {
	ListByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.Lecture, error)
	ListUncoveredForTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID string, from, to time.Time) ([]models.Lecture, error)
}

type fanOutAssignmentStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, assignment *models.SubstituteAssignment) error
	FindPendingForLecture(ctx context.Context, exec sqlx.ExtContext, lectureID string) (*models.SubstituteAssignment, error)
	ListByLeaveRequest(ctx context.Context, exec sqlx.ExtContext, leaveRequestID string) ([]models.SubstituteAssignment, error)
}

// LeaveConfig holds the leave lifecycle timings.
type LeaveConfig struct {
	AutoApproveAfter time.Duration
	ResponseWindow   time.Duration
}

// LeaveService runs the leave request state machine and fans approved leave out
// into pending substitute assignments.
type LeaveService struct {
	tx          txRunner
	leaves      leaveStore
	teachers    teacherReader
	lectures    fanOutLectureStore
	assignments fanOutAssignmentStore
	notifier    Notifier
	clock       clock.Clock
	config      LeaveConfig
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// LeaveServiceDeps groups the collaborators of LeaveService.
type LeaveServiceDeps struct {
	Tx          txRunner
	Leaves      leaveStore
	Teachers    teacherReader
	Lectures    fanOutLectureStore
	Assignments fanOutAssignmentStore
	Notifier    Notifier
	Clock       clock.Clock
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
}

// NewLeaveService constructs a LeaveService.
func NewLeaveService(deps LeaveServiceDeps, cfg LeaveConfig) *LeaveService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if cfg.AutoApproveAfter <= 0 {
		cfg.AutoApproveAfter = 30 * time.Minute
	}
	if cfg.ResponseWindow <= 0 {
		cfg.ResponseWindow = 15 * time.Minute
	}
	return &LeaveService{
		tx:          deps.Tx,
		leaves:      deps.Leaves,
		teachers:    deps.Teachers,
		lectures:    deps.Lectures,
		assignments: deps.Assignments,
		notifier:    deps.Notifier,
		clock:       deps.Clock,
		config:      cfg,
		metrics:     deps.Metrics,
		validator:   deps.Validator,
		logger:      deps.Logger,
	}
}

// Submit records a new pending leave request.
func (s *LeaveService) Submit(ctx context.Context, actor models.Actor, req dto.SubmitLeaveRequest) (*models.LeaveRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid leave request payload")
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		return nil, validationError(err, "invalid start date")
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		return nil, validationError(err, "invalid end date")
	}
	if end.Before(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must not be before start date")
	}

	teacherID := strings.TrimSpace(req.TeacherID)
	if teacherID == "" {
		teacherID = actor.ID
	}
	teacher, err := s.teachers.FindByID(ctx, nil, teacherID)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, internalError(err, "failed to load teacher")
	}
	if !actor.CanActFor(teacher.ID, teacher.Department) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot submit leave for this teacher")
	}

	if len(req.AffectedLectures) > 0 {
		if err := s.checkAffectedLectures(ctx, teacher.ID, start, end, req.AffectedLectures); err != nil {
			return nil, err
		}
	}

	leave := &models.LeaveRequest{
		TeacherID:        teacher.ID,
		Department:       teacher.Department,
		StartDate:        start,
		EndDate:          end,
		Reason:           strings.TrimSpace(req.Reason),
		Status:           models.LeaveStatusPending,
		SubmittedAt:      s.clock.Now(),
		AffectedLectures: dedupe(req.AffectedLectures),
	}
	if err := s.leaves.Create(ctx, nil, leave); err != nil {
		return nil, internalError(err, "failed to create leave request")
	}

	s.logger.Info("leave request submitted",
		zap.String("leave_id", leave.ID),
		zap.String("teacher_id", leave.TeacherID),
		zap.String("department", leave.Department),
	)
	return leave, nil
}

func (s *LeaveService) checkAffectedLectures(ctx context.Context, teacherID string, start, end time.Time, ids []string) error {
	ids = dedupe(ids)
	lectures, err := s.lectures.ListByIDs(ctx, nil, ids)
	if err != nil {
		return internalError(err, "failed to load affected lectures")
	}
	if len(lectures) != len(ids) {
		return appErrors.Clone(appErrors.ErrValidation, "affected lectures contain unknown ids")
	}
	for _, l := range lectures {
		if l.ScheduledTeacherID != teacherID {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("lecture %s is not taught by the absent teacher", l.ID))
		}
		day := dateOnly(l.Date)
		if day.Before(start) || day.After(end) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("lecture %s falls outside the leave period", l.ID))
		}
	}
	return nil
}

// Get returns a leave request visible to the actor.
func (s *LeaveService) Get(ctx context.Context, actor models.Actor, id string) (*models.LeaveRequest, error) {
	leave, err := s.leaves.GetByID(ctx, nil, id)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "leave request not found")
		}
		return nil, internalError(err, "failed to load leave request")
	}
	if !actor.CanActFor(leave.TeacherID, leave.Department) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "leave request belongs to another department")
	}
	return leave, nil
}

// List returns leave requests scoped by role: teachers see their own, HODs their
// department, admins everything.
func (s *LeaveService) List(ctx context.Context, actor models.Actor, filter models.LeaveRequestFilter) ([]models.LeaveRequest, *models.Pagination, error) {
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleHOD:
		filter.Department = actor.Department
	default:
		filter.TeacherID = actor.ID
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown leave status")
	}
	items, total, err := s.leaves.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list leave requests")
	}
	page, size := pageOrDefault(filter.Page, filter.PageSize)
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Review applies an HOD decision to a pending leave request. Approval fans out
// pending substitute assignments in the same transaction.
func (s *LeaveService) Review(ctx context.Context, actor models.Actor, id string, req dto.ReviewLeaveRequest) (*models.LeaveDecision, error) {
	req.Decision = models.LeaveAction(strings.ToUpper(strings.TrimSpace(string(req.Decision))))
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid review payload")
	}

	leave, err := s.leaves.GetByID(ctx, nil, id)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "leave request not found")
		}
		return nil, internalError(err, "failed to load leave request")
	}
	if !actor.CanManageDepartment(leave.Department) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the department head can review this leave request")
	}
	if actor.ID == leave.TeacherID && !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot review your own leave request")
	}
	next, ok := models.LeaveTransitionFor(leave.Status, req.Decision)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, fmt.Sprintf("leave request already %s", strings.ToLower(string(leave.Status))))
	}

	reviewer := actor.ID
	decision, box, err := s.transition(ctx, models.LeaveTransition{
		ID:             id,
		To:             next,
		DecidedAt:      s.clock.Now(),
		ReviewedBy:     &reviewer,
		ReviewComments: stringPtr(strings.TrimSpace(req.Comments)),
	})
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "leave request already processed")
		}
		return nil, internalError(err, "failed to review leave request")
	}

	box.flush(ctx, s.notifier)
	s.logger.Info("leave request reviewed",
		zap.String("leave_id", id),
		zap.String("status", string(next)),
		zap.String("reviewer", reviewer),
		zap.Int("assignments", len(decision.Assignments)),
	)
	return decision, nil
}

// AutoApprove promotes a leave request that stayed pending past the auto-approve
// window. Requests that are no longer pending, or not yet due, yield
// ErrEscalationSkipped.
func (s *LeaveService) AutoApprove(ctx context.Context, id string) (*models.LeaveDecision, error) {
	now := s.clock.Now()
	leave, err := s.leaves.GetByID(ctx, nil, id)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrEscalationSkipped
		}
		return nil, fmt.Errorf("load leave %s: %w", id, err)
	}
	if leave.Status != models.LeaveStatusPending || leave.SubmittedAt.Add(s.config.AutoApproveAfter).After(now) {
		return nil, ErrEscalationSkipped
	}
	next, _ := models.LeaveTransitionFor(leave.Status, models.LeaveActionTimeout)

	decision, box, err := s.transition(ctx, models.LeaveTransition{ID: id, To: next, DecidedAt: now})
	if err != nil {
		if isNoRows(err) {
			return nil, ErrEscalationSkipped
		}
		return nil, fmt.Errorf("auto-approve leave %s: %w", id, err)
	}
	box.flush(ctx, s.notifier)
	return decision, nil
}

// transition applies the conditional status change and, for approvals, the
// fan-out, all in one transaction.
func (s *LeaveService) transition(ctx context.Context, params models.LeaveTransition) (*models.LeaveDecision, outbox, error) {
	var (
		decision models.LeaveDecision
		box      outbox
	)
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		updated, err := s.leaves.TransitionFromPending(ctx, exec, params)
		if err != nil {
			return err
		}
		decision.Request = *updated
		if updated.Status.Approved() {
			assignments, err := s.fanOut(ctx, exec, *updated, params.DecidedAt)
			if err != nil {
				return err
			}
			decision.Assignments = assignments
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.metrics.RecordLeaveDecision(decision.Request.Status)
	box.add(decision.Request.TeacherID, leaveNotificationKind(decision.Request.Status), models.NotificationPriorityNormal,
		"Leave request "+strings.ToLower(strings.ReplaceAll(string(decision.Request.Status), "_", "-")),
		leaveDecisionMessage(decision))
	return &decision, box, nil
}

// fanOut creates one pending assignment per affected lecture that is not already
// covered, cancelled or awaiting a substitute.
func (s *LeaveService) fanOut(ctx context.Context, exec sqlx.ExtContext, leave models.LeaveRequest, now time.Time) ([]models.SubstituteAssignment, error) {
	var (
		lectures []models.Lecture
		err      error
	)
	if len(leave.AffectedLectures) > 0 {
		lectures, err = s.lectures.ListByIDs(ctx, exec, leave.AffectedLectures)
	} else {
		lectures, err = s.lectures.ListUncoveredForTeacher(ctx, exec, leave.TeacherID, leave.StartDate, leave.EndDate)
	}
	if err != nil {
		return nil, fmt.Errorf("load affected lectures: %w", err)
	}

	leaveID := leave.ID
	created := make([]models.SubstituteAssignment, 0, len(lectures))
	for _, lecture := range lectures {
		if lecture.Cancelled() || lecture.Covered() || lecture.ScheduledTeacherID != leave.TeacherID {
			continue
		}
		if _, err := s.assignments.FindPendingForLecture(ctx, exec, lecture.ID); err == nil {
			continue
		} else if !isNoRows(err) {
			return nil, fmt.Errorf("check pending assignment for %s: %w", lecture.ID, err)
		}

		assignment := models.SubstituteAssignment{
			LectureID:         lecture.ID,
			LeaveRequestID:    &leaveID,
			OriginalTeacherID: leave.TeacherID,
			Status:            models.AssignmentStatusPending,
			AssignmentType:    models.AssignmentTypeAuto,
			AssignedAt:        now,
			ResponseDeadline:  now.Add(s.config.ResponseWindow),
		}
		if err := s.assignments.Create(ctx, exec, &assignment); err != nil {
			return nil, fmt.Errorf("create assignment for %s: %w", lecture.ID, err)
		}
		created = append(created, assignment)
	}
	return created, nil
}

// Assignments lists the substitute assignments produced for a leave request.
func (s *LeaveService) Assignments(ctx context.Context, actor models.Actor, id string) ([]models.SubstituteAssignment, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	items, err := s.assignments.ListByLeaveRequest(ctx, nil, id)
	if err != nil {
		return nil, internalError(err, "failed to list leave assignments")
	}
	return items, nil
}

func leaveNotificationKind(status models.LeaveStatus) models.NotificationKind {
	switch status {
	case models.LeaveStatusApproved:
		return models.NotificationLeaveApproved
	case models.LeaveStatusAutoApproved:
		return models.NotificationLeaveAutoApproved
	default:
		return models.NotificationLeaveRejected
	}
}

func leaveDecisionMessage(d models.LeaveDecision) string {
	r := d.Request
	period := fmt.Sprintf("%s to %s", r.StartDate.Format(dateLayout), r.EndDate.Format(dateLayout))
	switch r.Status {
	case models.LeaveStatusRejected:
		if r.ReviewComments != nil {
			return fmt.Sprintf("Your leave for %s was rejected: %s", period, *r.ReviewComments)
		}
		return fmt.Sprintf("Your leave for %s was rejected", period)
	case models.LeaveStatusAutoApproved:
		return fmt.Sprintf("Your leave for %s was approved automatically; %d lecture(s) are awaiting a substitute", period, len(d.Assignments))
	default:
		return fmt.Sprintf("Your leave for %s was approved; %d lecture(s) are awaiting a substitute", period, len(d.Assignments))
	}
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

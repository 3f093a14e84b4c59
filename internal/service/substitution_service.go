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
	"github.com/noah-isme/sma-substitute-api/internal/repository"
	"github.com/noah-isme/sma-substitute-api/pkg/clock"
	appErrors "github.com/noah-isme/sma-substitute-api/pkg/errors"
)

type substitutionLectureStore interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.Lecture, error)
	ListUncoveredForTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID string, from, to time.Time) ([]models.Lecture, error)
	StampSubstitute(ctx context.Context, exec sqlx.ExtContext, params repository.StampSubstituteParams) error
}

type substitutionTeacherStore interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Teacher, error)
	AdjustSubstituteCount(ctx context.Context, exec sqlx.ExtContext, id string, delta int) error
}

type assignmentStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, assignment *models.SubstituteAssignment) error
	GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.SubstituteAssignment, error)
	FindPendingForLecture(ctx context.Context, exec sqlx.ExtContext, lectureID string) (*models.SubstituteAssignment, error)
	ListPending(ctx context.Context, department string) ([]models.PendingAssignment, error)
	ResolvePending(ctx context.Context, exec sqlx.ExtContext, params models.AssignmentResolution) (*models.SubstituteAssignment, error)
}

type substituteMatcher interface {
	FindSubstitute(ctx context.Context, exec sqlx.ExtContext, lecture models.Lecture, department, excludeTeacherID string, lock bool) (*models.Candidate, []models.Rejection, error)
	Rank(ctx context.Context, exec sqlx.ExtContext, lecture models.Lecture, department, excludeTeacherID string, lock bool) ([]models.Candidate, []models.Rejection, error)
}

// SubstitutionService resolves substitute assignments, either automatically through
// the matching engine or by an explicit human choice.
type SubstitutionService struct {
	tx          txRunner
	lectures    substitutionLectureStore
	teachers    substitutionTeacherStore
	assignments assignmentStore
	matcher     substituteMatcher
	notifier    Notifier
	clock       clock.Clock
	location    *time.Location
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// SubstitutionServiceDeps groups the collaborators of SubstitutionService.
type SubstitutionServiceDeps struct {
	Tx          txRunner
	Lectures    substitutionLectureStore
	Teachers    substitutionTeacherStore
	Assignments assignmentStore
	Matcher     substituteMatcher
	Notifier    Notifier
	Clock       clock.Clock
	Location    *time.Location
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
}

// NewSubstitutionService constructs a SubstitutionService.
func NewSubstitutionService(deps SubstitutionServiceDeps) *SubstitutionService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &SubstitutionService{
		tx:          deps.Tx,
		lectures:    deps.Lectures,
		teachers:    deps.Teachers,
		assignments: deps.Assignments,
		matcher:     deps.Matcher,
		notifier:    deps.Notifier,
		clock:       deps.Clock,
		location:    deps.Location,
		metrics:     deps.Metrics,
		validator:   deps.Validator,
		logger:      deps.Logger,
	}
}

// EscalateAssignment resolves a pending assignment whose response window has
// elapsed. It returns the terminal status, or ErrEscalationSkipped when the row was
// resolved concurrently or is not yet due.
func (s *SubstitutionService) EscalateAssignment(ctx context.Context, id string) (models.AssignmentStatus, error) {
	now := s.clock.Now()
	var (
		status models.AssignmentStatus
		box    outbox
	)
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		box = nil
		assignment, err := s.assignments.GetByID(ctx, exec, id)
		if err != nil {
			if isNoRows(err) {
				return ErrEscalationSkipped
			}
			return fmt.Errorf("load assignment: %w", err)
		}
		if assignment.Status != models.AssignmentStatusPending || assignment.ResponseDeadline.After(now) {
			return ErrEscalationSkipped
		}

		lecture, err := s.lectures.FindByID(ctx, exec, assignment.LectureID, true)
		if err != nil {
			return fmt.Errorf("load lecture %s: %w", assignment.LectureID, err)
		}

		switch {
		case lecture.Cancelled():
			status = models.AssignmentStatusUnassigned
			return s.resolve(ctx, exec, models.AssignmentResolution{
				ID: id, Status: status, AssignmentType: models.AssignmentTypeAuto, ResolvedAt: now,
				Note: stringPtr("lecture cancelled"),
			})
		case lecture.Covered():
			status = models.AssignmentStatusAssigned
			return s.resolve(ctx, exec, models.AssignmentResolution{
				ID: id, Status: status, AssignmentType: models.AssignmentTypeManual, ResolvedAt: now,
				SubstituteTeacherID: lecture.SubstituteTeacherID, Note: stringPtr("lecture already covered"),
			})
		}

		candidate, rejections, err := s.matcher.FindSubstitute(ctx, exec, *lecture, lecture.Department, assignment.OriginalTeacherID, true)
		if err != nil {
			return err
		}
		if candidate == nil {
			status = models.AssignmentStatusUnassigned
			note := summarizeRejections(rejections)
			if err := s.resolve(ctx, exec, models.AssignmentResolution{
				ID: id, Status: status, AssignmentType: models.AssignmentTypeAuto, ResolvedAt: now, Note: &note,
			}); err != nil {
				return err
			}
			box.add(assignment.OriginalTeacherID, models.NotificationCoverageUnavailable, models.NotificationPriorityHigh,
				"No substitute found", fmt.Sprintf("No substitute is available for %s. Please arrange cover with your department head.", describeLecture(*lecture)))
			return nil
		}

		status = models.AssignmentStatusAutoAssigned
		subID := candidate.Teacher.ID
		if err := s.resolve(ctx, exec, models.AssignmentResolution{
			ID: id, Status: status, AssignmentType: models.AssignmentTypeAuto, ResolvedAt: now, SubstituteTeacherID: &subID,
		}); err != nil {
			return err
		}
		if err := s.cover(ctx, exec, *lecture, subID, now); err != nil {
			return err
		}
		box.add(subID, models.NotificationSubstituteAssigned, models.NotificationPriorityHigh,
			"Substitution assigned", fmt.Sprintf("You have been assigned to cover %s.", describeLecture(*lecture)))
		box.add(assignment.OriginalTeacherID, models.NotificationCoverageArranged, models.NotificationPriorityNormal,
			"Cover arranged", fmt.Sprintf("%s will cover %s.", candidate.Teacher.FullName, describeLecture(*lecture)))
		return nil
	})
	if err != nil {
		if isNoRows(err) {
			return "", ErrEscalationSkipped
		}
		return "", err
	}

	s.metrics.RecordAssignment(status, models.AssignmentTypeAuto)
	box.flush(ctx, s.notifier)
	return status, nil
}

func (s *SubstitutionService) resolve(ctx context.Context, exec sqlx.ExtContext, params models.AssignmentResolution) error {
	_, err := s.assignments.ResolvePending(ctx, exec, params)
	return err
}

// cover stamps subID on a currently uncovered lecture and bumps their counter.
func (s *SubstitutionService) cover(ctx context.Context, exec sqlx.ExtContext, lecture models.Lecture, subID string, now time.Time) error {
	if err := s.lectures.StampSubstitute(ctx, exec, repository.StampSubstituteParams{
		LectureID:  lecture.ID,
		Expected:   lecture.SubstituteTeacherID,
		Substitute: subID,
		At:         now,
	}); err != nil {
		return err
	}
	return s.teachers.AdjustSubstituteCount(ctx, exec, subID, 1)
}

// MarkAbsent immediately resolves every uncovered lecture of the teacher on the
// given date, without a response window. Each lecture is resolved in its own
// transaction; a failure on one lecture is logged and does not stop the others.
func (s *SubstitutionService) MarkAbsent(ctx context.Context, actor models.Actor, req dto.MarkAbsentRequest) (*models.AbsenceResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid absence payload")
	}
	teacherID := strings.TrimSpace(req.TeacherID)
	if teacherID == "" {
		teacherID = actor.ID
	}
	day := dateOnly(s.clock.Now().In(s.location))
	if req.Date != "" {
		parsed, err := parseDate(req.Date)
		if err != nil {
			return nil, validationError(err, "invalid date")
		}
		day = parsed
	}

	teacher, err := s.teachers.FindByID(ctx, nil, teacherID)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, internalError(err, "failed to load teacher")
	}
	if !actor.CanActFor(teacher.ID, teacher.Department) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot mark another department's teacher absent")
	}

	lectures, err := s.lectures.ListUncoveredForTeacher(ctx, nil, teacher.ID, day, day)
	if err != nil {
		return nil, internalError(err, "failed to load lectures")
	}

	result := &models.AbsenceResult{
		TeacherID: teacher.ID,
		Date:      day.Format(dateLayout),
		Total:     len(lectures),
		Log:       make([]models.AbsenceLogEntry, 0, len(lectures)),
	}
	for _, lecture := range lectures {
		entry := s.resolveAbsentLecture(ctx, *teacher, lecture)
		if entry.Outcome == models.AbsenceOutcomeAssigned {
			result.AssignedCount++
		}
		result.Log = append(result.Log, entry)
	}

	s.logger.Info("absence resolved",
		zap.String("teacher_id", teacher.ID),
		zap.String("date", result.Date),
		zap.Int("lectures", result.Total),
		zap.Int("assigned", result.AssignedCount),
		zap.String("actor", actor.ID),
	)
	return result, nil
}

func (s *SubstitutionService) resolveAbsentLecture(ctx context.Context, absent models.Teacher, lecture models.Lecture) models.AbsenceLogEntry {
	entry := models.AbsenceLogEntry{
		LectureID: lecture.ID,
		Subject:   lecture.Subject,
		StartTime: lecture.StartTime,
		EndTime:   lecture.EndTime,
	}
	now := s.clock.Now()
	var box outbox

	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		box = nil
		current, err := s.lectures.FindByID(ctx, exec, lecture.ID, true)
		if err != nil {
			return fmt.Errorf("lock lecture: %w", err)
		}
		if current.Cancelled() || current.Covered() {
			entry.Outcome = models.AbsenceOutcomeSkipped
			entry.Note = "lecture cancelled or already covered"
			return nil
		}

		pending, err := s.assignments.FindPendingForLecture(ctx, exec, current.ID)
		if err != nil && !isNoRows(err) {
			return fmt.Errorf("load pending assignment: %w", err)
		}

		candidate, rejections, err := s.matcher.FindSubstitute(ctx, exec, *current, current.Department, absent.ID, true)
		if err != nil {
			return err
		}

		if candidate == nil {
			note := summarizeRejections(rejections)
			entry.Outcome = models.AbsenceOutcomeUnassigned
			entry.Note = note
			return s.recordOutcome(ctx, exec, pending, *current, absent.ID, models.AssignmentStatusUnassigned, models.AssignmentTypeAuto, nil, &note, now)
		}

		subID := candidate.Teacher.ID
		if err := s.cover(ctx, exec, *current, subID, now); err != nil {
			return err
		}
		if err := s.recordOutcome(ctx, exec, pending, *current, absent.ID, models.AssignmentStatusAutoAssigned, models.AssignmentTypeAuto, &subID, nil, now); err != nil {
			return err
		}
		entry.Outcome = models.AbsenceOutcomeAssigned
		entry.SubstituteID = &subID
		entry.SubstituteName = candidate.Teacher.FullName
		box.add(subID, models.NotificationSubstituteAssigned, models.NotificationPriorityHigh,
			"Substitution assigned", fmt.Sprintf("You have been assigned to cover %s today.", describeLecture(*current)))
		return nil
	})
	if err != nil {
		s.logger.Warn("absence resolution failed",
			zap.String("lecture_id", lecture.ID),
			zap.String("teacher_id", absent.ID),
			zap.Error(err),
		)
		entry.Outcome = models.AbsenceOutcomeFailed
		entry.Note = "resolution failed; try again"
		entry.SubstituteID = nil
		entry.SubstituteName = ""
		return entry
	}

	switch entry.Outcome {
	case models.AbsenceOutcomeAssigned:
		s.metrics.RecordAssignment(models.AssignmentStatusAutoAssigned, models.AssignmentTypeAuto)
	case models.AbsenceOutcomeUnassigned:
		s.metrics.RecordAssignment(models.AssignmentStatusUnassigned, models.AssignmentTypeAuto)
	}
	box.flush(ctx, s.notifier)
	return entry
}

// recordOutcome resolves the lecture's pending assignment if there is one, otherwise
// inserts an already-resolved assignment row.
func (s *SubstitutionService) recordOutcome(ctx context.Context, exec sqlx.ExtContext, pending *models.SubstituteAssignment, lecture models.Lecture, originalTeacherID string, status models.AssignmentStatus, kind models.AssignmentType, subID, note *string, now time.Time) error {
	if pending != nil {
		return s.resolve(ctx, exec, models.AssignmentResolution{
			ID: pending.ID, Status: status, AssignmentType: kind, SubstituteTeacherID: subID, ResolvedAt: now, Note: note,
		})
	}
	resolvedAt := now
	return s.assignments.Create(ctx, exec, &models.SubstituteAssignment{
		LectureID:           lecture.ID,
		OriginalTeacherID:   originalTeacherID,
		SubstituteTeacherID: subID,
		Status:              status,
		AssignmentType:      kind,
		AssignedAt:          now,
		ResponseDeadline:    now,
		ResolvedAt:          &resolvedAt,
		Note:                note,
	})
}

// AssignManually sets or overrides the substitute of a lecture. Eligibility rules do
// not apply to human choices; only the scheduled teacher and cancelled lectures are
// refused.
func (s *SubstitutionService) AssignManually(ctx context.Context, actor models.Actor, lectureID string, req dto.ManualAssignRequest) (*models.SubstituteAssignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid assignment payload")
	}
	subID := strings.TrimSpace(req.SubstituteTeacherID)
	now := s.clock.Now()

	var (
		result    *models.SubstituteAssignment
		previous  *string
		assignee  *models.Teacher
		lectureAt models.Lecture
	)
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		lecture, err := s.lectures.FindByID(ctx, exec, lectureID, true)
		if err != nil {
			if isNoRows(err) {
				return appErrors.Clone(appErrors.ErrNotFound, "lecture not found")
			}
			return internalError(err, "failed to load lecture")
		}
		lectureAt = *lecture
		if !actor.CanManageDepartment(lecture.Department) {
			return appErrors.Clone(appErrors.ErrForbidden, "only the department head can assign substitutes")
		}
		if lecture.Cancelled() {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "lecture is cancelled")
		}
		if subID == lecture.ScheduledTeacherID {
			return appErrors.Clone(appErrors.ErrValidation, "the scheduled teacher cannot substitute their own lecture")
		}
		if lecture.SubstituteTeacherID != nil && *lecture.SubstituteTeacherID == subID {
			return appErrors.Clone(appErrors.ErrConflict, "teacher already covers this lecture")
		}

		assignee, err = s.teachers.FindByID(ctx, exec, subID)
		if err != nil {
			if isNoRows(err) {
				return appErrors.Clone(appErrors.ErrNotFound, "substitute teacher not found")
			}
			return internalError(err, "failed to load substitute teacher")
		}

		previous = lecture.SubstituteTeacherID
		kind := models.AssignmentTypeManual
		if previous != nil {
			kind = models.AssignmentTypeManualOverride
		}

		if err := s.cover(ctx, exec, *lecture, subID, now); err != nil {
			if isNoRows(err) {
				return appErrors.Clone(appErrors.ErrConflict, "lecture was updated concurrently")
			}
			return internalError(err, "failed to assign substitute")
		}
		if previous != nil {
			if err := s.teachers.AdjustSubstituteCount(ctx, exec, *previous, -1); err != nil && !isNoRows(err) {
				return internalError(err, "failed to update previous substitute")
			}
		}

		note := stringPtr(strings.TrimSpace(req.Note))
		pending, err := s.assignments.FindPendingForLecture(ctx, exec, lecture.ID)
		switch {
		case err == nil:
			result, err = s.assignments.ResolvePending(ctx, exec, models.AssignmentResolution{
				ID: pending.ID, Status: models.AssignmentStatusAssigned, AssignmentType: kind,
				SubstituteTeacherID: &subID, ResolvedAt: now, Note: note,
			})
			if err != nil {
				if isNoRows(err) {
					return appErrors.Clone(appErrors.ErrConflict, "assignment was resolved concurrently")
				}
				return internalError(err, "failed to resolve assignment")
			}
		case isNoRows(err):
			resolvedAt := now
			result = &models.SubstituteAssignment{
				LectureID:           lecture.ID,
				OriginalTeacherID:   lecture.ScheduledTeacherID,
				SubstituteTeacherID: &subID,
				Status:              models.AssignmentStatusAssigned,
				AssignmentType:      kind,
				AssignedAt:          now,
				ResponseDeadline:    now,
				ResolvedAt:          &resolvedAt,
				Note:                note,
			}
			if err := s.assignments.Create(ctx, exec, result); err != nil {
				return internalError(err, "failed to record assignment")
			}
		default:
			return internalError(err, "failed to load pending assignment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var box outbox
	box.add(subID, models.NotificationSubstituteAssigned, models.NotificationPriorityHigh,
		"Substitution assigned", fmt.Sprintf("You have been assigned to cover %s.", describeLecture(lectureAt)))
	if previous != nil {
		box.add(*previous, models.NotificationSubstituteReleased, models.NotificationPriorityNormal,
			"Substitution reassigned", fmt.Sprintf("You no longer need to cover %s.", describeLecture(lectureAt)))
	}
	box.add(lectureAt.ScheduledTeacherID, models.NotificationCoverageArranged, models.NotificationPriorityNormal,
		"Cover arranged", fmt.Sprintf("%s will cover %s.", assignee.FullName, describeLecture(lectureAt)))
	box.flush(ctx, s.notifier)

	s.metrics.RecordAssignment(result.Status, result.AssignmentType)
	s.logger.Info("substitute assigned manually",
		zap.String("lecture_id", lectureID),
		zap.String("substitute_id", subID),
		zap.String("type", string(result.AssignmentType)),
		zap.String("actor", actor.ID),
	)
	return result, nil
}

// ListPending returns pending assignments with the remaining response time. HODs
// and teachers see their department, admins every department.
func (s *SubstitutionService) ListPending(ctx context.Context, actor models.Actor) ([]models.PendingAssignment, error) {
	department := actor.Department
	if actor.IsAdmin() {
		department = ""
	} else if department == "" {
		return []models.PendingAssignment{}, nil
	}
	items, err := s.assignments.ListPending(ctx, department)
	if err != nil {
		return nil, internalError(err, "failed to list pending assignments")
	}
	now := s.clock.Now()
	for i := range items {
		remaining := items[i].ResponseDeadline.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		items[i].TimeRemainingSeconds = int64(remaining / time.Second)
	}
	if items == nil {
		items = []models.PendingAssignment{}
	}
	return items, nil
}

// Candidates previews who could cover a lecture and why others cannot. Nothing is locked or written.
func (s *SubstitutionService) Candidates(ctx context.Context, actor models.Actor, lectureID string) (*models.CandidatePreview, error) {
	lecture, err := s.lectures.FindByID(ctx, nil, lectureID, false)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lecture not found")
		}
		return nil, internalError(err, "failed to load lecture")
	}
	if !actor.CanManageDepartment(lecture.Department) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "lecture belongs to another department")
	}
	candidates, rejections, err := s.matcher.Rank(ctx, nil, *lecture, lecture.Department, lecture.ScheduledTeacherID, false)
	if err != nil {
		return nil, internalError(err, "failed to rank candidates")
	}
	return &models.CandidatePreview{LectureID: lecture.ID, Candidates: candidates, Rejections: rejections}, nil
}

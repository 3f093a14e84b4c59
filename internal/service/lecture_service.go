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

type lectureStore interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.Lecture, error)
	List(ctx context.Context, filter models.LectureFilter) ([]models.Lecture, int, error)
	Create(ctx context.Context, exec sqlx.ExtContext, lecture *models.Lecture) error
	Reschedule(ctx context.Context, exec sqlx.ExtContext, lecture *models.Lecture) error
	Cancel(ctx context.Context, exec sqlx.ExtContext, id string, at time.Time) error
}

type lectureAssignmentStore interface {
	FindPendingForLecture(ctx context.Context, exec sqlx.ExtContext, lectureID string) (*models.SubstituteAssignment, error)
	ResolvePending(ctx context.Context, exec sqlx.ExtContext, params models.AssignmentResolution) (*models.SubstituteAssignment, error)
}

type conflictChecker interface {
	TeacherConflict(ctx context.Context, exec sqlx.ExtContext, teacherID string, date time.Time, start, end, excludeID string) (*models.Lecture, error)
	RoomConflict(ctx context.Context, exec sqlx.ExtContext, room string, date time.Time, start, end, excludeID string) (*models.Lecture, error)
}

// LectureService manages dated lecture slots and guards them against double
// booking of a teacher or a room.
type LectureService struct {
	tx          txRunner
	lectures    lectureStore
	teachers    substitutionTeacherStore
	assignments lectureAssignmentStore
	conflicts   conflictChecker
	notifier    Notifier
	clock       clock.Clock
	validator   *validator.Validate
	logger      *zap.Logger
}

// LectureServiceDeps groups the collaborators of LectureService.
type LectureServiceDeps struct {
	Tx          txRunner
	Lectures    lectureStore
	Teachers    substitutionTeacherStore
	Assignments lectureAssignmentStore
	Conflicts   conflictChecker
	Notifier    Notifier
	Clock       clock.Clock
	Validator   *validator.Validate
	Logger      *zap.Logger
}

// NewLectureService constructs a LectureService.
func NewLectureService(deps LectureServiceDeps) *LectureService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &LectureService{
		tx:          deps.Tx,
		lectures:    deps.Lectures,
		teachers:    deps.Teachers,
		assignments: deps.Assignments,
		conflicts:   deps.Conflicts,
		notifier:    deps.Notifier,
		clock:       deps.Clock,
		validator:   deps.Validator,
		logger:      deps.Logger,
	}
}

// Get returns a lecture visible to the actor.
func (s *LectureService) Get(ctx context.Context, actor models.Actor, id string) (*models.Lecture, error) {
	lecture, err := s.lectures.FindByID(ctx, nil, id, false)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lecture not found")
		}
		return nil, internalError(err, "failed to load lecture")
	}
	if !lecture.TaughtBy(actor.ID) && !actor.CanManageDepartment(lecture.Department) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "lecture belongs to another department")
	}
	return lecture, nil
}

// List returns lectures scoped to the actor: teachers see lectures they teach,
// HODs their department.
func (s *LectureService) List(ctx context.Context, actor models.Actor, filter models.LectureFilter) ([]models.Lecture, *models.Pagination, error) {
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleHOD:
		filter.Department = actor.Department
	default:
		filter.TeacherID = actor.ID
	}
	items, total, err := s.lectures.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list lectures")
	}
	page, size := pageOrDefault(filter.Page, filter.PageSize)
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Create schedules a new lecture for a teacher of the actor's department.
func (s *LectureService) Create(ctx context.Context, actor models.Actor, req dto.CreateLectureRequest) (*models.Lecture, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid lecture payload")
	}
	date, start, end, err := parseSlot(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	lecture := &models.Lecture{
		ScheduledTeacherID: strings.TrimSpace(req.ScheduledTeacherID),
		Subject:            strings.TrimSpace(req.Subject),
		ClassYear:          strings.TrimSpace(req.ClassYear),
		Room:               strings.TrimSpace(req.Room),
		Date:               date,
		DayOfWeek:          strings.ToUpper(date.Weekday().String()),
		StartTime:          start,
		EndTime:            end,
		Status:             models.LectureStatusScheduled,
	}

	err = s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		teacher, err := s.teachers.FindByID(ctx, exec, lecture.ScheduledTeacherID)
		if err != nil {
			if isNoRows(err) {
				return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
			}
			return internalError(err, "failed to load teacher")
		}
		if !actor.CanManageDepartment(teacher.Department) {
			return appErrors.Clone(appErrors.ErrForbidden, "cannot schedule lectures for another department")
		}
		if !teacher.Active {
			return appErrors.Clone(appErrors.ErrInactiveTeacher, "teacher is inactive")
		}
		lecture.Department = teacher.Department

		if err := s.checkConflicts(ctx, exec, *lecture, []string{lecture.ScheduledTeacherID}); err != nil {
			return err
		}
		if err := s.lectures.Create(ctx, exec, lecture); err != nil {
			return internalError(err, "failed to create lecture")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("lecture scheduled",
		zap.String("lecture_id", lecture.ID),
		zap.String("teacher_id", lecture.ScheduledTeacherID),
		zap.String("date", lecture.Date.Format(dateLayout)),
	)
	return lecture, nil
}

// Reschedule moves a lecture to a new slot or room. Both the scheduled teacher and
// any stamped substitute must be free in the new slot.
func (s *LectureService) Reschedule(ctx context.Context, actor models.Actor, id string, req dto.RescheduleLectureRequest) (*models.Lecture, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid lecture payload")
	}
	date, start, end, err := parseSlot(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	var lecture *models.Lecture
	err = s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		current, err := s.lectures.FindByID(ctx, exec, id, true)
		if err != nil {
			if isNoRows(err) {
				return appErrors.Clone(appErrors.ErrNotFound, "lecture not found")
			}
			return internalError(err, "failed to load lecture")
		}
		if !actor.CanManageDepartment(current.Department) {
			return appErrors.Clone(appErrors.ErrForbidden, "lecture belongs to another department")
		}
		if current.Cancelled() {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "lecture is cancelled")
		}

		current.Subject = strings.TrimSpace(req.Subject)
		current.ClassYear = strings.TrimSpace(req.ClassYear)
		current.Room = strings.TrimSpace(req.Room)
		current.Date = date
		current.DayOfWeek = strings.ToUpper(date.Weekday().String())
		current.StartTime = start
		current.EndTime = end

		teachers := []string{current.ScheduledTeacherID}
		if current.Covered() {
			teachers = append(teachers, *current.SubstituteTeacherID)
		}
		if err := s.checkConflicts(ctx, exec, *current, teachers); err != nil {
			return err
		}
		if err := s.lectures.Reschedule(ctx, exec, current); err != nil {
			if isNoRows(err) {
				return appErrors.Clone(appErrors.ErrConflict, "lecture was updated concurrently")
			}
			return internalError(err, "failed to reschedule lecture")
		}
		lecture = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lecture, nil
}

// Cancel cancels a lecture, closes any pending assignment for it and releases a
// stamped substitute.
func (s *LectureService) Cancel(ctx context.Context, actor models.Actor, id string) (*models.Lecture, error) {
	now := s.clock.Now()
	var (
		lecture *models.Lecture
		box     outbox
	)
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		box = nil
		current, err := s.lectures.FindByID(ctx, exec, id, true)
		if err != nil {
			if isNoRows(err) {
				return appErrors.Clone(appErrors.ErrNotFound, "lecture not found")
			}
			return internalError(err, "failed to load lecture")
		}
		if !actor.CanManageDepartment(current.Department) {
			return appErrors.Clone(appErrors.ErrForbidden, "lecture belongs to another department")
		}
		if err := s.lectures.Cancel(ctx, exec, id, now); err != nil {
			if isNoRows(err) {
				return appErrors.Clone(appErrors.ErrAlreadyProcessed, "lecture already cancelled")
			}
			return internalError(err, "failed to cancel lecture")
		}

		pending, err := s.assignments.FindPendingForLecture(ctx, exec, id)
		switch {
		case err == nil:
			if _, err := s.assignments.ResolvePending(ctx, exec, models.AssignmentResolution{
				ID: pending.ID, Status: models.AssignmentStatusUnassigned, AssignmentType: models.AssignmentTypeManual,
				ResolvedAt: now, Note: stringPtr("lecture cancelled"),
			}); err != nil && !isNoRows(err) {
				return internalError(err, "failed to close pending assignment")
			}
		case !isNoRows(err):
			return internalError(err, "failed to load pending assignment")
		}

		if current.Covered() {
			if err := s.teachers.AdjustSubstituteCount(ctx, exec, *current.SubstituteTeacherID, -1); err != nil && !isNoRows(err) {
				return internalError(err, "failed to release substitute")
			}
			box.add(*current.SubstituteTeacherID, models.NotificationSubstituteReleased, models.NotificationPriorityNormal,
				"Lecture cancelled", fmt.Sprintf("%s was cancelled; you no longer need to cover it.", describeLecture(*current)))
		}
		current.Status = models.LectureStatusCancelled
		current.UpdatedAt = now
		lecture = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	box.flush(ctx, s.notifier)
	s.logger.Info("lecture cancelled", zap.String("lecture_id", id), zap.String("actor", actor.ID))
	return lecture, nil
}

func (s *LectureService) checkConflicts(ctx context.Context, exec sqlx.ExtContext, lecture models.Lecture, teacherIDs []string) error {
	for _, teacherID := range teacherIDs {
		existing, err := s.conflicts.TeacherConflict(ctx, exec, teacherID, lecture.Date, lecture.StartTime, lecture.EndTime, lecture.ID)
		if err != nil {
			return internalError(err, "failed to check teacher availability")
		}
		if existing != nil {
			return conflictError(existing, models.ConflictDimensionTeacher, teacherID)
		}
	}
	existing, err := s.conflicts.RoomConflict(ctx, exec, lecture.Room, lecture.Date, lecture.StartTime, lecture.EndTime, lecture.ID)
	if err != nil {
		return internalError(err, "failed to check room availability")
	}
	if existing != nil {
		return conflictError(existing, models.ConflictDimensionRoom, "")
	}
	return nil
}

func parseSlot(rawDate, rawStart, rawEnd string) (time.Time, string, string, error) {
	date, err := parseDate(rawDate)
	if err != nil {
		return time.Time{}, "", "", validationError(err, "invalid date")
	}
	start, end, err := NormalizeSlot(rawStart, rawEnd)
	if err != nil {
		return time.Time{}, "", "", err
	}
	return date, start, end, nil
}

package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-substitute-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitute-api/pkg/errors"
	"github.com/noah-isme/sma-substitute-api/pkg/jobs"
	"github.com/noah-isme/sma-substitute-api/pkg/middleware/requestid"
)

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, teacherID string) error
}

// NotificationService persists teacher notifications through an asynchronous
// worker queue. Delivery is best effort: failures are retried a few times by the
// queue and then logged, never surfaced to the caller that triggered them.
type NotificationService struct {
	repo    notificationStore
	queue   *jobs.Queue[models.Notification]
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService wires the dispatcher queue. Call Start before Notify.
func NewNotificationService(repo notificationStore, cfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{repo: repo, metrics: metrics, logger: logger}
	cfg.Logger = logger
	svc.queue = jobs.NewQueue[models.Notification]("notifications", svc.deliver, cfg)
	return svc
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify enqueues a notification for teacherID. It never blocks and never fails.
func (s *NotificationService) Notify(ctx context.Context, teacherID string, kind models.NotificationKind, title, message string, priority models.NotificationPriority) {
	n := models.Notification{
		ID:        uuid.NewString(),
		TeacherID: teacherID,
		Kind:      kind,
		Title:     title,
		Message:   message,
		Priority:  priority,
	}
	if err := s.queue.Enqueue(jobs.Job[models.Notification]{ID: n.ID, Type: string(kind), Payload: n}); err != nil {
		s.metrics.RecordNotification("dropped")
		s.logger.Warn("notification dropped",
			zap.String("teacher_id", teacherID),
			zap.String("kind", string(kind)),
			zap.String("request_id", requestid.FromContext(ctx)),
			zap.Error(err),
		)
		return
	}
	s.metrics.RecordNotification("queued")
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job[models.Notification]) error {
	n := job.Payload
	if err := s.repo.Create(ctx, &n); err != nil {
		s.metrics.RecordNotification("failed")
		return err
	}
	s.metrics.RecordNotification("delivered")
	return nil
}

// List returns the actor's own inbox.
func (s *NotificationService) List(ctx context.Context, actor models.Actor, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	filter.TeacherID = actor.ID
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list notifications")
	}
	page, size := pageOrDefault(filter.Page, filter.PageSize)
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// MarkRead flags one of the actor's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, actor models.Actor, id string) error {
	if err := s.repo.MarkRead(ctx, id, actor.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return internalError(err, "failed to update notification")
	}
	return nil
}

func pageOrDefault(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}

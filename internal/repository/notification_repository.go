package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-substitute-api/internal/models"
)

const notificationColumns = `id, teacher_id, kind, title, message, priority, is_read, created_at`

// NotificationRepository persists teacher inbox rows.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create stores a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Priority == "" {
		n.Priority = models.NotificationPriorityNormal
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (` + notificationColumns + `)
VALUES (:id, :teacher_id, :kind, :title, :message, :priority, :is_read, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// List returns a teacher's notifications, newest first, with the total count.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	base := "FROM notifications WHERE teacher_id = $1"
	if filter.UnreadOnly {
		base += " AND is_read = FALSE"
	}
	page, size := normalizePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC, id LIMIT %d OFFSET %d", notificationColumns, base, size, (page-1)*size)
	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, query, filter.TeacherID); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, filter.TeacherID); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return items, total, nil
}

// MarkRead flags the teacher's notification as read. Unknown ids yield sql.ErrNoRows.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, teacherID string) error {
	const query = `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND teacher_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, teacherID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return expectAffected(result)
}

package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-substitute-api/internal/models"
)

const leaveColumns = `id, teacher_id, department, start_date, end_date, reason, status, submitted_at, hod_decision_at, reviewed_by, review_comments, affected_lectures, updated_at`

// LeaveRequestRepository persists leave requests and their forward-only transitions.
type LeaveRequestRepository struct {
	db *sqlx.DB
}

// NewLeaveRequestRepository constructs a LeaveRequestRepository.
func NewLeaveRequestRepository(db *sqlx.DB) *LeaveRequestRepository {
	return &LeaveRequestRepository{db: db}
}

func (r *LeaveRequestRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a pending leave request.
func (r *LeaveRequestRepository) Create(ctx context.Context, exec sqlx.ExtContext, leave *models.LeaveRequest) error {
	if leave.ID == "" {
		leave.ID = uuid.NewString()
	}
	if leave.Status == "" {
		leave.Status = models.LeaveStatusPending
	}
	if leave.SubmittedAt.IsZero() {
		leave.SubmittedAt = time.Now().UTC()
	}
	leave.UpdatedAt = leave.SubmittedAt

	const query = `INSERT INTO leave_requests (` + leaveColumns + `)
VALUES (:id, :teacher_id, :department, :start_date, :end_date, :reason, :status, :submitted_at, :hod_decision_at, :reviewed_by, :review_comments, :affected_lectures, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, leave); err != nil {
		return fmt.Errorf("create leave request: %w", err)
	}
	return nil
}

// GetByID fetches a leave request by identifier.
func (r *LeaveRequestRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.LeaveRequest, error) {
	query := `SELECT ` + leaveColumns + ` FROM leave_requests WHERE id = $1`
	var leave models.LeaveRequest
	if err := sqlx.GetContext(ctx, r.exec(exec), &leave, query, id); err != nil {
		return nil, err
	}
	return &leave, nil
}

// List returns leave requests matching filter, newest first, with the total count.
func (r *LeaveRequestRepository) List(ctx context.Context, filter models.LeaveRequestFilter) ([]models.LeaveRequest, int, error) {
	var conditions []string
	var args []interface{}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)))
	}
	if filter.Department != "" {
		args = append(args, filter.Department)
		conditions = append(conditions, fmt.Sprintf("department = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	base := "FROM leave_requests"
	if len(conditions) > 0 {
		base += " WHERE " + strings.Join(conditions, " AND ")
	}

	page, size := normalizePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s %s ORDER BY submitted_at DESC, id LIMIT %d OFFSET %d", leaveColumns, base, size, (page-1)*size)
	var leaves []models.LeaveRequest
	if err := r.db.SelectContext(ctx, &leaves, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list leave requests: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count leave requests: %w", err)
	}
	return leaves, total, nil
}

// ListPendingSubmittedBefore returns ids of pending requests submitted at or before cutoff, oldest first.
func (r *LeaveRequestRepository) ListPendingSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	const query = `SELECT id FROM leave_requests WHERE status = 'PENDING' AND submitted_at <= $1 ORDER BY submitted_at, id LIMIT $2`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list stale leave requests: %w", err)
	}
	return ids, nil
}

// TransitionFromPending moves a pending request to params.To and returns the
// updated row. A request that is no longer pending yields sql.ErrNoRows.
func (r *LeaveRequestRepository) TransitionFromPending(ctx context.Context, exec sqlx.ExtContext, params models.LeaveTransition) (*models.LeaveRequest, error) {
	query := `UPDATE leave_requests
SET status = $2, hod_decision_at = $3, reviewed_by = $4, review_comments = $5, updated_at = $3
WHERE id = $1 AND status = 'PENDING'
RETURNING ` + leaveColumns
	var leave models.LeaveRequest
	if err := sqlx.GetContext(ctx, r.exec(exec), &leave, query,
		params.ID, params.To, params.DecidedAt, params.ReviewedBy, params.ReviewComments,
	); err != nil {
		return nil, err
	}
	return &leave, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-substitute-api/internal/models"
)

const assignmentColumns = `id, lecture_id, leave_request_id, original_teacher_id, substitute_teacher_id, status, assignment_type, assigned_at, response_deadline, resolved_at, note`

// SubstituteAssignmentRepository persists per-lecture coverage records.
type SubstituteAssignmentRepository struct {
	db *sqlx.DB
}

// NewSubstituteAssignmentRepository constructs the repository.
func NewSubstituteAssignmentRepository(db *sqlx.DB) *SubstituteAssignmentRepository {
	return &SubstituteAssignmentRepository{db: db}
}

func (r *SubstituteAssignmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts an assignment row. The partial unique index on pending rows
// rejects a second PENDING assignment for the same lecture.
func (r *SubstituteAssignmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, assignment *models.SubstituteAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = time.Now().UTC()
	}
	const query = `INSERT INTO substitute_assignments (` + assignmentColumns + `)
VALUES (:id, :lecture_id, :leave_request_id, :original_teacher_id, :substitute_teacher_id, :status, :assignment_type, :assigned_at, :response_deadline, :resolved_at, :note)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, assignment); err != nil {
		return fmt.Errorf("create substitute assignment: %w", err)
	}
	return nil
}

// GetByID fetches an assignment by identifier.
func (r *SubstituteAssignmentRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.SubstituteAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM substitute_assignments WHERE id = $1`
	var assignment models.SubstituteAssignment
	if err := sqlx.GetContext(ctx, r.exec(exec), &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// FindPendingForLecture returns the lecture's pending assignment or sql.ErrNoRows.
func (r *SubstituteAssignmentRepository) FindPendingForLecture(ctx context.Context, exec sqlx.ExtContext, lectureID string) (*models.SubstituteAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM substitute_assignments WHERE lecture_id = $1 AND status = 'PENDING' LIMIT 1`
	var assignment models.SubstituteAssignment
	if err := sqlx.GetContext(ctx, r.exec(exec), &assignment, query, lectureID); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// ListByLeaveRequest returns assignments fanned out from the given leave request.
func (r *SubstituteAssignmentRepository) ListByLeaveRequest(ctx context.Context, exec sqlx.ExtContext, leaveRequestID string) ([]models.SubstituteAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM substitute_assignments WHERE leave_request_id = $1 ORDER BY assigned_at, id`
	var assignments []models.SubstituteAssignment
	if err := sqlx.SelectContext(ctx, r.exec(exec), &assignments, query, leaveRequestID); err != nil {
		return nil, fmt.Errorf("list leave assignments: %w", err)
	}
	return assignments, nil
}

// ListPendingDue returns ids of pending assignments whose deadline is at or before now.
func (r *SubstituteAssignmentRepository) ListPendingDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	const query = `SELECT id FROM substitute_assignments WHERE status = 'PENDING' AND response_deadline <= $1 ORDER BY response_deadline, id LIMIT $2`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("list due assignments: %w", err)
	}
	return ids, nil
}

// ListPending returns pending assignments joined with their lecture, soonest deadline
// first. An empty department lists every department.
func (r *SubstituteAssignmentRepository) ListPending(ctx context.Context, department string) ([]models.PendingAssignment, error) {
	const query = `SELECT sa.id, sa.lecture_id, sa.leave_request_id, sa.original_teacher_id, sa.substitute_teacher_id,
       sa.status, sa.assignment_type, sa.assigned_at, sa.response_deadline, sa.resolved_at, sa.note,
       l.department, l.subject, l.class_year, l.room, l.date AS lecture_date, l.start_time, l.end_time,
       COALESCE(t.full_name, '') AS original_teacher_name
FROM substitute_assignments sa
JOIN lectures l ON l.id = sa.lecture_id
LEFT JOIN teachers t ON t.id = sa.original_teacher_id
WHERE sa.status = 'PENDING' AND ($1 = '' OR l.department = $1)
ORDER BY sa.response_deadline, sa.id`
	var pending []models.PendingAssignment
	if err := r.db.SelectContext(ctx, &pending, query, department); err != nil {
		return nil, fmt.Errorf("list pending assignments: %w", err)
	}
	return pending, nil
}

// ResolvePending moves a pending assignment to a terminal status and returns the
// updated row. An assignment that is no longer pending yields sql.ErrNoRows.
func (r *SubstituteAssignmentRepository) ResolvePending(ctx context.Context, exec sqlx.ExtContext, params models.AssignmentResolution) (*models.SubstituteAssignment, error) {
	query := `UPDATE substitute_assignments
SET status = $2, assignment_type = $3, substitute_teacher_id = $4, resolved_at = $5, note = $6
WHERE id = $1 AND status = 'PENDING'
RETURNING ` + assignmentColumns
	var assignment models.SubstituteAssignment
	if err := sqlx.GetContext(ctx, r.exec(exec), &assignment, query,
		params.ID, params.Status, params.AssignmentType, params.SubstituteTeacherID, params.ResolvedAt, params.Note,
	); err != nil {
		return nil, err
	}
	return &assignment, nil
}

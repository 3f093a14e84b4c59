package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-substitute-api/internal/models"
)

const teacherColumns = `id, email, full_name, department, active, substitute_count, created_at, updated_at`

// TeacherRepository reads faculty rows and maintains the substitution counter.
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository constructs a TeacherRepository.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

func (r *TeacherRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID fetches a teacher by ID.
func (r *TeacherRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Teacher, error) {
	query := `SELECT ` + teacherColumns + ` FROM teachers WHERE id = $1`
	var teacher models.Teacher
	if err := sqlx.GetContext(ctx, r.exec(exec), &teacher, query, id); err != nil {
		return nil, err
	}
	return &teacher, nil
}

// ListByDepartment returns every teacher in department ordered by id. With
// forUpdate the rows are locked in that order so concurrent resolvers cannot
// deadlock on each other.
func (r *TeacherRepository) ListByDepartment(ctx context.Context, exec sqlx.ExtContext, department string, forUpdate bool) ([]models.Teacher, error) {
	query := `SELECT ` + teacherColumns + ` FROM teachers WHERE department = $1 ORDER BY id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var teachers []models.Teacher
	if err := sqlx.SelectContext(ctx, r.exec(exec), &teachers, query, department); err != nil {
		return nil, fmt.Errorf("list department teachers: %w", err)
	}
	return teachers, nil
}

// AdjustSubstituteCount adds delta to the teacher's substitution counter, never below zero.
func (r *TeacherRepository) AdjustSubstituteCount(ctx context.Context, exec sqlx.ExtContext, id string, delta int) error {
	const query = `UPDATE teachers SET substitute_count = GREATEST(substitute_count + $2, 0), updated_at = NOW() WHERE id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("adjust substitute count: %w", err)
	}
	return expectAffected(result)
}

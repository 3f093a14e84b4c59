package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-substitute-api/internal/models"
)

const lectureColumns = `id, scheduled_teacher_id, substitute_teacher_id, department, subject, class_year, room, date, day_of_week, start_time, end_time, status, created_at, updated_at`

// LectureRepository persists dated lecture slots.
type LectureRepository struct {
	db *sqlx.DB
}

// NewLectureRepository constructs a LectureRepository.
func NewLectureRepository(db *sqlx.DB) *LectureRepository {
	return &LectureRepository{db: db}
}

func (r *LectureRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID fetches a lecture by ID. With forUpdate the row is locked for the
// remainder of the transaction.
func (r *LectureRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.Lecture, error) {
	query := `SELECT ` + lectureColumns + ` FROM lectures WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var lecture models.Lecture
	if err := sqlx.GetContext(ctx, r.exec(exec), &lecture, query, id); err != nil {
		return nil, err
	}
	return &lecture, nil
}

// List returns lectures matching filter ordered chronologically.
func (r *LectureRepository) List(ctx context.Context, filter models.LectureFilter) ([]models.Lecture, int, error) {
	var conditions []string
	var args []interface{}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conditions = append(conditions, fmt.Sprintf("(scheduled_teacher_id = $%d OR substitute_teacher_id = $%d)", len(args), len(args)))
	}
	if filter.Department != "" {
		args = append(args, filter.Department)
		conditions = append(conditions, fmt.Sprintf("department = $%d", len(args)))
	}
	if filter.Date != nil {
		args = append(args, *filter.Date)
		conditions = append(conditions, fmt.Sprintf("date = $%d", len(args)))
	}

	base := "FROM lectures"
	if len(conditions) > 0 {
		base += " WHERE " + strings.Join(conditions, " AND ")
	}

	page, size := normalizePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s %s ORDER BY date, start_time, id LIMIT %d OFFSET %d", lectureColumns, base, size, (page-1)*size)
	var lectures []models.Lecture
	if err := r.db.SelectContext(ctx, &lectures, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list lectures: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count lectures: %w", err)
	}
	return lectures, total, nil
}

// ListByIDs returns the given lectures ordered chronologically.
func (r *LectureRepository) ListByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.Lecture, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + lectureColumns + ` FROM lectures WHERE id = ANY($1) ORDER BY date, start_time, id`
	var lectures []models.Lecture
	if err := sqlx.SelectContext(ctx, r.exec(exec), &lectures, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list lectures by id: %w", err)
	}
	return lectures, nil
}

// ListUncoveredForTeacher returns the teacher's non-cancelled lectures without a
// substitute between from and to inclusive.
func (r *LectureRepository) ListUncoveredForTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID string, from, to time.Time) ([]models.Lecture, error) {
	query := `SELECT ` + lectureColumns + ` FROM lectures
WHERE scheduled_teacher_id = $1 AND date BETWEEN $2 AND $3
  AND status <> 'CANCELLED' AND substitute_teacher_id IS NULL
ORDER BY date, start_time, id`
	var lectures []models.Lecture
	if err := sqlx.SelectContext(ctx, r.exec(exec), &lectures, query, teacherID, from, to); err != nil {
		return nil, fmt.Errorf("list uncovered lectures: %w", err)
	}
	return lectures, nil
}

// ListByTeachersOnDate returns every non-cancelled lecture on date taught by any
// of teacherIDs, either as scheduled teacher or as substitute.
func (r *LectureRepository) ListByTeachersOnDate(ctx context.Context, exec sqlx.ExtContext, teacherIDs []string, date time.Time) ([]models.Lecture, error) {
	if len(teacherIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + lectureColumns + ` FROM lectures
WHERE date = $1 AND status <> 'CANCELLED'
  AND (scheduled_teacher_id = ANY($2) OR substitute_teacher_id = ANY($2))
ORDER BY start_time, id`
	var lectures []models.Lecture
	if err := sqlx.SelectContext(ctx, r.exec(exec), &lectures, query, date, pq.Array(teacherIDs)); err != nil {
		return nil, fmt.Errorf("list teacher lectures on date: %w", err)
	}
	return lectures, nil
}

// FindTeacherConflict returns a non-cancelled lecture the teacher already teaches
// that overlaps [start, end) on date, or nil when the slot is free.
func (r *LectureRepository) FindTeacherConflict(ctx context.Context, exec sqlx.ExtContext, teacherID string, date time.Time, start, end, excludeID string) (*models.Lecture, error) {
	query := `SELECT ` + lectureColumns + ` FROM lectures
WHERE date = $1 AND status <> 'CANCELLED'
  AND (scheduled_teacher_id = $2 OR substitute_teacher_id = $2)
  AND start_time < $3 AND end_time > $4
  AND ($5 = '' OR id::text <> $5)
ORDER BY start_time, id LIMIT 1`
	return r.findConflict(ctx, exec, query, date, teacherID, end, start, excludeID)
}

// FindRoomConflict returns a non-cancelled lecture booked in room that overlaps
// [start, end) on date, or nil when the room is free. Rooms compare case-insensitively.
func (r *LectureRepository) FindRoomConflict(ctx context.Context, exec sqlx.ExtContext, room string, date time.Time, start, end, excludeID string) (*models.Lecture, error) {
	query := `SELECT ` + lectureColumns + ` FROM lectures
WHERE date = $1 AND status <> 'CANCELLED'
  AND LOWER(room) = LOWER($2)
  AND start_time < $3 AND end_time > $4
  AND ($5 = '' OR id::text <> $5)
ORDER BY start_time, id LIMIT 1`
	return r.findConflict(ctx, exec, query, date, room, end, start, excludeID)
}

func (r *LectureRepository) findConflict(ctx context.Context, exec sqlx.ExtContext, query string, args ...interface{}) (*models.Lecture, error) {
	var lecture models.Lecture
	if err := sqlx.GetContext(ctx, r.exec(exec), &lecture, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find lecture conflict: %w", err)
	}
	return &lecture, nil
}

// Create inserts a new lecture row.
func (r *LectureRepository) Create(ctx context.Context, exec sqlx.ExtContext, lecture *models.Lecture) error {
	if lecture.ID == "" {
		lecture.ID = uuid.NewString()
	}
	if lecture.Status == "" {
		lecture.Status = models.LectureStatusScheduled
	}
	now := time.Now().UTC()
	lecture.CreatedAt = now
	lecture.UpdatedAt = now

	const query = `INSERT INTO lectures (` + lectureColumns + `)
VALUES (:id, :scheduled_teacher_id, :substitute_teacher_id, :department, :subject, :class_year, :room, :date, :day_of_week, :start_time, :end_time, :status, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, lecture); err != nil {
		return fmt.Errorf("create lecture: %w", err)
	}
	return nil
}

// Reschedule moves a non-cancelled lecture to a new slot or room.
func (r *LectureRepository) Reschedule(ctx context.Context, exec sqlx.ExtContext, lecture *models.Lecture) error {
	lecture.UpdatedAt = time.Now().UTC()
	const query = `UPDATE lectures SET subject = :subject, class_year = :class_year, room = :room, date = :date,
day_of_week = :day_of_week, start_time = :start_time, end_time = :end_time, updated_at = :updated_at
WHERE id = :id AND status <> 'CANCELLED'`
	return r.namedUpdate(ctx, exec, query, lecture, "reschedule lecture")
}

// Cancel marks a lecture cancelled. Already cancelled lectures yield sql.ErrNoRows.
func (r *LectureRepository) Cancel(ctx context.Context, exec sqlx.ExtContext, id string, at time.Time) error {
	const query = `UPDATE lectures SET status = 'CANCELLED', updated_at = :updated_at WHERE id = :id AND status <> 'CANCELLED'`
	return r.namedUpdate(ctx, exec, query, map[string]interface{}{"id": id, "updated_at": at}, "cancel lecture")
}

// StampSubstituteParams describes a compare-and-set of the lecture's substitute.
type StampSubstituteParams struct {
	LectureID  string
	Expected   *string
	Substitute string
	At         time.Time
}

// StampSubstitute sets the substitute teacher only if the current substitute
// still equals Expected and the lecture is not cancelled. A lost race yields
// sql.ErrNoRows.
func (r *LectureRepository) StampSubstitute(ctx context.Context, exec sqlx.ExtContext, params StampSubstituteParams) error {
	const query = `UPDATE lectures SET substitute_teacher_id = :substitute, status = 'SUB_ASSIGNED', updated_at = :updated_at
WHERE id = :id AND status <> 'CANCELLED' AND substitute_teacher_id IS NOT DISTINCT FROM :expected`
	return r.namedUpdate(ctx, exec, query, map[string]interface{}{
		"id":         params.LectureID,
		"substitute": params.Substitute,
		"expected":   params.Expected,
		"updated_at": params.At,
	}, "stamp lecture substitute")
}

func (r *LectureRepository) namedUpdate(ctx context.Context, exec sqlx.ExtContext, query string, arg interface{}, op string) error {
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, arg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return expectAffected(result)
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}

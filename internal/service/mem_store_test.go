package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-substitute-api/internal/models"
	"github.com/noah-isme/sma-substitute-api/internal/repository"
	"github.com/noah-isme/sma-substitute-api/pkg/clock"
)

// memDB is a tiny in-memory stand-in for the Postgres schema. Conditional
// updates behave like their SQL counterparts and report sql.ErrNoRows when no
// row matched. Transactions run one at a time and restore a snapshot on error.
type memDB struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	teachers    map[string]models.Teacher
	lectures    map[string]models.Lecture
	leaves      map[string]models.LeaveRequest
	assignments map[string]models.SubstituteAssignment
	failures    map[string]error
}

func newMemDB() *memDB {
	return &memDB{
		teachers:    map[string]models.Teacher{},
		lectures:    map[string]models.Lecture{},
		leaves:      map[string]models.LeaveRequest{},
		assignments: map[string]models.SubstituteAssignment{},
		failures:    map[string]error{},
	}
}

func (db *memDB) addTeacher(t models.Teacher) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.teachers[t.ID] = t
}

func (db *memDB) addLecture(l models.Lecture) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if l.Status == "" {
		l.Status = models.LectureStatusScheduled
	}
	if l.Department == "" {
		l.Department = db.teachers[l.ScheduledTeacherID].Department
	}
	db.lectures[l.ID] = l
}

func (db *memDB) addAssignment(a models.SubstituteAssignment) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.assignments[a.ID] = a
}

func (db *memDB) teacher(id string) models.Teacher {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.teachers[id]
}

func (db *memDB) lecture(id string) models.Lecture {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.lectures[id]
}

func (db *memDB) leave(id string) models.LeaveRequest {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.leaves[id]
}

func (db *memDB) assignment(id string) models.SubstituteAssignment {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.assignments[id]
}

func (db *memDB) lecturesTaughtBy(teacherID string) []models.Lecture {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Lecture
	for _, l := range db.lectures {
		if !l.Cancelled() && l.TaughtBy(teacherID) {
			out = append(out, l)
		}
	}
	return out
}

func (db *memDB) assignmentsForLecture(lectureID string) []models.SubstituteAssignment {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.SubstituteAssignment
	for _, a := range db.assignments {
		if a.LectureID == lectureID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out
}

// failOn makes the next call of op return err.
func (db *memDB) failOn(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failures[op] = err
}

func (db *memDB) fail(op string) error {
	if err, ok := db.failures[op]; ok {
		delete(db.failures, op)
		return err
	}
	return nil
}

type memSnapshot struct {
	teachers    map[string]models.Teacher
	lectures    map[string]models.Lecture
	leaves      map[string]models.LeaveRequest
	assignments map[string]models.SubstituteAssignment
}

func (db *memDB) snapshot() memSnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	return memSnapshot{
		teachers:    copyMap(db.teachers),
		lectures:    copyMap(db.lectures),
		leaves:      copyMap(db.leaves),
		assignments: copyMap(db.assignments),
	}
}

func (db *memDB) restore(s memSnapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.teachers = s.teachers
	db.lectures = s.lectures
	db.leaves = s.leaves
	db.assignments = s.assignments
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type memTx struct{ db *memDB }

func (m memTx) WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) (err error) {
	m.db.txMu.Lock()
	defer m.db.txMu.Unlock()
	snap := m.db.snapshot()
	defer func() {
		if p := recover(); p != nil {
			m.db.restore(snap)
			panic(p)
		}
		if err != nil {
			m.db.restore(snap)
		}
	}()
	return fn(nil)
}

type memTeacherRepo struct{ db *memDB }

func (r memTeacherRepo) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Teacher, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.teachers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &t, nil
}

func (r memTeacherRepo) ListByDepartment(ctx context.Context, exec sqlx.ExtContext, department string, forUpdate bool) ([]models.Teacher, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.fail("teachers.list"); err != nil {
		return nil, err
	}
	var out []models.Teacher
	for _, t := range r.db.teachers {
		if t.Department == department {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memTeacherRepo) AdjustSubstituteCount(ctx context.Context, exec sqlx.ExtContext, id string, delta int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.teachers[id]
	if !ok {
		return sql.ErrNoRows
	}
	t.SubstituteCount += delta
	if t.SubstituteCount < 0 {
		t.SubstituteCount = 0
	}
	r.db.teachers[id] = t
	return nil
}

type memLectureRepo struct{ db *memDB }

func (r memLectureRepo) FindByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.Lecture, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	l, ok := r.db.lectures[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &l, nil
}

func (r memLectureRepo) List(ctx context.Context, filter models.LectureFilter) ([]models.Lecture, int, error) {
	out := r.filter(func(l models.Lecture) bool {
		if filter.TeacherID != "" && !l.TaughtBy(filter.TeacherID) {
			return false
		}
		if filter.Department != "" && l.Department != filter.Department {
			return false
		}
		return filter.Date == nil || sameDay(l.Date, *filter.Date)
	})
	return out, len(out), nil
}

func (r memLectureRepo) ListByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.Lecture, error) {
	wanted := map[string]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	return r.filter(func(l models.Lecture) bool { return wanted[l.ID] }), nil
}

func (r memLectureRepo) ListUncoveredForTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID string, from, to time.Time) ([]models.Lecture, error) {
	from, to = dateOnly(from), dateOnly(to)
	return r.filter(func(l models.Lecture) bool {
		day := dateOnly(l.Date)
		return l.ScheduledTeacherID == teacherID && !l.Cancelled() && !l.Covered() &&
			!day.Before(from) && !day.After(to)
	}), nil
}

func (r memLectureRepo) ListByTeachersOnDate(ctx context.Context, exec sqlx.ExtContext, teacherIDs []string, date time.Time) ([]models.Lecture, error) {
	return r.filter(func(l models.Lecture) bool {
		if l.Cancelled() || !sameDay(l.Date, date) {
			return false
		}
		for _, id := range teacherIDs {
			if l.TaughtBy(id) {
				return true
			}
		}
		return false
	}), nil
}

func (r memLectureRepo) FindTeacherConflict(ctx context.Context, exec sqlx.ExtContext, teacherID string, date time.Time, start, end, excludeID string) (*models.Lecture, error) {
	return r.first(func(l models.Lecture) bool {
		return l.TaughtBy(teacherID) && l.ID != excludeID && !l.Cancelled() && sameDay(l.Date, date) &&
			l.StartTime < end && l.EndTime > start
	}), nil
}

func (r memLectureRepo) FindRoomConflict(ctx context.Context, exec sqlx.ExtContext, room string, date time.Time, start, end, excludeID string) (*models.Lecture, error) {
	return r.first(func(l models.Lecture) bool {
		return strings.EqualFold(l.Room, room) && l.ID != excludeID && !l.Cancelled() && sameDay(l.Date, date) &&
			l.StartTime < end && l.EndTime > start
	}), nil
}

func (r memLectureRepo) Create(ctx context.Context, exec sqlx.ExtContext, lecture *models.Lecture) error {
	if lecture.ID == "" {
		lecture.ID = uuid.NewString()
	}
	r.db.addLecture(*lecture)
	return nil
}

func (r memLectureRepo) Reschedule(ctx context.Context, exec sqlx.ExtContext, lecture *models.Lecture) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	current, ok := r.db.lectures[lecture.ID]
	if !ok || current.Cancelled() {
		return sql.ErrNoRows
	}
	r.db.lectures[lecture.ID] = *lecture
	return nil
}

func (r memLectureRepo) Cancel(ctx context.Context, exec sqlx.ExtContext, id string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	l, ok := r.db.lectures[id]
	if !ok || l.Cancelled() {
		return sql.ErrNoRows
	}
	l.Status = models.LectureStatusCancelled
	l.UpdatedAt = at
	r.db.lectures[id] = l
	return nil
}

func (r memLectureRepo) StampSubstitute(ctx context.Context, exec sqlx.ExtContext, params repository.StampSubstituteParams) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.fail("lectures.stamp"); err != nil {
		return err
	}
	l, ok := r.db.lectures[params.LectureID]
	if !ok || l.Cancelled() || !sameString(l.SubstituteTeacherID, params.Expected) {
		return sql.ErrNoRows
	}
	sub := params.Substitute
	l.SubstituteTeacherID = &sub
	l.Status = models.LectureStatusSubAssigned
	l.UpdatedAt = params.At
	r.db.lectures[l.ID] = l
	return nil
}

func (r memLectureRepo) filter(keep func(models.Lecture) bool) []models.Lecture {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Lecture
	for _, l := range r.db.lectures {
		if keep(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r memLectureRepo) first(keep func(models.Lecture) bool) *models.Lecture {
	out := r.filter(keep)
	if len(out) == 0 {
		return nil
	}
	return &out[0]
}

type memLeaveRepo struct{ db *memDB }

func (r memLeaveRepo) Create(ctx context.Context, exec sqlx.ExtContext, leave *models.LeaveRequest) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if leave.ID == "" {
		leave.ID = uuid.NewString()
	}
	leave.UpdatedAt = leave.SubmittedAt
	r.db.leaves[leave.ID] = *leave
	return nil
}

func (r memLeaveRepo) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.LeaveRequest, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	l, ok := r.db.leaves[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &l, nil
}

func (r memLeaveRepo) List(ctx context.Context, filter models.LeaveRequestFilter) ([]models.LeaveRequest, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.LeaveRequest
	for _, l := range r.db.leaves {
		if filter.TeacherID != "" && l.TeacherID != filter.TeacherID {
			continue
		}
		if filter.Department != "" && l.Department != filter.Department {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, len(out), nil
}

func (r memLeaveRepo) ListPendingSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.fail("leaves.scan"); err != nil {
		return nil, err
	}
	var pending []models.LeaveRequest
	for _, l := range r.db.leaves {
		if l.Status == models.LeaveStatusPending && !l.SubmittedAt.After(cutoff) {
			pending = append(pending, l)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].SubmittedAt.Before(pending[j].SubmittedAt) })
	ids := make([]string, 0, len(pending))
	for _, l := range pending {
		ids = append(ids, l.ID)
	}
	return ids, nil
}

func (r memLeaveRepo) TransitionFromPending(ctx context.Context, exec sqlx.ExtContext, params models.LeaveTransition) (*models.LeaveRequest, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	l, ok := r.db.leaves[params.ID]
	if !ok || l.Status != models.LeaveStatusPending {
		return nil, sql.ErrNoRows
	}
	decidedAt := params.DecidedAt
	l.Status = params.To
	l.HODDecisionAt = &decidedAt
	l.ReviewedBy = params.ReviewedBy
	l.ReviewComments = params.ReviewComments
	l.UpdatedAt = decidedAt
	r.db.leaves[l.ID] = l
	return &l, nil
}

type memAssignmentRepo struct{ db *memDB }

func (r memAssignmentRepo) Create(ctx context.Context, exec sqlx.ExtContext, assignment *models.SubstituteAssignment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.fail("assignments.create"); err != nil {
		return err
	}
	if assignment.Status == models.AssignmentStatusPending {
		for _, a := range r.db.assignments {
			if a.LectureID == assignment.LectureID && a.Status == models.AssignmentStatusPending {
				return errUniquePending
			}
		}
	}
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	r.db.assignments[assignment.ID] = *assignment
	return nil
}

func (r memAssignmentRepo) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.SubstituteAssignment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.assignments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

func (r memAssignmentRepo) FindPendingForLecture(ctx context.Context, exec sqlx.ExtContext, lectureID string) (*models.SubstituteAssignment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, a := range r.db.assignments {
		if a.LectureID == lectureID && a.Status == models.AssignmentStatusPending {
			return &a, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memAssignmentRepo) ListByLeaveRequest(ctx context.Context, exec sqlx.ExtContext, leaveRequestID string) ([]models.SubstituteAssignment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.SubstituteAssignment
	for _, a := range r.db.assignments {
		if a.LeaveRequestID != nil && *a.LeaveRequestID == leaveRequestID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LectureID < out[j].LectureID })
	return out, nil
}

func (r memAssignmentRepo) ListPendingDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var due []models.SubstituteAssignment
	for _, a := range r.db.assignments {
		if a.Status == models.AssignmentStatusPending && !a.ResponseDeadline.After(now) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ResponseDeadline.Equal(due[j].ResponseDeadline) {
			return due[i].ResponseDeadline.Before(due[j].ResponseDeadline)
		}
		return due[i].LectureID < due[j].LectureID
	})
	ids := make([]string, 0, len(due))
	for _, a := range due {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (r memAssignmentRepo) ListPending(ctx context.Context, department string) ([]models.PendingAssignment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.PendingAssignment
	for _, a := range r.db.assignments {
		if a.Status != models.AssignmentStatusPending {
			continue
		}
		l := r.db.lectures[a.LectureID]
		if department != "" && l.Department != department {
			continue
		}
		out = append(out, models.PendingAssignment{
			SubstituteAssignment: a,
			Department:           l.Department,
			Subject:              l.Subject,
			ClassYear:            l.ClassYear,
			Room:                 l.Room,
			LectureDate:          l.Date,
			StartTime:            l.StartTime,
			EndTime:              l.EndTime,
			OriginalTeacherName:  r.db.teachers[a.OriginalTeacherID].FullName,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResponseDeadline.Before(out[j].ResponseDeadline) })
	return out, nil
}

func (r memAssignmentRepo) ResolvePending(ctx context.Context, exec sqlx.ExtContext, params models.AssignmentResolution) (*models.SubstituteAssignment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.assignments[params.ID]
	if !ok || a.Status != models.AssignmentStatusPending {
		return nil, sql.ErrNoRows
	}
	resolvedAt := params.ResolvedAt
	a.Status = params.Status
	a.AssignmentType = params.AssignmentType
	a.SubstituteTeacherID = params.SubstituteTeacherID
	a.ResolvedAt = &resolvedAt
	a.Note = params.Note
	r.db.assignments[a.ID] = a
	return &a, nil
}

var errUniquePending = &uniqueViolation{}

type uniqueViolation struct{}

func (*uniqueViolation) Error() string {
	return `duplicate key value violates unique constraint "substitute_assignments_one_pending_per_lecture"`
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type sentNotice struct {
	TeacherID string
	Kind      models.NotificationKind
	Priority  models.NotificationPriority
	Message   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (n *recordingNotifier) Notify(ctx context.Context, teacherID string, kind models.NotificationKind, title, message string, priority models.NotificationPriority) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{TeacherID: teacherID, Kind: kind, Priority: priority, Message: message})
}

func (n *recordingNotifier) kindsFor(teacherID string) []models.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.NotificationKind
	for _, s := range n.sent {
		if s.TeacherID == teacherID {
			out = append(out, s.Kind)
		}
	}
	return out
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// engineFixture wires every service of the engine against one memDB and a fake clock.
type engineFixture struct {
	db           *memDB
	clock        *clock.Fake
	notifier     *recordingNotifier
	metrics      *MetricsService
	matcher      *MatchingService
	leaves       *LeaveService
	substitution *SubstitutionService
	lectures     *LectureService
	scheduler    *EscalationScheduler
}

func newEngineFixture(t *testing.T, start time.Time) *engineFixture {
	t.Helper()
	db := newMemDB()
	clk := clock.NewFake(start)
	notifier := &recordingNotifier{}
	metrics := NewMetricsService()
	logger := zap.NewNop()

	teachers := memTeacherRepo{db}
	lectures := memLectureRepo{db}
	leaveRepo := memLeaveRepo{db}
	assignments := memAssignmentRepo{db}
	tx := memTx{db}

	matcher := NewMatchingService(teachers, lectures, MatchingConfig{MaxDailyLoad: 4}, logger)
	leaves := NewLeaveService(LeaveServiceDeps{
		Tx: tx, Leaves: leaveRepo, Teachers: teachers, Lectures: lectures, Assignments: assignments,
		Notifier: notifier, Clock: clk, Metrics: metrics, Logger: logger,
	}, LeaveConfig{AutoApproveAfter: 30 * time.Minute, ResponseWindow: 15 * time.Minute})
	substitution := NewSubstitutionService(SubstitutionServiceDeps{
		Tx: tx, Lectures: lectures, Teachers: teachers, Assignments: assignments, Matcher: matcher,
		Notifier: notifier, Clock: clk, Location: time.UTC, Metrics: metrics, Logger: logger,
	})
	lectureSvc := NewLectureService(LectureServiceDeps{
		Tx: tx, Lectures: lectures, Teachers: teachers, Assignments: assignments,
		Conflicts: NewConflictDetector(lectures), Notifier: notifier, Clock: clk, Logger: logger,
	})
	scheduler := NewEscalationScheduler(EscalationSchedulerDeps{
		Leaves: leaves, Assignments: substitution, StaleLeaves: leaveRepo, DueAssignments: assignments,
		Clock: clk, Metrics: metrics, Logger: logger,
	}, EscalationConfig{LeaveAutoApproveAfter: 30 * time.Minute})

	return &engineFixture{
		db:           db,
		clock:        clk,
		notifier:     notifier,
		metrics:      metrics,
		matcher:      matcher,
		leaves:       leaves,
		substitution: substitution,
		lectures:     lectureSvc,
		scheduler:    scheduler,
	}
}

// seedScienceDepartment loads the department used across engine tests: an absent
// teacher with one lecture at 09:00, two free colleagues and one from another
// department.
func (f *engineFixture) seedScienceDepartment(day time.Time) {
	f.db.addTeacher(models.Teacher{ID: "t-absent", FullName: "Ana Absent", Department: "Science", Active: true})
	f.db.addTeacher(models.Teacher{ID: "t-busy", FullName: "Budi Busy", Department: "Science", Active: true})
	f.db.addTeacher(models.Teacher{ID: "t-free", FullName: "Citra Free", Department: "Science", Active: true})
	f.db.addTeacher(models.Teacher{ID: "t-math", FullName: "Dewi Math", Department: "Math", Active: true})
	f.db.addLecture(models.Lecture{
		ID: "lec-1", ScheduledTeacherID: "t-absent", Subject: "Physics", ClassYear: "X-1", Room: "Lab 1",
		Date: day, StartTime: "09:00", EndTime: "10:00",
	})
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func at(day time.Time, hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

var (
	hodScience = models.Actor{ID: "hod-sci", Role: models.RoleHOD, Department: "Science"}
	hodMath    = models.Actor{ID: "hod-math", Role: models.RoleHOD, Department: "Math"}
	admin      = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
)

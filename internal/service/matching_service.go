package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-substitute-api/internal/models"
)

type candidateTeacherStore interface {
	ListByDepartment(ctx context.Context, exec sqlx.ExtContext, department string, forUpdate bool) ([]models.Teacher, error)
}

type teacherLoadStore interface {
	ListByTeachersOnDate(ctx context.Context, exec sqlx.ExtContext, teacherIDs []string, date time.Time) ([]models.Lecture, error)
}

// MatchingConfig bounds the workload a substitute may carry.
type MatchingConfig struct {
	MaxDailyLoad int
}

// MatchingService picks the substitute for an uncovered lecture.
//
// A teacher is eligible when they belong to the lecture's department, are active,
// are not the excluded (absent) teacher, have no overlapping lecture on that date
// and teach fewer than MaxDailyLoad lectures that day. Eligible teachers are ranked
// by daily load, then lifetime substitutions, then name, then id.
type MatchingService struct {
	teachers candidateTeacherStore
	lectures teacherLoadStore
	config   MatchingConfig
	logger   *zap.Logger
}

// NewMatchingService constructs the matching engine.
func NewMatchingService(teachers candidateTeacherStore, lectures teacherLoadStore, cfg MatchingConfig, logger *zap.Logger) *MatchingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDailyLoad <= 0 {
		cfg.MaxDailyLoad = 4
	}
	return &MatchingService{teachers: teachers, lectures: lectures, config: cfg, logger: logger}
}

// FindSubstitute returns the best eligible candidate, or nil with the reasons every
// teacher was rejected. With lock the department's teacher rows are locked for the
// surrounding transaction.
func (s *MatchingService) FindSubstitute(ctx context.Context, exec sqlx.ExtContext, lecture models.Lecture, department, excludeTeacherID string, lock bool) (*models.Candidate, []models.Rejection, error) {
	candidates, rejections, err := s.Rank(ctx, exec, lecture, department, excludeTeacherID, lock)
	if err != nil {
		return nil, nil, err
	}
	if len(candidates) == 0 {
		s.logger.Debug("no eligible substitute",
			zap.String("lecture_id", lecture.ID),
			zap.String("department", department),
			zap.Int("rejected", len(rejections)),
		)
		return nil, rejections, nil
	}
	best := candidates[0]
	return &best, rejections, nil
}

// Rank evaluates every teacher of department against lecture and returns the
// eligible ones in preference order together with the rejected ones.
func (s *MatchingService) Rank(ctx context.Context, exec sqlx.ExtContext, lecture models.Lecture, department, excludeTeacherID string, lock bool) ([]models.Candidate, []models.Rejection, error) {
	teachers, err := s.teachers.ListByDepartment(ctx, exec, department, lock)
	if err != nil {
		return nil, nil, fmt.Errorf("load candidate teachers: %w", err)
	}

	ids := make([]string, 0, len(teachers))
	for _, t := range teachers {
		if t.Active && t.ID != excludeTeacherID {
			ids = append(ids, t.ID)
		}
	}
	dayLectures, err := s.lectures.ListByTeachersOnDate(ctx, exec, ids, dateOnly(lecture.Date))
	if err != nil {
		return nil, nil, fmt.Errorf("load candidate lectures: %w", err)
	}

	candidates := make([]models.Candidate, 0, len(ids))
	rejections := make([]models.Rejection, 0)
	reject := func(t models.Teacher, reason models.RejectionReason, detail string) {
		rejections = append(rejections, models.Rejection{TeacherID: t.ID, FullName: t.FullName, Reason: reason, Detail: detail})
	}

	for _, t := range teachers {
		switch {
		case t.ID == excludeTeacherID:
			reject(t, models.RejectionSelf, "absent teacher")
			continue
		case t.Department != department:
			reject(t, models.RejectionDepartment, t.Department)
			continue
		case !t.Active:
			reject(t, models.RejectionInactive, "")
			continue
		}

		if c := FirstTeacherConflict(dayLectures, t.ID, lecture.Date, lecture.StartTime, lecture.EndTime, lecture.ID); c != nil {
			reject(t, models.RejectionTimeConflict, fmt.Sprintf("%s %s-%s", c.Subject, c.StartTime, c.EndTime))
			continue
		}

		load := dailyLoad(dayLectures, t.ID, lecture.ID)
		if load >= s.config.MaxDailyLoad {
			reject(t, models.RejectionWorkloadLimit, fmt.Sprintf("%d lectures", load))
			continue
		}
		candidates = append(candidates, models.Candidate{Teacher: t, DailyLoad: load})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.DailyLoad != b.DailyLoad {
			return a.DailyLoad < b.DailyLoad
		}
		if a.Teacher.SubstituteCount != b.Teacher.SubstituteCount {
			return a.Teacher.SubstituteCount < b.Teacher.SubstituteCount
		}
		if a.Teacher.FullName != b.Teacher.FullName {
			return a.Teacher.FullName < b.Teacher.FullName
		}
		return a.Teacher.ID < b.Teacher.ID
	})
	return candidates, rejections, nil
}

func dailyLoad(lectures []models.Lecture, teacherID, skipLectureID string) int {
	n := 0
	for _, l := range lectures {
		if l.ID != skipLectureID && !l.Cancelled() && l.TaughtBy(teacherID) {
			n++
		}
	}
	return n
}

// summarizeRejections renders a compact diagnostic note for UNASSIGNED outcomes.
func summarizeRejections(rejections []models.Rejection) string {
	if len(rejections) == 0 {
		return "no substitute available: department has no other teachers"
	}
	counts := map[models.RejectionReason]int{}
	order := make([]models.RejectionReason, 0, 4)
	for _, r := range rejections {
		if counts[r.Reason] == 0 {
			order = append(order, r.Reason)
		}
		counts[r.Reason]++
	}
	parts := make([]string, 0, len(order))
	for _, reason := range order {
		parts = append(parts, fmt.Sprintf("%s=%d", strings.ToLower(string(reason)), counts[reason]))
	}
	return "no substitute available: " + strings.Join(parts, ", ")
}

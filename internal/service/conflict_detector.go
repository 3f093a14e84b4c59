package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-substitute-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitute-api/pkg/errors"
)

type lectureConflictFinder interface {
	FindTeacherConflict(ctx context.Context, exec sqlx.ExtContext, teacherID string, date time.Time, start, end, excludeID string) (*models.Lecture, error)
	FindRoomConflict(ctx context.Context, exec sqlx.ExtContext, room string, date time.Time, start, end, excludeID string) (*models.Lecture, error)
}

// ConflictDetector answers whether a teacher or room is already booked for a slot.
// Two slots on the same date conflict when existing.start < new.end and
// existing.end > new.start. Cancelled lectures never conflict.
type ConflictDetector struct {
	lectures lectureConflictFinder
}

// NewConflictDetector constructs a ConflictDetector.
func NewConflictDetector(lectures lectureConflictFinder) *ConflictDetector {
	return &ConflictDetector{lectures: lectures}
}

// TeacherConflict returns a lecture the teacher teaches (scheduled or as substitute)
// that overlaps the slot, or nil.
func (d *ConflictDetector) TeacherConflict(ctx context.Context, exec sqlx.ExtContext, teacherID string, date time.Time, start, end, excludeID string) (*models.Lecture, error) {
	start, end, err := NormalizeSlot(start, end)
	if err != nil {
		return nil, err
	}
	return d.lectures.FindTeacherConflict(ctx, exec, teacherID, dateOnly(date), start, end, excludeID)
}

// RoomConflict returns a lecture booked in room that overlaps the slot, or nil.
func (d *ConflictDetector) RoomConflict(ctx context.Context, exec sqlx.ExtContext, room string, date time.Time, start, end, excludeID string) (*models.Lecture, error) {
	start, end, err := NormalizeSlot(start, end)
	if err != nil {
		return nil, err
	}
	return d.lectures.FindRoomConflict(ctx, exec, strings.TrimSpace(room), dateOnly(date), start, end, excludeID)
}

// FirstTeacherConflict applies the same rule as TeacherConflict to an in-memory
// set of lectures.
func FirstTeacherConflict(lectures []models.Lecture, teacherID string, date time.Time, start, end, excludeID string) *models.Lecture {
	for i := range lectures {
		l := lectures[i]
		if l.ID == excludeID || l.Cancelled() || !l.TaughtBy(teacherID) || !sameDay(l.Date, date) {
			continue
		}
		if Overlaps(l.StartTime, l.EndTime, start, end) {
			return &l
		}
	}
	return nil
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and [bStart, bEnd)
// intersect. Unparseable times never overlap.
func Overlaps(aStart, aEnd, bStart, bEnd string) bool {
	as, ok1 := clockMinutes(aStart)
	ae, ok2 := clockMinutes(aEnd)
	bs, ok3 := clockMinutes(bStart)
	be, ok4 := clockMinutes(bEnd)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}
	return as < be && ae > bs
}

// NormalizeSlot canonicalises start and end to HH:MM and requires start < end.
func NormalizeSlot(start, end string) (string, string, error) {
	s, ok := clockMinutes(start)
	if !ok {
		return "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid start time %q", start))
	}
	e, ok := clockMinutes(end)
	if !ok {
		return "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid end time %q", end))
	}
	if s >= e {
		return "", "", appErrors.Clone(appErrors.ErrValidation, "start time must be before end time")
	}
	return formatClock(s), formatClock(e), nil
}

func clockMinutes(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Hour()*60 + t.Minute(), true
		}
	}
	return 0, false
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func conflictError(existing *models.Lecture, dimension models.ConflictDimension, teacherID string) error {
	if teacherID == "" {
		teacherID = existing.ScheduledTeacherID
	}
	conflict := models.LectureConflict{
		LectureID: existing.ID,
		TeacherID: teacherID,
		Room:      existing.Room,
		Date:      existing.Date.Format(dateLayout),
		StartTime: existing.StartTime,
		EndTime:   existing.EndTime,
		Dimension: dimension,
	}
	msg := fmt.Sprintf("%s already booked %s-%s by lecture %s", strings.ToLower(string(dimension)), existing.StartTime, existing.EndTime, existing.ID)
	domainErr := &models.LectureConflictError{Message: msg, Conflict: conflict}
	wrapped := appErrors.Wrap(domainErr, appErrors.ErrScheduleConflict.Code, appErrors.ErrScheduleConflict.Status, "schedule conflict: "+msg)
	wrapped.Details = conflict
	return wrapped
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-substitute-api/internal/dto"
	"github.com/noah-isme/sma-substitute-api/internal/models"
	appErrors "github.com/noah-isme/sma-substitute-api/pkg/errors"
)

// pendingFor inserts a PENDING assignment for lec-1 whose window closes at deadline.
func (f *engineFixture) pendingFor(lectureID string, deadline time.Time) string {
	id := "asg-" + lectureID
	f.db.addAssignment(models.SubstituteAssignment{
		ID:                id,
		LectureID:         lectureID,
		OriginalTeacherID: f.db.lecture(lectureID).ScheduledTeacherID,
		Status:            models.AssignmentStatusPending,
		AssignmentType:    models.AssignmentTypeAuto,
		AssignedAt:        deadline.Add(-15 * time.Minute),
		ResponseDeadline:  deadline,
	})
	return id
}

func TestEscalateAssignmentPicksLowerWorkload(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 8, 0))
	f.seedScienceDepartment(day)
	f.db.addLecture(models.Lecture{ID: "busy-1", ScheduledTeacherID: "t-busy", Room: "R1", Date: day, StartTime: "07:00", EndTime: "08:00"})
	f.db.addLecture(models.Lecture{ID: "busy-2", ScheduledTeacherID: "t-busy", Room: "R1", Date: day, StartTime: "11:00", EndTime: "12:00"})
	id := f.pendingFor("lec-1", at(day, 8, 0))

	status, err := f.substitution.EscalateAssignment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusAutoAssigned, status)

	a := f.db.assignment(id)
	require.NotNil(t, a.SubstituteTeacherID)
	assert.Equal(t, "t-free", *a.SubstituteTeacherID)
	assert.Equal(t, models.AssignmentTypeAuto, a.AssignmentType)
	require.NotNil(t, a.ResolvedAt)

	lecture := f.db.lecture("lec-1")
	require.NotNil(t, lecture.SubstituteTeacherID)
	assert.Equal(t, "t-free", *lecture.SubstituteTeacherID)
	assert.Equal(t, models.LectureStatusSubAssigned, lecture.Status)
	assert.Equal(t, 1, f.db.teacher("t-free").SubstituteCount)
	assert.Equal(t, 0, f.db.teacher("t-busy").SubstituteCount)

	assert.Equal(t, []models.NotificationKind{models.NotificationSubstituteAssigned}, f.notifier.kindsFor("t-free"))
	assert.Equal(t, []models.NotificationKind{models.NotificationCoverageArranged}, f.notifier.kindsFor("t-absent"))
}

func TestEscalateAssignmentUnassignedWhenNobodyFree(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 8, 0))
	f.seedScienceDepartment(day)
	f.db.addLecture(models.Lecture{ID: "busy-1", ScheduledTeacherID: "t-busy", Room: "R1", Date: day, StartTime: "08:30", EndTime: "09:30"})
	f.db.addLecture(models.Lecture{ID: "free-1", ScheduledTeacherID: "t-free", Room: "R2", Date: day, StartTime: "09:45", EndTime: "10:45"})
	id := f.pendingFor("lec-1", at(day, 8, 0))

	status, err := f.substitution.EscalateAssignment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusUnassigned, status)

	a := f.db.assignment(id)
	assert.Nil(t, a.SubstituteTeacherID)
	require.NotNil(t, a.Note)
	assert.Contains(t, *a.Note, "time_conflict=2")
	assert.Nil(t, f.db.lecture("lec-1").SubstituteTeacherID)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "t-absent", f.notifier.sent[0].TeacherID)
	assert.Equal(t, models.NotificationCoverageUnavailable, f.notifier.sent[0].Kind)
	assert.Equal(t, models.NotificationPriorityHigh, f.notifier.sent[0].Priority)
}

func TestEscalateAssignmentSkipsRowsNotDueOrResolved(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 8, 0))
	f.seedScienceDepartment(day)
	id := f.pendingFor("lec-1", at(day, 8, 1))

	_, err := f.substitution.EscalateAssignment(context.Background(), id)
	assert.ErrorIs(t, err, ErrEscalationSkipped)
	assert.Equal(t, models.AssignmentStatusPending, f.db.assignment(id).Status)

	_, err = f.substitution.EscalateAssignment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrEscalationSkipped)
}

func TestEscalateAssignmentClosesCancelledLecture(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 8, 0))
	f.seedScienceDepartment(day)
	l := f.db.lecture("lec-1")
	l.Status = models.LectureStatusCancelled
	f.db.addLecture(l)
	id := f.pendingFor("lec-1", at(day, 8, 0))

	status, err := f.substitution.EscalateAssignment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusUnassigned, status)
	assert.Zero(t, f.notifier.count())
}

func TestEscalateAssignmentRollsBackOnWriteFailure(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 8, 0))
	f.seedScienceDepartment(day)
	id := f.pendingFor("lec-1", at(day, 8, 0))
	f.db.failOn("lectures.stamp", errors.New("connection reset"))

	_, err := f.substitution.EscalateAssignment(context.Background(), id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEscalationSkipped)

	assert.Equal(t, models.AssignmentStatusPending, f.db.assignment(id).Status)
	assert.Nil(t, f.db.lecture("lec-1").SubstituteTeacherID)
	assert.Zero(t, f.notifier.count())

	status, err := f.substitution.EscalateAssignment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusAutoAssigned, status)
}

func TestHumanAssignmentWinsOverEscalation(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 8, 0))
	f.seedScienceDepartment(day)
	id := f.pendingFor("lec-1", at(day, 8, 0))

	assigned, err := f.substitution.AssignManually(context.Background(), hodScience, "lec-1", dto.ManualAssignRequest{SubstituteTeacherID: "t-free"})
	require.NoError(t, err)
	assert.Equal(t, id, assigned.ID)
	assert.Equal(t, models.AssignmentStatusAssigned, assigned.Status)
	assert.Equal(t, models.AssignmentTypeManual, assigned.AssignmentType)

	_, err = f.substitution.EscalateAssignment(context.Background(), id)
	assert.ErrorIs(t, err, ErrEscalationSkipped)

	a := f.db.assignment(id)
	assert.Equal(t, models.AssignmentStatusAssigned, a.Status)
	assert.Equal(t, "t-free", *a.SubstituteTeacherID)
	assert.Equal(t, 1, f.db.teacher("t-free").SubstituteCount)
	assert.Equal(t, 0, f.db.teacher("t-busy").SubstituteCount)
}

func TestAssignManuallyOverridesPreviousSubstitute(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 8, 0))
	f.seedScienceDepartment(day)
	id := f.pendingFor("lec-1", at(day, 8, 0))
	_, err := f.substitution.EscalateAssignment(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "t-busy", *f.db.lecture("lec-1").SubstituteTeacherID)

	override, err := f.substitution.AssignManually(context.Background(), admin, "lec-1", dto.ManualAssignRequest{SubstituteTeacherID: "t-math", Note: "specialist"})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentTypeManualOverride, override.AssignmentType)
	assert.Equal(t, models.AssignmentStatusAssigned, override.Status)
	assert.NotEqual(t, id, override.ID)

	assert.Equal(t, "t-math", *f.db.lecture("lec-1").SubstituteTeacherID)
	assert.Equal(t, 0, f.db.teacher("t-busy").SubstituteCount)
	assert.Equal(t, 1, f.db.teacher("t-math").SubstituteCount)
	assert.Contains(t, f.notifier.kindsFor("t-busy"), models.NotificationSubstituteReleased)
	assert.Contains(t, f.notifier.kindsFor("t-math"), models.NotificationSubstituteAssigned)
	assert.Len(t, f.db.assignmentsForLecture("lec-1"), 2)
}

func TestAssignManuallyGuards(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 8, 0))
	f.seedScienceDepartment(day)
	f.db.addLecture(models.Lecture{ID: "lec-off", ScheduledTeacherID: "t-absent", Room: "R9", Date: day,
		StartTime: "13:00", EndTime: "14:00", Status: models.LectureStatusCancelled})

	cases := []struct {
		name    string
		actor   models.Actor
		lecture string
		sub     string
		code    string
	}{
		{"other department", hodMath, "lec-1", "t-free", appErrors.ErrForbidden.Code},
		{"self substitution", hodScience, "lec-1", "t-absent", appErrors.ErrValidation.Code},
		{"cancelled lecture", hodScience, "lec-off", "t-free", appErrors.ErrInvalidTransition.Code},
		{"unknown teacher", hodScience, "lec-1", "ghost", appErrors.ErrNotFound.Code},
		{"unknown lecture", hodScience, "ghost", "t-free", appErrors.ErrNotFound.Code},
		{"missing substitute", hodScience, "lec-1", "", appErrors.ErrValidation.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.substitution.AssignManually(context.Background(), tc.actor, tc.lecture, dto.ManualAssignRequest{SubstituteTeacherID: tc.sub})
			require.Error(t, err)
			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
		})
	}
	assert.Nil(t, f.db.lecture("lec-1").SubstituteTeacherID)
	assert.Zero(t, f.notifier.count())
}

func TestMarkAbsentResolvesEveryLectureImmediately(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 6, 30))
	f.seedScienceDepartment(day)
	f.db.addLecture(models.Lecture{ID: "lec-2", ScheduledTeacherID: "t-absent", Subject: "Chemistry", Room: "Lab 2",
		Date: day, StartTime: "10:00", EndTime: "11:00"})
	f.db.addLecture(models.Lecture{ID: "lec-3", ScheduledTeacherID: "t-absent", Subject: "Biology", Room: "Lab 3",
		Date: day, StartTime: "12:00", EndTime: "13:00"})
	// Both colleagues teach at 12:00, so lec-3 cannot be covered.
	f.db.addLecture(models.Lecture{ID: "busy-12", ScheduledTeacherID: "t-busy", Room: "R1", Date: day, StartTime: "12:00", EndTime: "13:00"})
	f.db.addLecture(models.Lecture{ID: "free-12", ScheduledTeacherID: "t-free", Room: "R2", Date: day, StartTime: "12:30", EndTime: "13:30"})
	pendingID := f.pendingFor("lec-2", at(day, 9, 0))

	result, err := f.substitution.MarkAbsent(context.Background(), models.Actor{ID: "t-absent", Role: models.RoleTeacher, Department: "Science"}, dto.MarkAbsentRequest{})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-04", result.Date)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.AssignedCount)
	require.Len(t, result.Log, 3)

	assert.Equal(t, models.AbsenceOutcomeAssigned, result.Log[0].Outcome)
	assert.Equal(t, "t-busy", *result.Log[0].SubstituteID)
	// t-busy now carries one extra lecture today, so the next one goes to t-free.
	assert.Equal(t, models.AbsenceOutcomeAssigned, result.Log[1].Outcome)
	assert.Equal(t, "t-free", *result.Log[1].SubstituteID)
	assert.Equal(t, models.AbsenceOutcomeUnassigned, result.Log[2].Outcome)
	assert.Nil(t, result.Log[2].SubstituteID)

	assert.Equal(t, models.AssignmentStatusAutoAssigned, f.db.assignment(pendingID).Status, "existing pending row is resolved, not duplicated")
	assert.Len(t, f.db.assignmentsForLecture("lec-2"), 1)

	rows := f.db.assignmentsForLecture("lec-3")
	require.Len(t, rows, 1)
	assert.Equal(t, models.AssignmentStatusUnassigned, rows[0].Status)
	assert.Nil(t, rows[0].LeaveRequestID)

	again, err := f.substitution.MarkAbsent(context.Background(), hodScience, dto.MarkAbsentRequest{TeacherID: "t-absent", Date: "2024-03-04"})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Total, "covered lectures are not revisited")
}

func TestMarkAbsentContinuesAfterFailedLecture(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 6, 30))
	f.seedScienceDepartment(day)
	f.db.addLecture(models.Lecture{ID: "lec-2", ScheduledTeacherID: "t-absent", Room: "Lab 2", Date: day, StartTime: "10:00", EndTime: "11:00"})
	f.db.failOn("lectures.stamp", errors.New("deadlock detected"))

	result, err := f.substitution.MarkAbsent(context.Background(), hodScience, dto.MarkAbsentRequest{TeacherID: "t-absent"})
	require.NoError(t, err)
	require.Len(t, result.Log, 2)
	assert.Equal(t, models.AbsenceOutcomeFailed, result.Log[0].Outcome)
	assert.Nil(t, f.db.lecture("lec-1").SubstituteTeacherID)
	assert.Empty(t, f.db.assignmentsForLecture("lec-1"))
	assert.Equal(t, models.AbsenceOutcomeAssigned, result.Log[1].Outcome)
	assert.Equal(t, 1, result.AssignedCount)
}

func TestMarkAbsentScoping(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 6, 30))
	f.seedScienceDepartment(day)

	_, err := f.substitution.MarkAbsent(context.Background(), hodMath, dto.MarkAbsentRequest{TeacherID: "t-absent"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.substitution.MarkAbsent(context.Background(), hodScience, dto.MarkAbsentRequest{TeacherID: "t-absent", Date: "tomorrow"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestListPendingReportsRemainingTime(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 8, 0))
	f.seedScienceDepartment(day)
	f.db.addLecture(models.Lecture{ID: "math-1", ScheduledTeacherID: "t-math", Room: "M1", Date: day, StartTime: "09:00", EndTime: "10:00"})
	f.pendingFor("lec-1", at(day, 8, 10))
	f.pendingFor("math-1", at(day, 7, 55))

	science, err := f.substitution.ListPending(context.Background(), hodScience)
	require.NoError(t, err)
	require.Len(t, science, 1)
	assert.Equal(t, int64(600), science[0].TimeRemainingSeconds)
	assert.Equal(t, "Ana Absent", science[0].OriginalTeacherName)

	all, err := f.substitution.ListPending(context.Background(), admin)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(0), all[0].TimeRemainingSeconds, "overdue rows clamp at zero")

	none, err := f.substitution.ListPending(context.Background(), models.Actor{ID: "x", Role: models.RoleTeacher})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCandidatesPreviewExplainsRejections(t *testing.T) {
	day := date(2024, 3, 4)
	f := newEngineFixture(t, at(day, 8, 0))
	f.seedScienceDepartment(day)
	f.db.addTeacher(models.Teacher{ID: "t-retired", FullName: "Eko Retired", Department: "Science", Active: false})
	f.db.addLecture(models.Lecture{ID: "busy-1", ScheduledTeacherID: "t-busy", Room: "R1", Date: day, StartTime: "09:30", EndTime: "10:30"})

	preview, err := f.substitution.Candidates(context.Background(), hodScience, "lec-1")
	require.NoError(t, err)
	require.Len(t, preview.Candidates, 1)
	assert.Equal(t, "t-free", preview.Candidates[0].Teacher.ID)

	reasons := map[string]models.RejectionReason{}
	for _, r := range preview.Rejections {
		reasons[r.TeacherID] = r.Reason
	}
	assert.Equal(t, map[string]models.RejectionReason{
		"t-absent":  models.RejectionSelf,
		"t-busy":    models.RejectionTimeConflict,
		"t-retired": models.RejectionInactive,
	}, reasons)

	_, err = f.substitution.Candidates(context.Background(), hodMath, "lec-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

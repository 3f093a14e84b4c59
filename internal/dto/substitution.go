package dto

// MarkAbsentRequest triggers immediate substitute resolution for one day.
// Date defaults to today in the school timezone.
type MarkAbsentRequest struct {
	TeacherID string `json:"teacherId"`
	Date      string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// ManualAssignRequest assigns or overrides the substitute of a lecture.
type ManualAssignRequest struct {
	SubstituteTeacherID string `json:"substituteTeacherId" validate:"required"`
	Note                string `json:"note" validate:"max=500"`
}

package dto

// CreateLectureRequest schedules a new dated lecture.
type CreateLectureRequest struct {
	ScheduledTeacherID string `json:"scheduledTeacherId" validate:"required"`
	Subject            string `json:"subject" validate:"required,max=120"`
	ClassYear          string `json:"classYear" validate:"max=32"`
	Room               string `json:"room" validate:"required,max=64"`
	Date               string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime          string `json:"startTime" validate:"required,datetime=15:04"`
	EndTime            string `json:"endTime" validate:"required,datetime=15:04"`
}

// RescheduleLectureRequest moves a lecture to a new slot or room.
type RescheduleLectureRequest struct {
	Subject   string `json:"subject" validate:"required,max=120"`
	ClassYear string `json:"classYear" validate:"max=32"`
	Room      string `json:"room" validate:"required,max=64"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"startTime" validate:"required,datetime=15:04"`
	EndTime   string `json:"endTime" validate:"required,datetime=15:04"`
}

// LectureQuery filters lecture listings.
type LectureQuery struct {
	TeacherID string `form:"teacherId"`
	Date      string `form:"date"`
	Page      int    `form:"page"`
	PageSize  int    `form:"pageSize"`
}

package domain

import "time"

// ExamCategory names the report-card component an exam feeds into.
type ExamCategory string

const (
	CategoryExamination ExamCategory = "examination"
	CategoryFirstTest   ExamCategory = "first_test"
	CategorySecondTest  ExamCategory = "second_test"
)

// Valid reports whether c is one of the known categories.
func (c ExamCategory) Valid() bool {
	switch c {
	case CategoryExamination, CategoryFirstTest, CategorySecondTest:
		return true
	}
	return false
}

// Exam is a gradable unit scoped to a class and subject.
type Exam struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	ClassID         string       `json:"classId"`
	SubjectID       string       `json:"subjectId"`
	SubjectName     string       `json:"subject"`
	Category        ExamCategory `json:"examType"`
	TotalMarks      float64      `json:"totalMarks"`
	DurationMinutes int          `json:"durationMinutes"`
	StartDate       *time.Time   `json:"startDate,omitempty"`
	EndDate         *time.Time   `json:"endDate,omitempty"`
	Published       bool         `json:"isPublished"`
	CreatedBy       string       `json:"createdBy"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Duration is the time budget of a single attempt.
func (e Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// NotYetOpen reports whether the window starts after now.
func (e Exam) NotYetOpen(now time.Time) bool {
	return e.StartDate != nil && now.Before(*e.StartDate)
}

// Expired reports whether the window ended at or before now.
func (e Exam) Expired(now time.Time) bool {
	return e.EndDate != nil && !now.Before(*e.EndDate)
}

// Option is one labeled choice. The ID is stable across shuffles.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question models an objective question with exactly one correct option.
type Question struct {
	ID              string    `json:"id"`
	ExamID          string    `json:"examId"`
	Text            string    `json:"text"`
	Options         []Option  `json:"options"`
	CorrectOptionID string    `json:"correctOptionId"`
	Points          float64   `json:"points"`
	Position        int       `json:"position"`
	CreatedAt       time.Time `json:"createdAt"`
}

// HasOption reports whether optionID is one of the question's options.
func (q Question) HasOption(optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// ExamBundle is an exam together with its authored questions.
type ExamBundle struct {
	Exam      Exam       `json:"exam"`
	Questions []Question `json:"questions"`
}

// Student is the roster view of a learner.
type Student struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	AdmissionNumber string `json:"admissionNumber"`
	ClassID         string `json:"classId"`
}

// Actor identifies the caller of an authoring operation.
type Actor struct {
	ID    string
	Admin bool
}

// CanEdit reports whether the actor may mutate the exam.
func (a Actor) CanEdit(e Exam) bool {
	return a.Admin || (a.ID != "" && a.ID == e.CreatedBy)
}

// AcademicRecordEntry is one grade-book cell written by the import.
type AcademicRecordEntry struct {
	StudentID string       `json:"studentId"`
	ClassID   string       `json:"classId"`
	SubjectID string       `json:"subjectId"`
	Component ExamCategory `json:"component"`
	Score     float64      `json:"score"`
}

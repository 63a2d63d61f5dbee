package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"cbt-exam-service/internal/domain"
)

type examRow struct {
	bun.BaseModel `bun:"table:exams"`

	ID              string     `bun:"id,pk"`
	Title           string     `bun:"title,notnull"`
	Description     string     `bun:"description,notnull"`
	ClassID         string     `bun:"class_id,notnull"`
	SubjectID       string     `bun:"subject_id,notnull"`
	SubjectName     string     `bun:"subject_name,notnull"`
	Category        string     `bun:"category,notnull"`
	TotalMarks      float64    `bun:"total_marks,notnull"`
	DurationMinutes int        `bun:"duration_minutes,notnull"`
	StartDate       *time.Time `bun:"start_date"`
	EndDate         *time.Time `bun:"end_date"`
	Published       bool       `bun:"is_published,notnull"`
	CreatedBy       string     `bun:"created_by,notnull"`
	CreatedAt       time.Time  `bun:"created_at,notnull"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull"`
}

func newExamRow(e domain.Exam) *examRow {
	return &examRow{
		ID:              e.ID,
		Title:           e.Title,
		Description:     e.Description,
		ClassID:         e.ClassID,
		SubjectID:       e.SubjectID,
		SubjectName:     e.SubjectName,
		Category:        string(e.Category),
		TotalMarks:      e.TotalMarks,
		DurationMinutes: e.DurationMinutes,
		StartDate:       e.StartDate,
		EndDate:         e.EndDate,
		Published:       e.Published,
		CreatedBy:       e.CreatedBy,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func (r examRow) toDomain() domain.Exam {
	return domain.Exam{
		ID:              r.ID,
		Title:           r.Title,
		Description:     r.Description,
		ClassID:         r.ClassID,
		SubjectID:       r.SubjectID,
		SubjectName:     r.SubjectName,
		Category:        domain.ExamCategory(r.Category),
		TotalMarks:      r.TotalMarks,
		DurationMinutes: r.DurationMinutes,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
		Published:       r.Published,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type questionRow struct {
	bun.BaseModel `bun:"table:questions"`

	ID              string          `bun:"id,pk"`
	ExamID          string          `bun:"exam_id,notnull"`
	Text            string          `bun:"text,notnull"`
	Options         []domain.Option `bun:"options,type:jsonb,notnull"`
	CorrectOptionID string          `bun:"correct_option_id,notnull"`
	Points          float64         `bun:"points,notnull"`
	Position        int             `bun:"position,notnull"`
	CreatedAt       time.Time       `bun:"created_at,notnull"`
}

func newQuestionRow(q domain.Question) *questionRow {
	return &questionRow{
		ID:              q.ID,
		ExamID:          q.ExamID,
		Text:            q.Text,
		Options:         q.Options,
		CorrectOptionID: q.CorrectOptionID,
		Points:          q.Points,
		Position:        q.Position,
		CreatedAt:       q.CreatedAt,
	}
}

func (r questionRow) toDomain() domain.Question {
	return domain.Question{
		ID:              r.ID,
		ExamID:          r.ExamID,
		Text:            r.Text,
		Options:         r.Options,
		CorrectOptionID: r.CorrectOptionID,
		Points:          r.Points,
		Position:        r.Position,
		CreatedAt:       r.CreatedAt,
	}
}

type attemptRow struct {
	bun.BaseModel `bun:"table:attempts"`

	ID             string                    `bun:"id,pk"`
	ExamID         string                    `bun:"exam_id,notnull"`
	StudentID      string                    `bun:"student_id,notnull"`
	ClassID        string                    `bun:"class_id,notnull"`
	Status         string                    `bun:"status,notnull"`
	StartedAt      time.Time                 `bun:"started_at,notnull"`
	Deadline       time.Time                 `bun:"deadline,notnull"`
	SubmittedAt    *time.Time                `bun:"submitted_at"`
	AutoSubmitted  bool                      `bun:"auto_submitted,notnull"`
	Snapshot       []domain.SnapshotQuestion `bun:"snapshot,type:jsonb,notnull"`
	Score          float64                   `bun:"score,notnull"`
	MaxScore       float64                   `bun:"max_score,notnull"`
	CorrectCount   int                       `bun:"correct_count,notnull"`
	TotalQuestions int                       `bun:"total_questions,notnull"`
}

func newAttemptRow(a domain.Attempt) *attemptRow {
	return &attemptRow{
		ID:             a.ID,
		ExamID:         a.ExamID,
		StudentID:      a.StudentID,
		ClassID:        a.ClassID,
		Status:         string(a.Status),
		StartedAt:      a.StartedAt,
		Deadline:       a.Deadline,
		SubmittedAt:    a.SubmittedAt,
		AutoSubmitted:  a.AutoSubmitted,
		Snapshot:       a.Questions,
		Score:          a.Score,
		MaxScore:       a.MaxScore,
		CorrectCount:   a.CorrectCount,
		TotalQuestions: a.TotalQuestions,
	}
}

func (r attemptRow) toDomain(responses []responseRow) domain.Attempt {
	a := domain.Attempt{
		ID:             r.ID,
		ExamID:         r.ExamID,
		StudentID:      r.StudentID,
		ClassID:        r.ClassID,
		Status:         domain.AttemptStatus(r.Status),
		StartedAt:      r.StartedAt,
		Deadline:       r.Deadline,
		SubmittedAt:    r.SubmittedAt,
		AutoSubmitted:  r.AutoSubmitted,
		Questions:      r.Snapshot,
		Responses:      make(map[string]domain.Response, len(responses)),
		Score:          r.Score,
		MaxScore:       r.MaxScore,
		CorrectCount:   r.CorrectCount,
		TotalQuestions: r.TotalQuestions,
	}
	for _, resp := range responses {
		out := domain.Response{OptionID: resp.OptionID, Flagged: resp.Flagged}
		if resp.AnsweredAt != nil {
			out.AnsweredAt = *resp.AnsweredAt
		}
		a.Responses[resp.QuestionID] = out
	}
	return a
}

type responseRow struct {
	bun.BaseModel `bun:"table:attempt_responses"`

	AttemptID  string     `bun:"attempt_id,pk"`
	QuestionID string     `bun:"question_id,pk"`
	OptionID   string     `bun:"option_id,notnull"`
	Flagged    bool       `bun:"flagged,notnull"`
	AnsweredAt *time.Time `bun:"answered_at"`
}

type studentRow struct {
	bun.BaseModel `bun:"table:students"`

	ID              string `bun:"id,pk"`
	Name            string `bun:"name,notnull"`
	AdmissionNumber string `bun:"admission_number,notnull"`
	ClassID         string `bun:"class_id,notnull"`
}

type reportCardRow struct {
	bun.BaseModel `bun:"table:report_cards"`

	StudentID   string    `bun:"student_id,pk"`
	ClassID     string    `bun:"class_id,pk"`
	SubjectID   string    `bun:"subject_id,pk"`
	FirstTest   *float64  `bun:"first_test"`
	SecondTest  *float64  `bun:"second_test"`
	Examination *float64  `bun:"examination"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

package domain

import "time"

// Result is the instructor view of one finished attempt. It is derived, not persisted.
type Result struct {
	AttemptID       string    `json:"attemptId"`
	ExamID          string    `json:"examId"`
	StudentID       string    `json:"studentId"`
	StudentName     string    `json:"studentName"`
	AdmissionNumber string    `json:"admissionNumber"`
	SubmittedAt     time.Time `json:"submittedAt"`
	Score           float64   `json:"score"`
	MaxScore        float64   `json:"maxScore"`
	Percentage      float64   `json:"percentage"`
	CorrectCount    int       `json:"correctAnswers"`
	TotalQuestions  int       `json:"totalQuestions"`
	AutoSubmitted   bool      `json:"autoSubmitted"`
}

// SkippedStudent explains why one student's grade-book write did not happen.
type SkippedStudent struct {
	StudentID string `json:"studentId"`
	Reason    string `json:"reason"`
}

// ImportReport is the outcome of an academic-record import.
type ImportReport struct {
	ExamID       string           `json:"examId"`
	UpdatedCount int              `json:"updatedCount"`
	Skipped      []SkippedStudent `json:"skipped"`
}

// Err returns a *PartialImportError when any student was skipped.
func (r ImportReport) Err() error {
	if len(r.Skipped) == 0 {
		return nil
	}
	return &PartialImportError{ExamID: r.ExamID, Skipped: r.Skipped}
}

// ScoreMismatch is reported by an audit when a stored score differs from a recomputation.
type ScoreMismatch struct {
	AttemptID       string  `json:"attemptId"`
	StudentID       string  `json:"studentId"`
	StoredScore     float64 `json:"storedScore"`
	ComputedScore   float64 `json:"computedScore"`
	StoredCorrect   int     `json:"storedCorrect"`
	ComputedCorrect int     `json:"computedCorrect"`
}

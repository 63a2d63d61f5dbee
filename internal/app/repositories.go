package app

import (
	"context"
	"time"

	"cbt-exam-service/internal/domain"
)

// ExamStore persists exam metadata.
type ExamStore interface {
	CreateExam(ctx context.Context, exam domain.Exam) error
	GetExam(ctx context.Context, examID string) (domain.Exam, error)
	// UpdateExam overwrites the exam. With structural set it fails with domain.ErrExamLocked
	// when any attempt references the exam; the check and the write are atomic.
	UpdateExam(ctx context.Context, exam domain.Exam, structural bool) error
	// DeleteExam removes the exam together with its questions and attempts.
	DeleteExam(ctx context.Context, examID string) error
	ListExamsByClass(ctx context.Context, classID string) ([]domain.Exam, error)
}

// QuestionStore persists the authored question bank.
type QuestionStore interface {
	// AddQuestion appends the question and returns it with its assigned position.
	AddQuestion(ctx context.Context, q domain.Question) (domain.Question, error)
	UpdateQuestion(ctx context.Context, q domain.Question) error
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
	// ListQuestions returns questions in authoring order.
	ListQuestions(ctx context.Context, examID string) ([]domain.Question, error)
	RemoveQuestion(ctx context.Context, questionID string) error
}

// AttemptStore persists attempts and their responses.
//
// Implementations must guarantee:
//   - CreateAttempt fails with domain.ErrAttemptExists when the (exam, student) pair already has an attempt.
//   - SaveAnswer and ToggleFlag fail with domain.ErrAttemptSubmitted once the attempt is submitted.
//   - MarkSubmitted applies the InProgress -> Submitted transition at most once and reports whether it did.
//     grade runs inside the transition against the attempt as stored at that moment, so every
//     response saved before the transition is part of the score.
type AttemptStore interface {
	CreateAttempt(ctx context.Context, a domain.Attempt) error
	GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error)
	FindAttempt(ctx context.Context, examID, studentID string) (domain.Attempt, error)
	CountAttempts(ctx context.Context, examID string) (int, error)
	SaveAnswer(ctx context.Context, attemptID, questionID, optionID string, at time.Time) error
	ToggleFlag(ctx context.Context, attemptID, questionID string) (bool, error)
	MarkSubmitted(ctx context.Context, attemptID string, grade func(domain.Attempt) domain.Submission) (bool, error)
	// ListSubmitted returns finished attempts ordered by submission time.
	ListSubmitted(ctx context.Context, examID string) ([]domain.Attempt, error)
}

// Store bundles the persistence the engine needs.
type Store interface {
	ExamStore
	QuestionStore
	AttemptStore
}

// ExamLoader fetches an exam and its questions from the backing store.
type ExamLoader interface {
	LoadExam(ctx context.Context, examID string) (domain.ExamBundle, error)
}

// ExamRepository serves exam bundles through a cache.
type ExamRepository interface {
	GetExamBundle(ctx context.Context, examID string) (domain.ExamBundle, error)
	Invalidate(ctx context.Context, examID string) error
}

// ClassRoster answers student <-> class membership questions.
type ClassRoster interface {
	IsEnrolled(ctx context.Context, studentID, classID string) (bool, error)
	GetStudent(ctx context.Context, studentID string) (domain.Student, error)
}

// AcademicRecord writes scores into the grade book. WriteScore overwrites the cell and
// returns domain.ErrNoRecordTarget when no cell exists for the entry.
type AcademicRecord interface {
	WriteScore(ctx context.Context, entry domain.AcademicRecordEntry) error
}

// ResultRecorder is notified once per effective submission.
type ResultRecorder interface {
	Record(ctx context.Context, attempt domain.Attempt)
}

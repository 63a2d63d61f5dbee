package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Failed operations return an error wrapping one of them. *PartialImportError is
// the exception: it describes an import that was applied in part and carries no kind.
var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrStateConflict    = errors.New("state conflict")
	ErrDeadlineExceeded = errors.New("deadline exceeded")
	ErrForbidden        = errors.New("forbidden")
	ErrNoRecordTarget   = errors.New("no academic record target")
)

var (
	// ErrExamNotFound is returned when an exam does not exist or is hidden from the caller.
	ErrExamNotFound = fmt.Errorf("exam %w", ErrNotFound)
	// ErrQuestionNotFound indicates a question ID that is not in the bank or the snapshot.
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)
	// ErrAttemptNotFound indicates an unknown attempt.
	ErrAttemptNotFound = fmt.Errorf("attempt %w", ErrNotFound)
	// ErrStudentNotFound indicates the roster does not know the student.
	ErrStudentNotFound = fmt.Errorf("student %w", ErrNotFound)

	// ErrAttemptSubmitted is returned when mutating an attempt that is already submitted.
	ErrAttemptSubmitted = fmt.Errorf("%w: attempt already submitted", ErrStateConflict)
	// ErrAttemptExists is returned by stores when a (student, exam) attempt already exists.
	ErrAttemptExists = fmt.Errorf("%w: attempt already exists", ErrStateConflict)
	// ErrExamNotOpen is returned when starting an exam whose window has not opened.
	ErrExamNotOpen = fmt.Errorf("%w: exam not yet open", ErrStateConflict)
	// ErrExamExpired is returned when starting an exam whose window has closed.
	ErrExamExpired = fmt.Errorf("%w: exam expired", ErrStateConflict)
	// ErrExamLocked is returned for structural edits once attempts reference the exam.
	ErrExamLocked = fmt.Errorf("%w: exam has attempts; structural fields are locked", ErrStateConflict)
	// ErrConfirmationRequired guards destructive deletes.
	ErrConfirmationRequired = fmt.Errorf("%w: delete requires confirmation", ErrStateConflict)
	// ErrNoQuestions is returned when starting an exam with an empty question bank.
	ErrNoQuestions = fmt.Errorf("%w: exam has no questions", ErrStateConflict)

	// ErrNotOwner is returned when the caller may not act on the exam or attempt.
	ErrNotOwner = fmt.Errorf("%w: not the owner", ErrForbidden)
	// ErrNotEnrolled is returned when a student is outside the exam's class.
	ErrNotEnrolled = fmt.Errorf("%w: student not enrolled in class", ErrForbidden)
)

// FieldError describes a problem with one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for malformed input. It is always raised before any mutation.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError builds a ValidationError from field problems.
func NewValidationError(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DeadlineExceededError reports a mutation that arrived after the authoritative deadline.
// The attempt has been submitted automatically; Result holds the final outcome.
type DeadlineExceededError struct {
	AttemptID string
	Result    SubmitOutcome
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("attempt %s: %s, submitted automatically", e.AttemptID, ErrDeadlineExceeded)
}

func (e *DeadlineExceededError) Unwrap() error { return ErrDeadlineExceeded }

// PartialImportError lists the students an import could not write. It is reported through
// ImportReport.Err, never as the error of ImportToAcademicRecord.
type PartialImportError struct {
	ExamID  string
	Skipped []SkippedStudent
}

func (e *PartialImportError) Error() string {
	return fmt.Sprintf("import exam %s: %d student(s) skipped", e.ExamID, len(e.Skipped))
}

package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"cbt-exam-service/internal/domain"
)

// StartResult is returned by Start. Attempt carries answer keys and must not be sent to students; use View.
type StartResult struct {
	Attempt domain.Attempt
	View    domain.AttemptView
	Resumed bool
}

// TickState is the authoritative countdown for one attempt.
type TickState struct {
	AttemptID        string                `json:"attemptId"`
	Status           domain.AttemptStatus  `json:"status"`
	Deadline         time.Time             `json:"deadline"`
	RemainingSeconds int64                 `json:"remainingSeconds"`
	Result           *domain.SubmitOutcome `json:"result,omitempty"`
}

// SessionEngine drives one student's attempt: start, answer, flag, tick and submit.
// The deadline is recomputed from the persisted attempt on every call; nothing the
// client sends about time is trusted.
type SessionEngine struct {
	catalog  *ExamCatalog
	bundles  ExamRepository
	attempts AttemptStore
	recorder ResultRecorder
	opts     options
}

func NewSessionEngine(catalog *ExamCatalog, bundles ExamRepository, attempts AttemptStore, recorder ResultRecorder, opts ...Option) *SessionEngine {
	return &SessionEngine{
		catalog:  catalog,
		bundles:  bundles,
		attempts: attempts,
		recorder: recorder,
		opts:     newOptions(opts),
	}
}

// Start creates the student's attempt, or resumes the open one with its original snapshot.
func (e *SessionEngine) Start(ctx context.Context, studentID, examID string) (StartResult, error) {
	now := e.opts.clock()
	el, err := e.catalog.CanStart(ctx, studentID, examID, now)
	if err != nil {
		return StartResult{}, err
	}

	switch el.Reason {
	case ReasonAttemptInProgress:
		return e.resume(ctx, *el.Attempt, now)
	case ReasonAlreadySubmitted:
		return StartResult{}, domain.ErrAttemptSubmitted
	case ReasonNotYetOpen:
		return StartResult{}, domain.ErrExamNotOpen
	case ReasonExpired:
		return StartResult{}, domain.ErrExamExpired
	}

	bundle, err := e.bundles.GetExamBundle(ctx, examID)
	if err != nil {
		return StartResult{}, err
	}
	if len(bundle.Questions) == 0 {
		return StartResult{}, domain.ErrNoQuestions
	}
	questions := make([]domain.Question, len(bundle.Questions))
	copy(questions, bundle.Questions)
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Position < questions[j].Position })

	snapshot := snapshotQuestions(questions, e.opts.shuffle)
	attempt := domain.Attempt{
		ID:             e.opts.newID(),
		ExamID:         el.Exam.ID,
		StudentID:      studentID,
		ClassID:        el.Exam.ClassID,
		Status:         domain.StatusInProgress,
		StartedAt:      now,
		Deadline:       now.Add(el.Exam.Duration()),
		Questions:      snapshot,
		Responses:      map[string]domain.Response{},
		MaxScore:       maxScore(snapshot),
		TotalQuestions: len(snapshot),
	}

	if err := e.attempts.CreateAttempt(ctx, attempt); err != nil {
		if !errors.Is(err, domain.ErrAttemptExists) {
			return StartResult{}, err
		}
		// Lost a race with a concurrent start for the same student.
		existing, ferr := e.attempts.FindAttempt(ctx, examID, studentID)
		if ferr != nil {
			return StartResult{}, ferr
		}
		if existing.Submitted() {
			return StartResult{}, domain.ErrAttemptSubmitted
		}
		return e.resume(ctx, existing, now)
	}

	e.opts.log.Info("attempt started",
		"attempt_id", attempt.ID, "exam_id", examID, "student_id", studentID,
		"deadline", attempt.Deadline)
	return StartResult{Attempt: attempt, View: attempt.View(now)}, nil
}

func (e *SessionEngine) resume(ctx context.Context, attempt domain.Attempt, now time.Time) (StartResult, error) {
	if !now.Before(attempt.Deadline) {
		final, err := e.finalize(ctx, attempt.ID, now, true)
		if err != nil {
			return StartResult{}, err
		}
		return StartResult{}, &domain.DeadlineExceededError{AttemptID: final.ID, Result: final.Outcome()}
	}
	e.opts.log.Info("attempt resumed",
		"attempt_id", attempt.ID, "exam_id", attempt.ExamID, "student_id", attempt.StudentID)
	return StartResult{Attempt: attempt, View: attempt.View(now), Resumed: true}, nil
}

// RecordAnswer stores the selected option for a question, overwriting any earlier choice.
// After the deadline the attempt is submitted instead and a *DeadlineExceededError is returned.
func (e *SessionEngine) RecordAnswer(ctx context.Context, attemptID, studentID, questionID, optionID string) error {
	attempt, err := e.open(ctx, attemptID, studentID)
	if err != nil {
		return err
	}
	q, ok := attempt.Question(questionID)
	if !ok {
		return domain.ErrQuestionNotFound
	}
	if !q.HasOption(optionID) {
		return domain.NewValidationError(domain.FieldError{
			Field:   "optionId",
			Message: "option " + optionID + " is not part of question " + questionID,
		})
	}
	return e.attempts.SaveAnswer(ctx, attemptID, questionID, optionID, e.opts.clock())
}

// ToggleFlag flips the review marker on a question and returns the new state.
func (e *SessionEngine) ToggleFlag(ctx context.Context, attemptID, studentID, questionID string) (bool, error) {
	attempt, err := e.open(ctx, attemptID, studentID)
	if err != nil {
		return false, err
	}
	if _, ok := attempt.Question(questionID); !ok {
		return false, domain.ErrQuestionNotFound
	}
	return e.attempts.ToggleFlag(ctx, attemptID, questionID)
}

// Submit finishes the attempt. final holds answers sent with the submission; they are applied
// only before the deadline. A late call is always treated as automatic. Submitting an already
// submitted attempt returns the stored outcome.
func (e *SessionEngine) Submit(ctx context.Context, attemptID, studentID string, final map[string]string, auto bool) (domain.SubmitOutcome, error) {
	attempt, err := e.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return domain.SubmitOutcome{}, err
	}
	if attempt.Submitted() {
		return attempt.Outcome(), nil
	}

	now := e.opts.clock()
	late := !now.Before(attempt.Deadline)
	if !late && len(final) > 0 {
		if err := validateAnswers(attempt, final); err != nil {
			return domain.SubmitOutcome{}, err
		}
		for questionID, optionID := range final {
			err := e.attempts.SaveAnswer(ctx, attemptID, questionID, optionID, now)
			if errors.Is(err, domain.ErrAttemptSubmitted) {
				break
			}
			if err != nil {
				return domain.SubmitOutcome{}, err
			}
		}
	}

	done, err := e.finalize(ctx, attemptID, now, auto || late)
	if err != nil {
		return domain.SubmitOutcome{}, err
	}
	return done.Outcome(), nil
}

// Tick reports the remaining time and submits the attempt once the deadline has passed.
func (e *SessionEngine) Tick(ctx context.Context, attemptID, studentID string) (TickState, error) {
	attempt, now, err := e.current(ctx, attemptID, studentID)
	if err != nil {
		return TickState{}, err
	}
	view := attempt.View(now)
	return TickState{
		AttemptID:        attempt.ID,
		Status:           attempt.Status,
		Deadline:         attempt.Deadline,
		RemainingSeconds: view.RemainingSeconds,
		Result:           view.Result,
	}, nil
}

// View returns the student projection of the attempt, submitting it first if time ran out.
func (e *SessionEngine) View(ctx context.Context, attemptID, studentID string) (domain.AttemptView, error) {
	attempt, now, err := e.current(ctx, attemptID, studentID)
	if err != nil {
		return domain.AttemptView{}, err
	}
	return attempt.View(now), nil
}

// current loads the attempt and resolves an elapsed deadline into a submission.
func (e *SessionEngine) current(ctx context.Context, attemptID, studentID string) (domain.Attempt, time.Time, error) {
	attempt, err := e.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return domain.Attempt{}, time.Time{}, err
	}
	now := e.opts.clock()
	if !attempt.Submitted() && !now.Before(attempt.Deadline) {
		attempt, err = e.finalize(ctx, attemptID, now, true)
		if err != nil {
			return domain.Attempt{}, time.Time{}, err
		}
	}
	return attempt, now, nil
}

// open loads an attempt that may still be mutated by the student.
func (e *SessionEngine) open(ctx context.Context, attemptID, studentID string) (domain.Attempt, error) {
	attempt, err := e.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.Submitted() {
		return domain.Attempt{}, domain.ErrAttemptSubmitted
	}
	now := e.opts.clock()
	if !now.Before(attempt.Deadline) {
		final, err := e.finalize(ctx, attemptID, now, true)
		if err != nil {
			return domain.Attempt{}, err
		}
		return domain.Attempt{}, &domain.DeadlineExceededError{AttemptID: attemptID, Result: final.Outcome()}
	}
	return attempt, nil
}

func (e *SessionEngine) loadOwned(ctx context.Context, attemptID, studentID string) (domain.Attempt, error) {
	attempt, err := e.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.StudentID != studentID {
		return domain.Attempt{}, domain.ErrNotOwner
	}
	return attempt, nil
}

// finalize scores the answers recorded up to the deadline and applies the
// InProgress -> Submitted transition. Only the caller that wins the transition
// notifies the recorder; everyone else observes the stored outcome.
func (e *SessionEngine) finalize(ctx context.Context, attemptID string, now time.Time, auto bool) (domain.Attempt, error) {
	attempt, err := e.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.Submitted() {
		return attempt, nil
	}

	applied, err := e.attempts.MarkSubmitted(ctx, attemptID, func(current domain.Attempt) domain.Submission {
		return grade(current, now, auto)
	})
	if err != nil {
		return domain.Attempt{}, err
	}

	final, err := e.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if applied {
		e.opts.log.Info("attempt submitted",
			"attempt_id", attemptID, "exam_id", final.ExamID, "student_id", final.StudentID,
			"auto", auto, "score", final.Score, "correct", final.CorrectCount)
		if e.recorder != nil {
			e.recorder.Record(ctx, final)
		}
	}
	return final, nil
}

// grade scores the answers recorded up to the deadline.
func grade(attempt domain.Attempt, now time.Time, auto bool) domain.Submission {
	res := Score(attempt.Questions, attempt.AnswersUntil(attempt.Deadline))
	return domain.Submission{
		SubmittedAt:    now,
		AutoSubmitted:  auto,
		Score:          res.Score,
		MaxScore:       res.MaxScore,
		CorrectCount:   res.CorrectCount,
		TotalQuestions: res.TotalQuestions,
	}
}

// validateAnswers checks a submitted answer map against the snapshot before anything is written.
func validateAnswers(attempt domain.Attempt, answers map[string]string) error {
	var fields []domain.FieldError
	for questionID, optionID := range answers {
		q, ok := attempt.Question(questionID)
		switch {
		case !ok:
			fields = append(fields, domain.FieldError{Field: "answers." + questionID, Message: "unknown question"})
		case !q.HasOption(optionID):
			fields = append(fields, domain.FieldError{Field: "answers." + questionID, Message: "option " + optionID + " is not part of the question"})
		}
	}
	if len(fields) == 0 {
		return nil
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return domain.NewValidationError(fields...)
}

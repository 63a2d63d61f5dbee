package app

import (
	"context"
	"strings"

	"cbt-exam-service/internal/domain"
)

// QuestionBank owns exam metadata and the authored question set.
type QuestionBank struct {
	exams     ExamStore
	questions QuestionStore
	attempts  AttemptStore
	cache     ExamRepository
	opts      options
}

func NewQuestionBank(store Store, cache ExamRepository, opts ...Option) *QuestionBank {
	return &QuestionBank{
		exams:     store,
		questions: store,
		attempts:  store,
		cache:     cache,
		opts:      newOptions(opts),
	}
}

// CreateExam validates and stores a new exam owned by the actor.
func (b *QuestionBank) CreateExam(ctx context.Context, actor domain.Actor, in ExamInput) (domain.Exam, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := validateStruct(in); err != nil {
		return domain.Exam{}, err
	}
	if err := validateWindow(in.StartDate, in.EndDate); err != nil {
		return domain.Exam{}, err
	}

	now := b.opts.clock()
	exam := domain.Exam{
		ID:              b.opts.newID(),
		Title:           in.Title,
		Description:     in.Description,
		ClassID:         in.ClassID,
		SubjectID:       in.SubjectID,
		SubjectName:     in.SubjectName,
		Category:        in.Category,
		TotalMarks:      in.TotalMarks,
		DurationMinutes: in.DurationMinutes,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
		Published:       in.Published,
		CreatedBy:       actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := b.exams.CreateExam(ctx, exam); err != nil {
		return domain.Exam{}, err
	}
	return exam, nil
}

func (b *QuestionBank) GetExam(ctx context.Context, examID string) (domain.Exam, error) {
	return b.exams.GetExam(ctx, examID)
}

// UpdateExam applies a patch. Structural fields are rejected once any attempt exists.
func (b *QuestionBank) UpdateExam(ctx context.Context, actor domain.Actor, examID string, patch ExamPatch) (domain.Exam, error) {
	if err := validateStruct(patch); err != nil {
		return domain.Exam{}, err
	}
	exam, err := b.editableExam(ctx, actor, examID)
	if err != nil {
		return domain.Exam{}, err
	}
	if patch.structural() {
		n, err := b.attempts.CountAttempts(ctx, examID)
		if err != nil {
			return domain.Exam{}, err
		}
		if n > 0 {
			return domain.Exam{}, domain.ErrExamLocked
		}
	}

	if patch.Title != nil {
		exam.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		exam.Description = *patch.Description
	}
	if patch.Published != nil {
		exam.Published = *patch.Published
	}
	if patch.ClearStartDate {
		exam.StartDate = nil
	} else if patch.StartDate != nil {
		exam.StartDate = patch.StartDate
	}
	if patch.ClearEndDate {
		exam.EndDate = nil
	} else if patch.EndDate != nil {
		exam.EndDate = patch.EndDate
	}
	if patch.ClassID != nil {
		exam.ClassID = *patch.ClassID
	}
	if patch.SubjectID != nil {
		exam.SubjectID = *patch.SubjectID
	}
	if patch.SubjectName != nil {
		exam.SubjectName = *patch.SubjectName
	}
	if patch.Category != nil {
		exam.Category = *patch.Category
	}
	if patch.TotalMarks != nil {
		exam.TotalMarks = *patch.TotalMarks
	}
	if patch.DurationMinutes != nil {
		exam.DurationMinutes = *patch.DurationMinutes
	}
	if err := validateWindow(exam.StartDate, exam.EndDate); err != nil {
		return domain.Exam{}, err
	}
	exam.UpdatedAt = b.opts.clock()

	if err := b.exams.UpdateExam(ctx, exam, patch.structural()); err != nil {
		return domain.Exam{}, err
	}
	b.invalidate(ctx, examID)
	return exam, nil
}

// DeleteExam removes an exam, its questions and its attempts. It is irreversible,
// so callers must pass confirm.
func (b *QuestionBank) DeleteExam(ctx context.Context, actor domain.Actor, examID string, confirm bool) error {
	if _, err := b.editableExam(ctx, actor, examID); err != nil {
		return err
	}
	if !confirm {
		return domain.ErrConfirmationRequired
	}
	if err := b.exams.DeleteExam(ctx, examID); err != nil {
		return err
	}
	b.opts.log.Info("exam deleted", "exam_id", examID, "actor", actor.ID)
	b.invalidate(ctx, examID)
	return nil
}

// AddQuestion appends a validated question to the exam.
func (b *QuestionBank) AddQuestion(ctx context.Context, actor domain.Actor, examID string, in QuestionInput) (domain.Question, error) {
	in.normalize()
	if err := validateStruct(in); err != nil {
		return domain.Question{}, err
	}
	opts, err := in.options()
	if err != nil {
		return domain.Question{}, err
	}
	if _, err := b.editableExam(ctx, actor, examID); err != nil {
		return domain.Question{}, err
	}

	q, err := b.questions.AddQuestion(ctx, domain.Question{
		ID:              b.opts.newID(),
		ExamID:          examID,
		Text:            in.Text,
		Options:         opts,
		CorrectOptionID: in.CorrectOptionID,
		Points:          in.Points,
		CreatedAt:       b.opts.clock(),
	})
	if err != nil {
		return domain.Question{}, err
	}
	b.invalidate(ctx, examID)
	return q, nil
}

// UpdateQuestion replaces a question's content. Attempts already started keep their snapshot.
func (b *QuestionBank) UpdateQuestion(ctx context.Context, actor domain.Actor, questionID string, in QuestionInput) (domain.Question, error) {
	in.normalize()
	if err := validateStruct(in); err != nil {
		return domain.Question{}, err
	}
	opts, err := in.options()
	if err != nil {
		return domain.Question{}, err
	}
	q, err := b.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return domain.Question{}, err
	}
	if _, err := b.editableExam(ctx, actor, q.ExamID); err != nil {
		return domain.Question{}, err
	}

	q.Text = in.Text
	q.Options = opts
	q.CorrectOptionID = in.CorrectOptionID
	q.Points = in.Points
	if err := b.questions.UpdateQuestion(ctx, q); err != nil {
		return domain.Question{}, err
	}
	b.invalidate(ctx, q.ExamID)
	return q, nil
}

// ListQuestions returns the exam's questions in authoring order.
func (b *QuestionBank) ListQuestions(ctx context.Context, examID string) ([]domain.Question, error) {
	if _, err := b.exams.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	return b.questions.ListQuestions(ctx, examID)
}

// RemoveQuestion deletes a question from the bank. Snapshots taken earlier are unaffected.
func (b *QuestionBank) RemoveQuestion(ctx context.Context, actor domain.Actor, questionID string) error {
	q, err := b.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	if _, err := b.editableExam(ctx, actor, q.ExamID); err != nil {
		return err
	}
	if err := b.questions.RemoveQuestion(ctx, questionID); err != nil {
		return err
	}
	b.invalidate(ctx, q.ExamID)
	return nil
}

// OwnedExam returns the exam when the actor created it or is an administrator. Results,
// exports and grade-book imports are gated on it the same way edits are.
func (b *QuestionBank) OwnedExam(ctx context.Context, actor domain.Actor, examID string) (domain.Exam, error) {
	return b.editableExam(ctx, actor, examID)
}

func (b *QuestionBank) editableExam(ctx context.Context, actor domain.Actor, examID string) (domain.Exam, error) {
	exam, err := b.exams.GetExam(ctx, examID)
	if err != nil {
		return domain.Exam{}, err
	}
	if !actor.CanEdit(exam) {
		return domain.Exam{}, domain.ErrNotOwner
	}
	return exam, nil
}

// invalidate drops the cached bundle. Failures are logged; the entry still expires with its TTL.
func (b *QuestionBank) invalidate(ctx context.Context, examID string) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Invalidate(ctx, examID); err != nil {
		b.opts.log.Warn("exam cache invalidation failed", "exam_id", examID, "error", err)
	}
}

package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cbt-exam-service/internal/app"
	"cbt-exam-service/internal/domain"
	"cbt-exam-service/internal/infra/memory"
)

func TestCreateExamValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.bank.CreateExam(ctx, author, app.ExamInput{
		Title:           "  ",
		ClassID:         "jss1",
		SubjectID:       "math",
		Category:        "quiz",
		TotalMarks:      10,
		DurationMinutes: 0,
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("validation error must wrap ErrValidation")
	}
	fields := map[string]bool{}
	for _, fe := range verr.Fields {
		fields[fe.Field] = true
	}
	for _, want := range []string{"title", "examType", "durationMinutes"} {
		if !fields[want] {
			t.Fatalf("missing field %q in %+v", want, verr.Fields)
		}
	}
}

func TestCreateExamRejectsInvertedWindow(t *testing.T) {
	f := newFixture(t)
	start := f.clock.Now()
	end := start.Add(-1)
	_, err := f.bank.CreateExam(context.Background(), author, app.ExamInput{
		Title: "x", ClassID: "jss1", SubjectID: "math", Category: domain.CategoryExamination,
		TotalMarks: 10, DurationMinutes: 10, StartDate: &start, EndDate: &end,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddQuestionValidation(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.createExam(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		in   app.QuestionInput
	}{
		{"single option", app.QuestionInput{Text: "q", Options: labeled("A"), CorrectOptionID: "a", Points: 1}},
		{"key outside options", app.QuestionInput{Text: "q", Options: labeled("A", "B"), CorrectOptionID: "c", Points: 1}},
		{"blank text", app.QuestionInput{Text: " ", Options: labeled("A", "B"), CorrectOptionID: "a", Points: 1}},
		{"points below minimum", app.QuestionInput{Text: "q", Options: labeled("A", "B"), CorrectOptionID: "a", Points: 0.25}},
		{"empty option text", app.QuestionInput{Text: "q", Options: labeled("A", ""), CorrectOptionID: "a", Points: 1}},
		{"duplicate ids", app.QuestionInput{Text: "q", Options: []app.OptionInput{{ID: "x", Text: "A"}, {ID: "x", Text: "B"}}, CorrectOptionID: "x", Points: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.bank.AddQuestion(ctx, author, exam.ID, tt.in); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	qs, err := f.bank.ListQuestions(ctx, exam.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(qs) != 4 {
		t.Fatalf("rejected questions must not be stored, have %d", len(qs))
	}
}

func TestAddQuestionAssignsLabelsAndPositions(t *testing.T) {
	f := newFixture(t)
	_, qs := f.createExam(t, nil)
	for i, q := range qs {
		if q.Position != i+1 {
			t.Fatalf("question %d has position %d", i, q.Position)
		}
		if len(q.Options) != 4 || q.Options[0].ID != "a" || q.Options[3].ID != "d" {
			t.Fatalf("unexpected option ids: %+v", q.Options)
		}
	}
}

func TestQuestionBankOwnership(t *testing.T) {
	f := newFixture(t)
	exam, qs := f.createExam(t, nil)
	ctx := context.Background()
	other := domain.Actor{ID: "teacher-2"}

	if _, err := f.bank.UpdateExam(ctx, other, exam.ID, app.ExamPatch{Title: ptr("mine now")}); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := f.bank.RemoveQuestion(ctx, other, qs[0].ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	admin := domain.Actor{ID: "head", Admin: true}
	updated, err := f.bank.UpdateExam(ctx, admin, exam.ID, app.ExamPatch{Title: ptr("Renamed")})
	if err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if updated.Title != "Renamed" || updated.CreatedBy != author.ID {
		t.Fatalf("unexpected exam after admin update: %+v", updated)
	}
}

func TestStructuralFieldsLockOnceAttemptsExist(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.createExam(t, nil)
	ctx := context.Background()

	if _, err := f.bank.UpdateExam(ctx, author, exam.ID, app.ExamPatch{DurationMinutes: ptr(45)}); err != nil {
		t.Fatalf("update before attempts: %v", err)
	}
	f.start(t, "stu-1", exam.ID)

	if _, err := f.bank.UpdateExam(ctx, author, exam.ID, app.ExamPatch{DurationMinutes: ptr(60)}); !errors.Is(err, domain.ErrExamLocked) {
		t.Fatalf("expected ErrExamLocked, got %v", err)
	}
	if _, err := f.bank.UpdateExam(ctx, author, exam.ID, app.ExamPatch{Title: ptr("Still editable")}); err != nil {
		t.Fatalf("cosmetic update after attempts: %v", err)
	}
}

// attemptDuringEdit creates an attempt just before the exam row is written, the way a
// concurrent Start can land between the lock check and the update.
type attemptDuringEdit struct {
	*memory.Store
	attempt domain.Attempt
}

func (s *attemptDuringEdit) UpdateExam(ctx context.Context, exam domain.Exam, structural bool) error {
	if err := s.CreateAttempt(ctx, s.attempt); err != nil {
		return err
	}
	return s.Store.UpdateExam(ctx, exam, structural)
}

func TestStructuralLockHoldsAgainstConcurrentStart(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.createExam(t, nil)
	ctx := context.Background()

	store := &attemptDuringEdit{Store: f.store, attempt: domain.Attempt{
		ID: "att-race", ExamID: exam.ID, StudentID: "stu-1", ClassID: "jss1",
		Status: domain.StatusInProgress, StartedAt: f.clock.Now(), Deadline: f.clock.Now().Add(time.Hour),
	}}
	bank := app.NewQuestionBank(store, nil, app.WithClock(f.clock.Now))

	category := domain.CategoryExamination
	if _, err := bank.UpdateExam(ctx, author, exam.ID, app.ExamPatch{Category: &category}); !errors.Is(err, domain.ErrExamLocked) {
		t.Fatalf("expected ErrExamLocked, got %v", err)
	}
	stored, err := f.store.GetExam(ctx, exam.ID)
	if err != nil {
		t.Fatalf("get exam: %v", err)
	}
	if stored.Category != domain.CategoryFirstTest {
		t.Fatalf("category changed under an attempt: %s", stored.Category)
	}
}

func TestRemoveMissingQuestion(t *testing.T) {
	f := newFixture(t)
	f.createExam(t, nil)

	err := f.bank.RemoveQuestion(context.Background(), author, "no-such-question")
	if !errors.Is(err, domain.ErrQuestionNotFound) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
}

func TestDeleteExamRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.createExam(t, nil)
	ctx := context.Background()
	f.start(t, "stu-1", exam.ID)

	if err := f.bank.DeleteExam(ctx, author, exam.ID, false); !errors.Is(err, domain.ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	if _, err := f.bank.GetExam(ctx, exam.ID); err != nil {
		t.Fatalf("unconfirmed delete removed the exam: %v", err)
	}
	if err := f.bank.DeleteExam(ctx, author, exam.ID, true); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.bank.GetExam(ctx, exam.ID); !errors.Is(err, domain.ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound after delete, got %v", err)
	}
	if _, err := f.store.FindAttempt(ctx, exam.ID, "stu-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("attempts must be removed with the exam, got %v", err)
	}
}

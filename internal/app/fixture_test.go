package app_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cbt-exam-service/internal/app"
	"cbt-exam-service/internal/domain"
	"cbt-exam-service/internal/infra/memory"
)

var author = domain.Actor{ID: "teacher-1"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingRecorder counts effective submissions before handing them to the ledger.
type countingRecorder struct {
	next  app.ResultRecorder
	calls atomic.Int32
}

func (r *countingRecorder) Record(ctx context.Context, a domain.Attempt) {
	r.calls.Add(1)
	r.next.Record(ctx, a)
}

type fixture struct {
	clock    *fakeClock
	store    *memory.Store
	roster   *memory.Roster
	record   *memory.AcademicRecord
	bank     *app.QuestionBank
	catalog  *app.ExamCatalog
	engine   *app.SessionEngine
	ledger   *app.ResultLedger
	recorder *countingRecorder
}

func newFixture(t *testing.T, extra ...app.Option) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	cache := memory.NewExamCache(store, time.Minute)
	roster := memory.NewRoster(
		domain.Student{ID: "stu-1", Name: "Ada Obi", AdmissionNumber: "ADM/001", ClassID: "jss1"},
		domain.Student{ID: "stu-2", Name: "Bola, Ade", AdmissionNumber: "ADM/002", ClassID: "jss1"},
		domain.Student{ID: "stu-3", Name: "Chidi \"CJ\" Eze", AdmissionNumber: "ADM/003", ClassID: "jss1"},
		domain.Student{ID: "stu-9", Name: "Other Class", AdmissionNumber: "ADM/009", ClassID: "jss2"},
	)
	record := memory.NewAcademicRecord()

	opts := append([]app.Option{app.WithClock(clock.Now), app.WithShuffler(app.NoShuffle)}, extra...)
	bank := app.NewQuestionBank(store, cache, opts...)
	catalog := app.NewExamCatalog(store, cache, store, roster, opts...)
	ledger := app.NewResultLedger(store, store, roster, record, opts...)
	recorder := &countingRecorder{next: ledger}
	engine := app.NewSessionEngine(catalog, cache, store, recorder, opts...)

	return &fixture{
		clock:    clock,
		store:    store,
		roster:   roster,
		record:   record,
		bank:     bank,
		catalog:  catalog,
		engine:   engine,
		ledger:   ledger,
		recorder: recorder,
	}
}

func labeled(texts ...string) []app.OptionInput {
	opts := make([]app.OptionInput, 0, len(texts))
	for _, t := range texts {
		opts = append(opts, app.OptionInput{Text: t})
	}
	return opts
}

// createExam adds a published exam with four 1-point questions keyed a, b, c, d.
func (f *fixture) createExam(t *testing.T, mutate func(*app.ExamInput)) (domain.Exam, []domain.Question) {
	t.Helper()
	ctx := context.Background()
	in := app.ExamInput{
		Title:           "First test",
		ClassID:         "jss1",
		SubjectID:       "math",
		SubjectName:     "Mathematics",
		Category:        domain.CategoryFirstTest,
		TotalMarks:      4,
		DurationMinutes: 30,
		Published:       true,
	}
	if mutate != nil {
		mutate(&in)
	}
	exam, err := f.bank.CreateExam(ctx, author, in)
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	var qs []domain.Question
	for _, key := range []string{"a", "b", "c", "d"} {
		q, err := f.bank.AddQuestion(ctx, author, exam.ID, app.QuestionInput{
			Text:            "Question " + key,
			Options:         labeled("A", "B", "C", "D"),
			CorrectOptionID: key,
			Points:          1,
		})
		if err != nil {
			t.Fatalf("add question: %v", err)
		}
		qs = append(qs, q)
	}
	return exam, qs
}

func (f *fixture) start(t *testing.T, studentID, examID string) app.StartResult {
	t.Helper()
	res, err := f.engine.Start(context.Background(), studentID, examID)
	if err != nil {
		t.Fatalf("start %s: %v", studentID, err)
	}
	return res
}

func ptr[T any](v T) *T { return &v }

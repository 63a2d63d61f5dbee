package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun/migrate"

	"cbt-exam-service/internal/app"
	"cbt-exam-service/internal/domain"
	"cbt-exam-service/internal/infra/postgres"
	pgmigrations "cbt-exam-service/internal/infra/postgres/migrations"
	infraredis "cbt-exam-service/internal/infra/redis"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestExamLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := postgres.OpenDB(pgURL)
	defer db.Close()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	store := postgres.NewStore(db)
	roster := postgres.NewRoster(db)
	records := postgres.NewAcademicRecord(db)
	cache := infraredis.NewExamCache(redisClient, postgres.NewExamLoader(pool), 5*time.Minute)

	for i, name := range []string{"Ada Obi", "Bola, Ade", "Chidi Eze"} {
		id := fmt.Sprintf("stu-%d", i+1)
		if err := roster.Enroll(ctx, domain.Student{ID: id, Name: name, AdmissionNumber: "ADM/" + id, ClassID: "jss1"}); err != nil {
			t.Fatalf("enroll: %v", err)
		}
	}
	for _, id := range []string{"stu-1", "stu-2"} {
		if err := records.AddTarget(ctx, id, "jss1", "math"); err != nil {
			t.Fatalf("add target: %v", err)
		}
	}

	clock := &stepClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	opts := []app.Option{app.WithClock(clock.Now)}
	bank := app.NewQuestionBank(store, cache, opts...)
	catalog := app.NewExamCatalog(store, cache, store, roster, opts...)
	ledger := app.NewResultLedger(store, store, roster, records, opts...)
	engine := app.NewSessionEngine(catalog, cache, store, ledger, opts...)

	author := domain.Actor{ID: "teacher-1"}
	exam, err := bank.CreateExam(ctx, author, app.ExamInput{
		Title: "First test", ClassID: "jss1", SubjectID: "math", SubjectName: "Mathematics",
		Category: domain.CategoryFirstTest, TotalMarks: 4, DurationMinutes: 30, Published: true,
	})
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	var questions []domain.Question
	for _, key := range []string{"a", "b", "c", "d"} {
		q, err := bank.AddQuestion(ctx, author, exam.ID, app.QuestionInput{
			Text:            "Question " + key,
			Options:         []app.OptionInput{{Text: "A"}, {Text: "B"}, {Text: "C"}, {Text: "D"}},
			CorrectOptionID: key,
			Points:          1,
		})
		if err != nil {
			t.Fatalf("add question: %v", err)
		}
		if q.Position != len(questions)+1 {
			t.Fatalf("position = %d", q.Position)
		}
		questions = append(questions, q)
	}

	// Concurrent starts for one student converge on a single attempt.
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.Start(ctx, "stu-1", exam.ID)
			if err != nil {
				t.Errorf("start: %v", err)
				return
			}
			ids[i] = res.Attempt.ID
		}()
	}
	wg.Wait()
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent starts produced %v", ids)
		}
	}
	if n, err := store.CountAttempts(ctx, exam.ID); err != nil || n != 1 {
		t.Fatalf("count attempts = %d, %v", n, err)
	}

	// Two answers right, one wrong, one blank.
	first := ids[0]
	for i, opt := range []string{"a", "b", "a"} {
		if err := engine.RecordAnswer(ctx, first, "stu-1", questions[i].ID, opt); err != nil {
			t.Fatalf("answer: %v", err)
		}
	}
	if flagged, err := engine.ToggleFlag(ctx, first, "stu-1", questions[3].ID); err != nil || !flagged {
		t.Fatalf("flag: %v %v", flagged, err)
	}

	// Editing the bank after start leaves the snapshot alone.
	if _, err := bank.UpdateQuestion(ctx, author, questions[0].ID, app.QuestionInput{
		Text: "Rewritten", Options: []app.OptionInput{{Text: "A"}, {Text: "B"}}, CorrectOptionID: "b", Points: 3,
	}); err != nil {
		t.Fatalf("update question: %v", err)
	}
	if _, err := bank.UpdateExam(ctx, author, exam.ID, app.ExamPatch{DurationMinutes: ptr(10)}); !errors.Is(err, domain.ErrExamLocked) {
		t.Fatalf("expected ErrExamLocked, got %v", err)
	}

	results, cancel := ledger.Subscribe(exam.ID)
	defer cancel()

	var submits sync.WaitGroup
	outcomes := make([]domain.SubmitOutcome, 4)
	for i := range outcomes {
		submits.Add(1)
		go func() {
			defer submits.Done()
			out, err := engine.Submit(ctx, first, "stu-1", nil, false)
			if err != nil {
				t.Errorf("submit: %v", err)
			}
			outcomes[i] = out
		}()
	}
	submits.Wait()
	for _, out := range outcomes {
		if out.Score != 2 || out.CorrectAnswers != 2 || out.TotalQuestions != 4 {
			t.Fatalf("outcome = %+v", out)
		}
	}
	select {
	case res := <-results:
		if res.StudentName != "Ada Obi" || res.Percentage != 50 {
			t.Fatalf("broadcast = %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no result broadcast")
	}
	select {
	case res := <-results:
		t.Fatalf("submission recorded twice: %+v", res)
	default:
	}

	// stu-2 runs out of time; the late answer is rejected and the attempt auto-submits.
	second, err := engine.Start(ctx, "stu-2", exam.ID)
	if err != nil {
		t.Fatalf("start stu-2: %v", err)
	}
	q0, ok := second.Attempt.Question(questions[0].ID)
	if !ok || q0.Text != "Rewritten" || q0.Points != 3 {
		t.Fatalf("new attempt must see the edited bank: %+v", q0)
	}
	if err := engine.RecordAnswer(ctx, second.Attempt.ID, "stu-2", q0.QuestionID, q0.CorrectOptionID); err != nil {
		t.Fatalf("answer stu-2: %v", err)
	}
	clock.Advance(31 * time.Minute)
	var late *domain.DeadlineExceededError
	if err := engine.RecordAnswer(ctx, second.Attempt.ID, "stu-2", questions[1].ID, "b"); !errors.As(err, &late) {
		t.Fatalf("expected DeadlineExceededError, got %v", err)
	}
	if late.Result.Score != 3 || !late.Result.AutoSubmitted {
		t.Fatalf("late result = %+v", late.Result)
	}

	// stu-3 has no report-card row.
	clock.Advance(-31 * time.Minute)
	third, err := engine.Start(ctx, "stu-3", exam.ID)
	if err != nil {
		t.Fatalf("start stu-3: %v", err)
	}
	if _, err := engine.Submit(ctx, third.Attempt.ID, "stu-3", map[string]string{third.Attempt.Questions[0].QuestionID: third.Attempt.Questions[0].CorrectOptionID}, false); err != nil {
		t.Fatalf("submit stu-3: %v", err)
	}

	listed, err := ledger.ListResults(ctx, exam.ID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("results = %+v", listed)
	}
	if mismatches, err := ledger.VerifyScores(ctx, exam.ID); err != nil || len(mismatches) != 0 {
		t.Fatalf("verify = %+v, %v", mismatches, err)
	}

	for run := 0; run < 2; run++ {
		report, err := ledger.ImportToAcademicRecord(ctx, exam.ID)
		if err != nil {
			t.Fatalf("import: %v", err)
		}
		if report.UpdatedCount != 2 || len(report.Skipped) != 1 || report.Skipped[0].StudentID != "stu-3" {
			t.Fatalf("import run %d: %+v", run, report)
		}
		if report.Skipped[0].Reason != domain.ErrNoRecordTarget.Error() {
			t.Fatalf("skip reason = %q", report.Skipped[0].Reason)
		}
	}
	for id, want := range map[string]float64{"stu-1": 2, "stu-2": 3} {
		got, ok, err := records.Score(ctx, id, "jss1", "math", domain.CategoryFirstTest)
		if err != nil || !ok || got != want {
			t.Fatalf("%s first_test = %v %v %v, want %v", id, got, ok, err, want)
		}
	}

	if err := bank.DeleteExam(ctx, author, exam.ID, true); err != nil {
		t.Fatalf("delete exam: %v", err)
	}
	if _, err := cache.GetExamBundle(ctx, exam.ID); !errors.Is(err, domain.ErrExamNotFound) {
		t.Fatalf("deleted exam still served: %v", err)
	}
	if _, err := store.GetAttempt(ctx, first); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("attempts must cascade: %v", err)
	}
}

func ptr[T any](v T) *T { return &v }

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "cbt", "POSTGRES_PASSWORD": "cbtpass", "POSTGRES_DB": "cbt"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://cbt:cbtpass@%s:%s/cbt?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}

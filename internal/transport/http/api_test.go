package http

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cbt-exam-service/internal/app"
	"cbt-exam-service/internal/domain"
	"cbt-exam-service/internal/infra/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	server *httptest.Server
	clock  *testClock
	record *memory.AcademicRecord
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	cache := memory.NewExamCache(store, time.Minute)
	roster := memory.NewRoster(
		domain.Student{ID: "stu-1", Name: "Ada Obi", AdmissionNumber: "ADM/001", ClassID: "jss1"},
		domain.Student{ID: "stu-2", Name: "Bola Ade", AdmissionNumber: "ADM/002", ClassID: "jss1"},
	)
	record := memory.NewAcademicRecord()
	opts := []app.Option{app.WithClock(clock.Now), app.WithShuffler(app.NoShuffle)}

	bank := app.NewQuestionBank(store, cache, opts...)
	catalog := app.NewExamCatalog(store, cache, store, roster, opts...)
	ledger := app.NewResultLedger(store, store, roster, record, opts...)
	engine := app.NewSessionEngine(catalog, cache, store, ledger, opts...)

	api := NewAPI(bank, catalog, engine, ledger)
	ws := NewWSHandler(bank, engine, ledger, 20*time.Millisecond)
	server := httptest.NewServer(NewRouter(api, ws))
	t.Cleanup(server.Close)
	return &testEnv{server: server, clock: clock, record: record}
}

func (e *testEnv) do(t *testing.T, method, path, user, role string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if user != "" {
		req.Header.Set(headerUserID, user)
	}
	if role != "" {
		req.Header.Set(headerUserRole, role)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

// seedExam creates a published 4-question exam (1 point each, keys q1:a q2:b q3:c q4:d).
func (e *testEnv) seedExam(t *testing.T, start *time.Time) (examID string, questionIDs []string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/exams", "teacher-1", "teacher", map[string]any{
		"title":           "First test",
		"classId":         "jss1",
		"subjectId":       "math",
		"subject":         "Mathematics",
		"examType":        "first_test",
		"totalMarks":      10,
		"durationMinutes": 30,
		"isPublished":     true,
		"startDate":       start,
	})
	expectStatus(t, resp, http.StatusCreated)
	exam := decode[domain.Exam](t, resp)

	for i, key := range []string{"a", "b", "c", "d"} {
		resp := e.do(t, http.MethodPost, "/api/exams/"+exam.ID+"/questions", "teacher-1", "teacher", map[string]any{
			"text":            "Question " + key,
			"options":         []map[string]string{{"text": "A"}, {"text": "B"}, {"text": "C"}, {"text": "D"}},
			"correctOptionId": key,
			"points":          1,
		})
		expectStatus(t, resp, http.StatusCreated)
		q := decode[domain.Question](t, resp)
		if q.Position != i+1 {
			t.Fatalf("question %s position %d", key, q.Position)
		}
		questionIDs = append(questionIDs, q.ID)
	}
	return exam.ID, questionIDs
}

func TestAttemptFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	examID, qids := env.seedExam(t, nil)

	resp := env.do(t, http.MethodPost, "/api/exams/"+examID+"/attempts", "stu-1", "student", nil)
	expectStatus(t, resp, http.StatusCreated)
	raw, _ := io.ReadAll(resp.Body)
	if bytes.Contains(raw, []byte("correctOptionId")) {
		t.Fatalf("start payload leaked answer keys: %s", raw)
	}
	var view domain.AttemptView
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if len(view.Questions) != 4 || view.RemainingSeconds != 30*60 {
		t.Fatalf("unexpected view: %+v", view)
	}

	// q1 and q2 correct, q3 wrong, q4 unanswered.
	for i, opt := range []string{"a", "b", "a"} {
		resp := env.do(t, http.MethodPut, "/api/attempts/"+view.AttemptID+"/answers/"+qids[i], "stu-1", "student", map[string]string{"optionId": opt})
		expectStatus(t, resp, http.StatusNoContent)
	}

	resp = env.do(t, http.MethodPost, "/api/attempts/"+view.AttemptID+"/flags/"+qids[3], "stu-1", "student", nil)
	expectStatus(t, resp, http.StatusOK)

	resp = env.do(t, http.MethodPost, "/api/attempts/"+view.AttemptID+"/submit", "stu-1", "student", map[string]any{"attemptId": view.AttemptID})
	expectStatus(t, resp, http.StatusOK)
	outcome := decode[domain.SubmitOutcome](t, resp)
	if outcome.Score != 2 || outcome.CorrectAnswers != 2 || outcome.TotalQuestions != 4 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	// Resubmitting returns the stored outcome.
	resp = env.do(t, http.MethodPost, "/api/attempts/"+view.AttemptID+"/submit", "stu-1", "student", nil)
	expectStatus(t, resp, http.StatusOK)
	if again := decode[domain.SubmitOutcome](t, resp); again.Score != 2 || again.CorrectAnswers != 2 {
		t.Fatalf("resubmit changed outcome: %+v", again)
	}

	resp = env.do(t, http.MethodGet, "/api/exams/"+examID+"/results.csv", "teacher-1", "teacher", nil)
	expectStatus(t, resp, http.StatusOK)
	rows, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 || strings.Join(rows[0], ",") != strings.Join(app.CSVHeader, ",") {
		t.Fatalf("unexpected csv: %v", rows)
	}
	if rows[1][0] != "Ada Obi" || rows[1][4] != "50.00" || rows[1][5] != "2/4" {
		t.Fatalf("unexpected csv row: %v", rows[1])
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	future := env.clock.Now().Add(time.Hour)
	examID, _ := env.seedExam(t, &future)

	t.Run("not yet open", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/exams/"+examID+"/eligibility", "stu-1", "student", nil)
		expectStatus(t, resp, http.StatusOK)
		el := decode[map[string]any](t, resp)
		if el["reason"] != "not_yet_open" || el["canStart"] != false {
			t.Fatalf("unexpected eligibility: %v", el)
		}
		resp = env.do(t, http.MethodPost, "/api/exams/"+examID+"/attempts", "stu-1", "student", nil)
		expectStatus(t, resp, http.StatusConflict)
	})

	t.Run("validation", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/exams/"+examID+"/questions", "teacher-1", "teacher", map[string]any{
			"text":            "Pick one",
			"options":         []map[string]string{{"text": "A"}, {"text": ""}},
			"correctOptionId": "z",
			"points":          0,
		})
		expectStatus(t, resp, http.StatusUnprocessableEntity)
		body := decode[errorBody](t, resp)
		if len(body.Fields) == 0 {
			t.Fatalf("expected field errors, got %+v", body)
		}
	})

	t.Run("not found", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/exams/missing", "teacher-1", "teacher", nil)
		expectStatus(t, resp, http.StatusNotFound)
	})

	t.Run("forbidden for other teacher", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, "/api/exams/"+examID+"?confirm=true", "teacher-2", "teacher", nil)
		expectStatus(t, resp, http.StatusForbidden)
	})

	t.Run("students cannot read answer keys", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/exams/"+examID+"/questions", "stu-1", "student", nil)
		expectStatus(t, resp, http.StatusForbidden)
	})

	t.Run("missing identity", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/classes/jss1/exams", "", "", nil)
		expectStatus(t, resp, http.StatusUnauthorized)
	})

	t.Run("delete needs confirmation", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, "/api/exams/"+examID, "teacher-1", "teacher", nil)
		expectStatus(t, resp, http.StatusConflict)
	})
}

func TestLateAnswerReportsTimeUp(t *testing.T) {
	env := newTestEnv(t)
	examID, qids := env.seedExam(t, nil)

	resp := env.do(t, http.MethodPost, "/api/exams/"+examID+"/attempts", "stu-1", "student", nil)
	expectStatus(t, resp, http.StatusCreated)
	view := decode[domain.AttemptView](t, resp)

	resp = env.do(t, http.MethodPut, "/api/attempts/"+view.AttemptID+"/answers/"+qids[0], "stu-1", "student", map[string]string{"optionId": "a"})
	expectStatus(t, resp, http.StatusNoContent)

	env.clock.Advance(31 * time.Minute)
	resp = env.do(t, http.MethodPut, "/api/attempts/"+view.AttemptID+"/answers/"+qids[1], "stu-1", "student", map[string]string{"optionId": "b"})
	expectStatus(t, resp, http.StatusOK)
	body := decode[timeUp](t, resp)
	if body.Status != "time_up" || !body.Result.AutoSubmitted || body.Result.Score != 1 {
		t.Fatalf("unexpected time_up body: %+v", body)
	}

	resp = env.do(t, http.MethodGet, "/api/classes/jss1/exams", "stu-1", "student", nil)
	expectStatus(t, resp, http.StatusOK)
	listings := decode[[]app.ExamListing](t, resp)
	if len(listings) != 1 || listings[0].Status != app.ListingCompleted || listings[0].PreviousResult == nil {
		t.Fatalf("unexpected listings: %+v", listings)
	}
}

func TestImportEndpoint(t *testing.T) {
	env := newTestEnv(t)
	examID, _ := env.seedExam(t, nil)
	env.record.AddTarget("stu-1", "jss1", "math")

	for _, sid := range []string{"stu-1", "stu-2"} {
		resp := env.do(t, http.MethodPost, "/api/exams/"+examID+"/attempts", sid, "student", nil)
		expectStatus(t, resp, http.StatusCreated)
		view := decode[domain.AttemptView](t, resp)
		resp = env.do(t, http.MethodPost, "/api/attempts/"+view.AttemptID+"/submit", sid, "student", nil)
		expectStatus(t, resp, http.StatusOK)
	}

	resp := env.do(t, http.MethodPost, "/api/exams/"+examID+"/import", "teacher-1", "teacher", nil)
	expectStatus(t, resp, http.StatusOK)
	report := decode[domain.ImportReport](t, resp)
	if report.UpdatedCount != 1 || len(report.Skipped) != 1 || report.Skipped[0].StudentID != "stu-2" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Skipped[0].Reason != "no academic record target" {
		t.Fatalf("unexpected reason %q", report.Skipped[0].Reason)
	}
}

func TestResultEndpointsRequireOwnership(t *testing.T) {
	env := newTestEnv(t)
	examID, _ := env.seedExam(t, nil)
	env.record.AddTarget("stu-1", "jss1", "math")

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/exams/" + examID + "/results"},
		{http.MethodGet, "/api/exams/" + examID + "/results.csv"},
		{http.MethodGet, "/api/exams/" + examID + "/results/verify"},
		{http.MethodPost, "/api/exams/" + examID + "/import"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			resp := env.do(t, rt.method, rt.path, "teacher-2", "teacher", nil)
			expectStatus(t, resp, http.StatusForbidden)
			resp = env.do(t, rt.method, rt.path, "head", "admin", nil)
			expectStatus(t, resp, http.StatusOK)
		})
	}

	header := http.Header{}
	header.Set(headerUserID, "teacher-2")
	header.Set(headerUserRole, "teacher")
	base := "ws" + env.server.URL[len("http"):]
	conn, resp, err := websocket.DefaultDialer.Dial(base+"/ws/exams/"+examID+"/results", header)
	if err == nil {
		conn.Close()
		t.Fatalf("results feed opened for a teacher who does not own the exam")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake, got %v", resp)
	}
}

func TestWebSocketAttemptFlow(t *testing.T) {
	env := newTestEnv(t)
	examID, qids := env.seedExam(t, nil)

	resp := env.do(t, http.MethodPost, "/api/exams/"+examID+"/attempts", "stu-1", "student", nil)
	expectStatus(t, resp, http.StatusCreated)
	view := decode[domain.AttemptView](t, resp)

	u := "ws" + env.server.URL[len("http"):] + "/ws/attempts/" + view.AttemptID + "?studentId=stu-1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readUntil(t, conn, "attempt")
	readUntil(t, conn, "tick")

	if err := conn.WriteJSON(map[string]any{"type": "answer", "payload": map[string]string{"questionId": qids[0], "optionId": "a"}}); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	readUntil(t, conn, "answered")

	if err := conn.WriteJSON(map[string]any{"type": "flag", "payload": map[string]string{"questionId": qids[2]}}); err != nil {
		t.Fatalf("write flag: %v", err)
	}
	flagged := readUntil(t, conn, "flagged")
	if flagged["flagged"] != true {
		t.Fatalf("expected flagged=true, got %v", flagged)
	}

	if err := conn.WriteJSON(map[string]any{"type": "submit", "payload": map[string]any{"answers": map[string]string{qids[1]: "b"}}}); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	result := readUntil(t, conn, "submitted")
	if result["score"] != float64(2) || result["correctAnswers"] != float64(2) {
		t.Fatalf("unexpected submitted payload: %v", result)
	}
}

func TestWebSocketTimeoutSubmits(t *testing.T) {
	env := newTestEnv(t)
	examID, _ := env.seedExam(t, nil)

	resp := env.do(t, http.MethodPost, "/api/exams/"+examID+"/attempts", "stu-1", "student", nil)
	expectStatus(t, resp, http.StatusCreated)
	view := decode[domain.AttemptView](t, resp)

	header := http.Header{}
	header.Set(headerUserID, "teacher-1")
	header.Set(headerUserRole, "teacher")
	base := "ws" + env.server.URL[len("http"):]
	feed, _, err := websocket.DefaultDialer.Dial(base+"/ws/exams/"+examID+"/results", header)
	if err != nil {
		t.Fatalf("dial results: %v", err)
	}
	defer feed.Close()

	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws/attempts/"+view.AttemptID+"?studentId=stu-1", nil)
	if err != nil {
		t.Fatalf("dial attempt: %v", err)
	}
	defer conn.Close()
	readUntil(t, conn, "attempt")

	env.clock.Advance(30 * time.Minute)
	result := readUntil(t, conn, "submitted")
	if result["autoSubmitted"] != true {
		t.Fatalf("expected auto submission, got %v", result)
	}

	live := readUntil(t, feed, "result")
	if live["studentName"] != "Ada Obi" || live["attemptId"] != view.AttemptID {
		t.Fatalf("unexpected live result: %v", live)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var msg struct {
			Type    string         `json:"type"`
			Payload map[string]any `json:"payload"`
		}
		_ = conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if msg.Type == "error" {
			t.Fatalf("waiting for %s: got error %v", want, msg.Payload)
		}
		if msg.Type == want {
			return msg.Payload
		}
	}
}

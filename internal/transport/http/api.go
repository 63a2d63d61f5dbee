package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cbt-exam-service/internal/app"
	"cbt-exam-service/internal/domain"
)

// API exposes the exam engine over JSON.
type API struct {
	bank    *app.QuestionBank
	catalog *app.ExamCatalog
	engine  *app.SessionEngine
	ledger  *app.ResultLedger
}

func NewAPI(bank *app.QuestionBank, catalog *app.ExamCatalog, engine *app.SessionEngine, ledger *app.ResultLedger) *API {
	return &API{bank: bank, catalog: catalog, engine: engine, ledger: ledger}
}

// NewRouter mounts the JSON API, the websocket endpoints and the health check.
func NewRouter(api *API, ws *WSHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api", api.Routes)
	if ws != nil {
		r.Get("/ws/attempts/{attemptID}", ws.ServeAttempt)
		r.Get("/ws/exams/{examID}/results", ws.ServeResults)
	}
	return r
}

// Routes registers the API routes.
func (a *API) Routes(r chi.Router) {
	r.Post("/exams", a.handleCreateExam)
	r.Get("/exams/{examID}", a.handleGetExam)
	r.Patch("/exams/{examID}", a.handleUpdateExam)
	r.Delete("/exams/{examID}", a.handleDeleteExam)
	r.Post("/exams/{examID}/questions", a.handleAddQuestion)
	r.Get("/exams/{examID}/questions", a.handleListQuestions)
	r.Put("/questions/{questionID}", a.handleUpdateQuestion)
	r.Delete("/questions/{questionID}", a.handleRemoveQuestion)

	r.Get("/classes/{classID}/exams", a.handleListAvailable)
	r.Get("/exams/{examID}/eligibility", a.handleEligibility)
	r.Post("/exams/{examID}/attempts", a.handleStart)
	r.Get("/attempts/{attemptID}", a.handleViewAttempt)
	r.Put("/attempts/{attemptID}/answers/{questionID}", a.handleRecordAnswer)
	r.Post("/attempts/{attemptID}/flags/{questionID}", a.handleToggleFlag)
	r.Post("/attempts/{attemptID}/submit", a.handleSubmit)

	r.Get("/exams/{examID}/results", a.handleListResults)
	r.Get("/exams/{examID}/results.csv", a.handleExportCSV)
	r.Get("/exams/{examID}/results/verify", a.handleVerifyScores)
	r.Post("/exams/{examID}/import", a.handleImport)
}

func (a *API) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	who, err := staff(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in app.ExamInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	exam, err := a.bank.CreateExam(r.Context(), who, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, exam)
}

func (a *API) handleGetExam(w http.ResponseWriter, r *http.Request) {
	if _, err := staff(r); err != nil {
		writeError(w, r, err)
		return
	}
	exam, err := a.bank.GetExam(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (a *API) handleUpdateExam(w http.ResponseWriter, r *http.Request) {
	who, err := staff(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var patch app.ExamPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	exam, err := a.bank.UpdateExam(r.Context(), who, chi.URLParam(r, "examID"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (a *API) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	who, err := staff(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	confirm := r.URL.Query().Get("confirm") == "true"
	if err := a.bank.DeleteExam(r.Context(), who, chi.URLParam(r, "examID"), confirm); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	who, err := staff(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in app.QuestionInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := a.bank.AddQuestion(r.Context(), who, chi.URLParam(r, "examID"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// handleListQuestions returns answer keys, so it is staff only.
func (a *API) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	if _, err := staff(r); err != nil {
		writeError(w, r, err)
		return
	}
	qs, err := a.bank.ListQuestions(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (a *API) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	who, err := staff(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in app.QuestionInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := a.bank.UpdateQuestion(r.Context(), who, chi.URLParam(r, "questionID"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (a *API) handleRemoveQuestion(w http.ResponseWriter, r *http.Request) {
	who, err := staff(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.bank.RemoveQuestion(r.Context(), who, chi.URLParam(r, "questionID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListAvailable(w http.ResponseWriter, r *http.Request) {
	sid, err := studentID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	listings, err := a.catalog.ListAvailable(r.Context(), sid, chi.URLParam(r, "classID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

func (a *API) handleEligibility(w http.ResponseWriter, r *http.Request) {
	sid, err := studentID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	el, err := a.catalog.CheckEligibility(r.Context(), sid, chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := struct {
		CanStart  bool                  `json:"canStart"`
		Reason    app.EligibilityReason `json:"reason"`
		AttemptID string                `json:"attemptId,omitempty"`
	}{CanStart: el.OK(), Reason: el.Reason}
	if el.Attempt != nil {
		resp.AttemptID = el.Attempt.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	sid, err := studentID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.engine.Start(r.Context(), sid, chi.URLParam(r, "examID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, res.View)
}

func (a *API) handleViewAttempt(w http.ResponseWriter, r *http.Request) {
	sid, err := studentID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := a.engine.View(r.Context(), chi.URLParam(r, "attemptID"), sid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type answerRequest struct {
	OptionID string `json:"optionId"`
}

func (a *API) handleRecordAnswer(w http.ResponseWriter, r *http.Request) {
	sid, err := studentID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	err = a.engine.RecordAnswer(r.Context(), chi.URLParam(r, "attemptID"), sid, chi.URLParam(r, "questionID"), req.OptionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleToggleFlag(w http.ResponseWriter, r *http.Request) {
	sid, err := studentID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	questionID := chi.URLParam(r, "questionID")
	flagged, err := a.engine.ToggleFlag(r.Context(), chi.URLParam(r, "attemptID"), sid, questionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questionId": questionID, "flagged": flagged})
}

type submitRequest struct {
	AttemptID string            `json:"attemptId"`
	Answers   map[string]string `json:"answers"`
	Auto      bool              `json:"auto"`
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sid, err := studentID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	attemptID := chi.URLParam(r, "attemptID")
	var req submitRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.AttemptID != "" && req.AttemptID != attemptID {
		writeError(w, r, domain.NewValidationError(domain.FieldError{Field: "attemptId", Message: "attemptId does not match the URL"}))
		return
	}
	outcome, err := a.engine.Submit(r.Context(), attemptID, sid, req.Answers, req.Auto)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (a *API) handleListResults(w http.ResponseWriter, r *http.Request) {
	exam, err := examOwner(r, a.bank)
	if err != nil {
		writeError(w, r, err)
		return
	}
	results, err := a.ledger.ListResults(r.Context(), exam.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (a *API) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	// Resolve not-found before the CSV headers are committed.
	exam, err := examOwner(r, a.bank)
	if err != nil {
		writeError(w, r, err)
		return
	}
	examID := exam.ID
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="results-`+examID+`.csv"`)
	if err := a.ledger.ExportCSV(r.Context(), examID, w); err != nil {
		writeError(w, r, err)
	}
}

func (a *API) handleVerifyScores(w http.ResponseWriter, r *http.Request) {
	exam, err := examOwner(r, a.bank)
	if err != nil {
		writeError(w, r, err)
		return
	}
	mismatches, err := a.ledger.VerifyScores(r.Context(), exam.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consistent": len(mismatches) == 0, "mismatches": mismatches})
}

func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	exam, err := examOwner(r, a.bank)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := a.ledger.ImportToAcademicRecord(r.Context(), exam.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

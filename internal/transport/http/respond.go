package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"cbt-exam-service/internal/app"
	"cbt-exam-service/internal/domain"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"

	roleStudent = "student"
	roleTeacher = "teacher"
	roleAdmin   = "admin"
)

var errMissingIdentity = errors.New("missing " + headerUserID + " header")

type errorBody struct {
	Error  string              `json:"error"`
	Kind   string              `json:"kind,omitempty"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}

// timeUp is what a student sees when a call lands after the deadline.
type timeUp struct {
	Status string               `json:"status"`
	Result domain.SubmitOutcome `json:"result"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps the domain error taxonomy onto HTTP status codes. A deadline error is
// not a failure for the student: it reports the automatic submission with 200.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		deadline *domain.DeadlineExceededError
		invalid  *domain.ValidationError
	)
	switch {
	case errors.As(err, &deadline):
		writeJSON(w, http.StatusOK, timeUp{Status: "time_up", Result: deadline.Result})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Kind: "validation", Fields: invalid.Fields})
	case errors.Is(err, errMissingIdentity):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Kind: "validation"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Kind: "not_found"})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error(), Kind: "forbidden"})
	case errors.Is(err, domain.ErrStateConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Kind: "state_conflict"})
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// decodeJSON reads a request body; malformed JSON is a validation failure.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError(domain.FieldError{Field: "body", Message: "invalid JSON: " + err.Error()})
	}
	return nil
}

// actor reads the caller identity set by the upstream authentication layer.
func actor(r *http.Request) (domain.Actor, string, error) {
	id := strings.TrimSpace(r.Header.Get(headerUserID))
	if id == "" {
		return domain.Actor{}, "", errMissingIdentity
	}
	role := strings.ToLower(strings.TrimSpace(r.Header.Get(headerUserRole)))
	if role == "" {
		role = roleStudent
	}
	return domain.Actor{ID: id, Admin: role == roleAdmin}, role, nil
}

// staff returns the actor when the caller is a teacher or an administrator.
func staff(r *http.Request) (domain.Actor, error) {
	a, role, err := actor(r)
	if err != nil {
		return domain.Actor{}, err
	}
	if role != roleTeacher && role != roleAdmin {
		return domain.Actor{}, domain.ErrForbidden
	}
	return a, nil
}

// examOwner resolves the exam in the URL and requires the caller to own it or be an administrator.
func examOwner(r *http.Request, bank *app.QuestionBank) (domain.Exam, error) {
	who, err := staff(r)
	if err != nil {
		return domain.Exam{}, err
	}
	return bank.OwnedExam(r.Context(), who, chi.URLParam(r, "examID"))
}

func studentID(r *http.Request) (string, error) {
	a, _, err := actor(r)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

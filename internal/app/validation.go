package app

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"cbt-exam-service/internal/domain"
)

var (
	validate   = validator.New()
	translator ut.Translator
)

func init() {
	enLocale := en.New()
	translator, _ = ut.New(enLocale, enLocale).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Report JSON field names instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// ExamInput is the authoring payload for a new exam.
type ExamInput struct {
	Title           string              `json:"title" validate:"required,max=200"`
	Description     string              `json:"description" validate:"max=4000"`
	ClassID         string              `json:"classId" validate:"required"`
	SubjectID       string              `json:"subjectId" validate:"required"`
	SubjectName     string              `json:"subject"`
	Category        domain.ExamCategory `json:"examType" validate:"required,oneof=examination first_test second_test"`
	TotalMarks      float64             `json:"totalMarks" validate:"gt=0"`
	DurationMinutes int                 `json:"durationMinutes" validate:"gte=1,lte=1440"`
	StartDate       *time.Time          `json:"startDate"`
	EndDate         *time.Time          `json:"endDate"`
	Published       bool                `json:"isPublished"`
}

// ExamPatch changes selected exam fields. Nil fields are left alone.
type ExamPatch struct {
	Title          *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description    *string    `json:"description" validate:"omitempty,max=4000"`
	Published      *bool      `json:"isPublished"`
	StartDate      *time.Time `json:"startDate"`
	EndDate        *time.Time `json:"endDate"`
	ClearStartDate bool       `json:"clearStartDate"`
	ClearEndDate   bool       `json:"clearEndDate"`

	// Structural fields, locked once any attempt exists.
	ClassID         *string              `json:"classId" validate:"omitempty,min=1"`
	SubjectID       *string              `json:"subjectId" validate:"omitempty,min=1"`
	SubjectName     *string              `json:"subject"`
	Category        *domain.ExamCategory `json:"examType" validate:"omitempty,oneof=examination first_test second_test"`
	TotalMarks      *float64             `json:"totalMarks" validate:"omitempty,gt=0"`
	DurationMinutes *int                 `json:"durationMinutes" validate:"omitempty,gte=1,lte=1440"`
}

func (p ExamPatch) structural() bool {
	return p.ClassID != nil || p.SubjectID != nil || p.Category != nil ||
		p.TotalMarks != nil || p.DurationMinutes != nil
}

// OptionInput is one authored option. An empty ID is assigned from its position.
type OptionInput struct {
	ID   string `json:"id" validate:"omitempty,max=32"`
	Text string `json:"text" validate:"required"`
}

// QuestionInput is the authoring payload for a question.
type QuestionInput struct {
	Text            string        `json:"text" validate:"required"`
	Options         []OptionInput `json:"options" validate:"min=2,dive"`
	CorrectOptionID string        `json:"correctOptionId" validate:"required"`
	Points          float64       `json:"points" validate:"gte=0.5"`
}

func (in *QuestionInput) normalize() {
	in.Text = strings.TrimSpace(in.Text)
	in.CorrectOptionID = strings.TrimSpace(in.CorrectOptionID)
	for i := range in.Options {
		in.Options[i].ID = strings.TrimSpace(in.Options[i].ID)
		in.Options[i].Text = strings.TrimSpace(in.Options[i].Text)
	}
}

// options assigns missing IDs and checks the option set against the correct answer.
func (in QuestionInput) options() ([]domain.Option, error) {
	opts := make([]domain.Option, 0, len(in.Options))
	seen := make(map[string]bool, len(in.Options))
	var fields []domain.FieldError
	for i, o := range in.Options {
		id := o.ID
		if id == "" {
			id = optionLabel(i)
		}
		if seen[id] {
			fields = append(fields, domain.FieldError{
				Field:   "options[" + strconv.Itoa(i) + "].id",
				Message: "duplicate option id " + strconv.Quote(id),
			})
			continue
		}
		seen[id] = true
		opts = append(opts, domain.Option{ID: id, Text: o.Text})
	}
	if !seen[in.CorrectOptionID] {
		fields = append(fields, domain.FieldError{
			Field:   "correctOptionId",
			Message: "correctOptionId must match one of the options",
		})
	}
	if len(fields) > 0 {
		return nil, domain.NewValidationError(fields...)
	}
	return opts, nil
}

// optionLabel maps 0, 1, 2 ... to a, b, c ...
func optionLabel(i int) string {
	if i < 26 {
		return string(rune('a' + i))
	}
	return "o" + strconv.Itoa(i+1)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]domain.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, domain.FieldError{Field: fieldPath(fe), Message: fe.Translate(translator)})
	}
	return domain.NewValidationError(fields...)
}

// fieldPath strips the root struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validateWindow(start, end *time.Time) error {
	if start != nil && end != nil && !end.After(*start) {
		return domain.NewValidationError(domain.FieldError{Field: "endDate", Message: "endDate must be after startDate"})
	}
	return nil
}

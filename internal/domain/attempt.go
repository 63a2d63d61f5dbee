package domain

import "time"

// AttemptStatus is the state of an attempt. NotStarted is the absence of an attempt.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusSubmitted  AttemptStatus = "submitted"
)

// SnapshotQuestion is a frozen copy of a question as presented to one student.
type SnapshotQuestion struct {
	QuestionID      string   `json:"questionId"`
	Text            string   `json:"text"`
	Options         []Option `json:"options"`
	CorrectOptionID string   `json:"correctOptionId"`
	Points          float64  `json:"points"`
}

// HasOption reports whether optionID belongs to the snapshotted question.
func (q SnapshotQuestion) HasOption(optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// Response is the student's current state for one question.
type Response struct {
	OptionID   string    `json:"optionId,omitempty"`
	Flagged    bool      `json:"flagged"`
	AnsweredAt time.Time `json:"answeredAt,omitempty"`
}

// Attempt is one student's single try at one exam.
type Attempt struct {
	ID             string              `json:"id"`
	ExamID         string              `json:"examId"`
	StudentID      string              `json:"studentId"`
	ClassID        string              `json:"classId"`
	Status         AttemptStatus       `json:"status"`
	StartedAt      time.Time           `json:"startedAt"`
	Deadline       time.Time           `json:"deadline"`
	SubmittedAt    *time.Time          `json:"submittedAt,omitempty"`
	AutoSubmitted  bool                `json:"autoSubmitted"`
	Questions      []SnapshotQuestion  `json:"questions"`
	Responses      map[string]Response `json:"responses"`
	Score          float64             `json:"score"`
	MaxScore       float64             `json:"maxScore"`
	CorrectCount   int                 `json:"correctAnswers"`
	TotalQuestions int                 `json:"totalQuestions"`
}

// Submitted reports whether the attempt reached its terminal state.
func (a Attempt) Submitted() bool {
	return a.Status == StatusSubmitted
}

// Question returns the snapshotted question with the given ID.
func (a Attempt) Question(questionID string) (SnapshotQuestion, bool) {
	for _, q := range a.Questions {
		if q.QuestionID == questionID {
			return q, true
		}
	}
	return SnapshotQuestion{}, false
}

// AnswersUntil returns the selected options recorded no later than cutoff.
func (a Attempt) AnswersUntil(cutoff time.Time) map[string]string {
	answers := make(map[string]string, len(a.Responses))
	for questionID, resp := range a.Responses {
		if resp.OptionID == "" {
			continue
		}
		if !resp.AnsweredAt.IsZero() && resp.AnsweredAt.After(cutoff) {
			continue
		}
		answers[questionID] = resp.OptionID
	}
	return answers
}

// Outcome returns the stored scoring summary.
func (a Attempt) Outcome() SubmitOutcome {
	return SubmitOutcome{
		AttemptID:      a.ID,
		Score:          a.Score,
		MaxScore:       a.MaxScore,
		CorrectAnswers: a.CorrectCount,
		TotalQuestions: a.TotalQuestions,
		AutoSubmitted:  a.AutoSubmitted,
		SubmittedAt:    a.SubmittedAt,
	}
}

// SubmitOutcome is what a student sees after submission.
type SubmitOutcome struct {
	AttemptID      string     `json:"attemptId"`
	Score          float64    `json:"score"`
	MaxScore       float64    `json:"maxScore"`
	CorrectAnswers int        `json:"correctAnswers"`
	TotalQuestions int        `json:"totalQuestions"`
	AutoSubmitted  bool       `json:"autoSubmitted"`
	SubmittedAt    *time.Time `json:"submittedAt,omitempty"`
}

// Submission carries the fields stamped by the InProgress -> Submitted transition.
type Submission struct {
	SubmittedAt    time.Time
	AutoSubmitted  bool
	Score          float64
	MaxScore       float64
	CorrectCount   int
	TotalQuestions int
}

// PresentedOption and PresentedQuestion are the student projection of a snapshot.
type PresentedOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type PresentedQuestion struct {
	ID             string            `json:"id"`
	Text           string            `json:"text"`
	Options        []PresentedOption `json:"options"`
	Points         float64           `json:"points"`
	SelectedOption string            `json:"selectedOptionId,omitempty"`
	Flagged        bool              `json:"flagged"`
}

// AttemptView is the payload sent to the student client. It never carries answer keys.
type AttemptView struct {
	AttemptID        string              `json:"attemptId"`
	ExamID           string              `json:"examId"`
	Status           AttemptStatus       `json:"status"`
	StartedAt        time.Time           `json:"startedAt"`
	Deadline         time.Time           `json:"deadline"`
	RemainingSeconds int64               `json:"remainingSeconds"`
	Questions        []PresentedQuestion `json:"questions"`
	Result           *SubmitOutcome      `json:"result,omitempty"`
}

// View projects the attempt for the student at server time now.
func (a Attempt) View(now time.Time) AttemptView {
	questions := make([]PresentedQuestion, 0, len(a.Questions))
	for _, q := range a.Questions {
		opts := make([]PresentedOption, 0, len(q.Options))
		for _, opt := range q.Options {
			opts = append(opts, PresentedOption{ID: opt.ID, Text: opt.Text})
		}
		resp := a.Responses[q.QuestionID]
		questions = append(questions, PresentedQuestion{
			ID:             q.QuestionID,
			Text:           q.Text,
			Options:        opts,
			Points:         q.Points,
			SelectedOption: resp.OptionID,
			Flagged:        resp.Flagged,
		})
	}
	view := AttemptView{
		AttemptID: a.ID,
		ExamID:    a.ExamID,
		Status:    a.Status,
		StartedAt: a.StartedAt,
		Deadline:  a.Deadline,
		Questions: questions,
	}
	if a.Submitted() {
		outcome := a.Outcome()
		view.Result = &outcome
	} else if remaining := a.Deadline.Sub(now); remaining > 0 {
		view.RemainingSeconds = int64(remaining.Seconds())
	}
	return view
}

package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"cbt-exam-service/internal/domain"
)

// ListingStatus is how an exam appears in a student's catalog.
type ListingStatus string

const (
	ListingUpcoming  ListingStatus = "upcoming"
	ListingOpen      ListingStatus = "open"
	ListingExpired   ListingStatus = "expired"
	ListingCompleted ListingStatus = "completed"
)

// ExamListing is one catalog row for a student.
type ExamListing struct {
	domain.Exam
	QuestionCount  int                   `json:"questionCount"`
	Status         ListingStatus         `json:"status"`
	AttemptID      string                `json:"attemptId,omitempty"`
	PreviousResult *domain.SubmitOutcome `json:"previousResult,omitempty"`
}

// EligibilityReason explains a CanStart decision.
type EligibilityReason string

const (
	ReasonOK                EligibilityReason = "ok"
	ReasonNotYetOpen        EligibilityReason = "not_yet_open"
	ReasonExpired           EligibilityReason = "expired"
	ReasonAlreadySubmitted  EligibilityReason = "already_submitted"
	ReasonAttemptInProgress EligibilityReason = "attempt_in_progress"
)

// Eligibility is the result of CanStart. Attempt is set when the student already has one.
type Eligibility struct {
	Reason  EligibilityReason `json:"reason"`
	Exam    domain.Exam       `json:"-"`
	Attempt *domain.Attempt   `json:"-"`
}

// OK reports whether a new attempt may be started.
func (e Eligibility) OK() bool { return e.Reason == ReasonOK }

// ExamCatalog resolves which exams a student can see and start.
type ExamCatalog struct {
	exams    ExamStore
	bundles  ExamRepository
	attempts AttemptStore
	roster   ClassRoster
	opts     options
}

func NewExamCatalog(exams ExamStore, bundles ExamRepository, attempts AttemptStore, roster ClassRoster, opts ...Option) *ExamCatalog {
	return &ExamCatalog{
		exams:    exams,
		bundles:  bundles,
		attempts: attempts,
		roster:   roster,
		opts:     newOptions(opts),
	}
}

// ListAvailable returns the published exams of the class, upcoming and expired ones included,
// ordered by start date then title.
func (c *ExamCatalog) ListAvailable(ctx context.Context, studentID, classID string) ([]ExamListing, error) {
	if err := c.checkEnrolled(ctx, studentID, classID); err != nil {
		return nil, err
	}
	exams, err := c.exams.ListExamsByClass(ctx, classID)
	if err != nil {
		return nil, err
	}

	now := c.opts.clock()
	listings := make([]ExamListing, 0, len(exams))
	for _, exam := range exams {
		if !exam.Published {
			continue
		}
		bundle, err := c.bundles.GetExamBundle(ctx, exam.ID)
		if err != nil {
			return nil, err
		}
		listing := ExamListing{
			Exam:          exam,
			QuestionCount: len(bundle.Questions),
			Status:        windowStatus(exam, now),
		}

		attempt, err := c.attempts.FindAttempt(ctx, exam.ID, studentID)
		switch {
		case err == nil && attempt.Submitted():
			outcome := attempt.Outcome()
			listing.Status = ListingCompleted
			listing.AttemptID = attempt.ID
			listing.PreviousResult = &outcome
		case err == nil:
			// An open attempt stays resumable even if the window closed meanwhile.
			listing.Status = ListingOpen
			listing.AttemptID = attempt.ID
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
		listings = append(listings, listing)
	}

	sort.SliceStable(listings, func(i, j int) bool {
		si, sj := listings[i].StartDate, listings[j].StartDate
		switch {
		case si == nil && sj != nil:
			return true
		case si != nil && sj == nil:
			return false
		case si != nil && !si.Equal(*sj):
			return si.Before(*sj)
		}
		return listings[i].Title < listings[j].Title
	})
	return listings, nil
}

// CanStart decides whether the student may start the exam at now. Callers must pass
// server time; SessionEngine.Start re-checks with its own clock.
func (c *ExamCatalog) CanStart(ctx context.Context, studentID, examID string, now time.Time) (Eligibility, error) {
	exam, err := c.exams.GetExam(ctx, examID)
	if err != nil {
		return Eligibility{}, err
	}
	if !exam.Published {
		return Eligibility{}, domain.ErrExamNotFound
	}
	if err := c.checkEnrolled(ctx, studentID, exam.ClassID); err != nil {
		return Eligibility{}, err
	}

	el := Eligibility{Reason: ReasonOK, Exam: exam}
	attempt, err := c.attempts.FindAttempt(ctx, examID, studentID)
	switch {
	case err == nil:
		el.Attempt = &attempt
		if attempt.Submitted() {
			el.Reason = ReasonAlreadySubmitted
		} else {
			el.Reason = ReasonAttemptInProgress
		}
		return el, nil
	case !errors.Is(err, domain.ErrNotFound):
		return Eligibility{}, err
	}

	switch windowStatus(exam, now) {
	case ListingUpcoming:
		el.Reason = ReasonNotYetOpen
	case ListingExpired:
		el.Reason = ReasonExpired
	}
	return el, nil
}

// CheckEligibility runs CanStart at the catalog's server time.
func (c *ExamCatalog) CheckEligibility(ctx context.Context, studentID, examID string) (Eligibility, error) {
	return c.CanStart(ctx, studentID, examID, c.opts.clock())
}

func (c *ExamCatalog) checkEnrolled(ctx context.Context, studentID, classID string) error {
	ok, err := c.roster.IsEnrolled(ctx, studentID, classID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotEnrolled
	}
	return nil
}

func windowStatus(exam domain.Exam, now time.Time) ListingStatus {
	switch {
	case exam.NotYetOpen(now):
		return ListingUpcoming
	case exam.Expired(now):
		return ListingExpired
	}
	return ListingOpen
}

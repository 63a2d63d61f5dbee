package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cbt-exam-service/internal/domain"
)

// CSVHeader is the first row of an exported result sheet.
var CSVHeader = []string{"Student Name", "Admission Number", "Submission Date", "Score", "Percentage", "Correct/Total"}

// ResultLedger aggregates finished attempts for instructors and writes scores into the academic record.
type ResultLedger struct {
	exams    ExamStore
	attempts AttemptStore
	roster   ClassRoster
	records  AcademicRecord
	opts     options

	mu          sync.Mutex
	subscribers map[string]map[chan domain.Result]struct{}
}

func NewResultLedger(exams ExamStore, attempts AttemptStore, roster ClassRoster, records AcademicRecord, opts ...Option) *ResultLedger {
	return &ResultLedger{
		exams:       exams,
		attempts:    attempts,
		roster:      roster,
		records:     records,
		opts:        newOptions(opts),
		subscribers: make(map[string]map[chan domain.Result]struct{}),
	}
}

// Record publishes a freshly submitted attempt to live subscribers of its exam.
func (l *ResultLedger) Record(ctx context.Context, attempt domain.Attempt) {
	student, err := l.roster.GetStudent(ctx, attempt.StudentID)
	if err != nil {
		l.opts.log.Warn("result student lookup failed", "attempt_id", attempt.ID, "student_id", attempt.StudentID, "error", err)
		student = domain.Student{ID: attempt.StudentID}
	}
	l.broadcast(toResult(attempt, student))
}

// Subscribe returns a channel of results for the exam. The caller must invoke cancel.
func (l *ResultLedger) Subscribe(examID string) (<-chan domain.Result, func()) {
	ch := make(chan domain.Result, 8)

	l.mu.Lock()
	subs, ok := l.subscribers[examID]
	if !ok {
		subs = make(map[chan domain.Result]struct{})
		l.subscribers[examID] = subs
	}
	subs[ch] = struct{}{}
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		subs := l.subscribers[examID]
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(l.subscribers, examID)
		}
	}
	return ch, cancel
}

func (l *ResultLedger) broadcast(res domain.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subscribers[res.ExamID] {
		select {
		case ch <- res:
		default:
			// Slow reader: drop the oldest queued result.
			select {
			case <-ch:
			default:
			}
			ch <- res
		}
	}
}

// ListResults returns finished attempts joined with student identity, ordered by submission time.
func (l *ResultLedger) ListResults(ctx context.Context, examID string) ([]domain.Result, error) {
	if _, err := l.exams.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	attempts, err := l.attempts.ListSubmitted(ctx, examID)
	if err != nil {
		return nil, err
	}

	results := make([]domain.Result, 0, len(attempts))
	for _, a := range attempts {
		student, err := l.roster.GetStudent(ctx, a.StudentID)
		if errors.Is(err, domain.ErrStudentNotFound) {
			student = domain.Student{ID: a.StudentID}
		} else if err != nil {
			return nil, err
		}
		results = append(results, toResult(a, student))
	}
	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].SubmittedAt.Equal(results[j].SubmittedAt) {
			return results[i].SubmittedAt.Before(results[j].SubmittedAt)
		}
		return results[i].AttemptID < results[j].AttemptID
	})
	return results, nil
}

// ExportCSV writes the result sheet. It is a reporting view and is never read back.
func (l *ResultLedger) ExportCSV(ctx context.Context, examID string, w io.Writer) error {
	results, err := l.ListResults(ctx, examID)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.StudentName,
			r.AdmissionNumber,
			r.SubmittedAt.UTC().Format(time.RFC3339),
			strconv.FormatFloat(r.Score, 'f', -1, 64),
			strconv.FormatFloat(r.Percentage, 'f', 2, 64),
			fmt.Sprintf("%d/%d", r.CorrectCount, r.TotalQuestions),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ImportToAcademicRecord writes every finished attempt's score into the grade-book cell
// for (student, class, subject, exam category). Writes overwrite, so re-running converges.
// Students whose cell cannot be written are reported in Skipped; the rest stay committed.
func (l *ResultLedger) ImportToAcademicRecord(ctx context.Context, examID string) (domain.ImportReport, error) {
	exam, err := l.exams.GetExam(ctx, examID)
	if err != nil {
		return domain.ImportReport{}, err
	}
	attempts, err := l.attempts.ListSubmitted(ctx, examID)
	if err != nil {
		return domain.ImportReport{}, err
	}

	outcomes := make([]error, len(attempts))
	var g errgroup.Group
	g.SetLimit(l.opts.concurrency)
	for i, a := range attempts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = err
				return nil
			}
			outcomes[i] = l.records.WriteScore(ctx, domain.AcademicRecordEntry{
				StudentID: a.StudentID,
				ClassID:   exam.ClassID,
				SubjectID: exam.SubjectID,
				Component: exam.Category,
				Score:     a.Score,
			})
			return nil
		})
	}
	_ = g.Wait()

	report := domain.ImportReport{ExamID: examID, Skipped: []domain.SkippedStudent{}}
	for i, err := range outcomes {
		if err == nil {
			report.UpdatedCount++
			continue
		}
		reason := err.Error()
		if errors.Is(err, domain.ErrNoRecordTarget) {
			reason = domain.ErrNoRecordTarget.Error()
		}
		l.opts.log.Warn("academic record write skipped",
			"exam_id", examID, "student_id", attempts[i].StudentID, "reason", reason)
		report.Skipped = append(report.Skipped, domain.SkippedStudent{StudentID: attempts[i].StudentID, Reason: reason})
	}
	l.opts.log.Info("academic record import finished",
		"exam_id", examID, "updated", report.UpdatedCount, "skipped", len(report.Skipped))
	return report, nil
}

// VerifyScores re-scores every submitted snapshot and reports attempts whose stored score differs.
func (l *ResultLedger) VerifyScores(ctx context.Context, examID string) ([]domain.ScoreMismatch, error) {
	if _, err := l.exams.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	attempts, err := l.attempts.ListSubmitted(ctx, examID)
	if err != nil {
		return nil, err
	}
	mismatches := []domain.ScoreMismatch{}
	for _, a := range attempts {
		res := Score(a.Questions, a.AnswersUntil(a.Deadline))
		if math.Abs(res.Score-a.Score) < 1e-9 && res.CorrectCount == a.CorrectCount {
			continue
		}
		mismatches = append(mismatches, domain.ScoreMismatch{
			AttemptID:       a.ID,
			StudentID:       a.StudentID,
			StoredScore:     a.Score,
			ComputedScore:   res.Score,
			StoredCorrect:   a.CorrectCount,
			ComputedCorrect: res.CorrectCount,
		})
	}
	return mismatches, nil
}

func toResult(a domain.Attempt, student domain.Student) domain.Result {
	res := domain.Result{
		AttemptID:       a.ID,
		ExamID:          a.ExamID,
		StudentID:       a.StudentID,
		StudentName:     student.Name,
		AdmissionNumber: student.AdmissionNumber,
		Score:           a.Score,
		MaxScore:        a.MaxScore,
		CorrectCount:    a.CorrectCount,
		TotalQuestions:  a.TotalQuestions,
		AutoSubmitted:   a.AutoSubmitted,
	}
	if a.SubmittedAt != nil {
		res.SubmittedAt = *a.SubmittedAt
	}
	if a.MaxScore > 0 {
		res.Percentage = math.Round(a.Score/a.MaxScore*10000) / 100
	}
	return res
}

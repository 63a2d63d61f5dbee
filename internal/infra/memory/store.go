package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cbt-exam-service/internal/domain"
)

type attemptKey struct {
	examID    string
	studentID string
}

// Store keeps exams, questions and attempts in process. Every read returns a deep copy,
// so callers can never mutate stored state, and every write is atomic under one lock.
type Store struct {
	mu            sync.RWMutex
	exams         map[string]domain.Exam
	questions     map[string]domain.Question
	examQuestions map[string][]string
	nextPosition  map[string]int
	attempts      map[string]domain.Attempt
	byStudent     map[attemptKey]string
}

func NewStore() *Store {
	return &Store{
		exams:         make(map[string]domain.Exam),
		questions:     make(map[string]domain.Question),
		examQuestions: make(map[string][]string),
		nextPosition:  make(map[string]int),
		attempts:      make(map[string]domain.Attempt),
		byStudent:     make(map[attemptKey]string),
	}
}

func (s *Store) CreateExam(_ context.Context, exam domain.Exam) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exams[exam.ID] = cloneExam(exam)
	return nil
}

func (s *Store) GetExam(_ context.Context, examID string) (domain.Exam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exam, ok := s.exams[examID]
	if !ok {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	return cloneExam(exam), nil
}

func (s *Store) UpdateExam(_ context.Context, exam domain.Exam, structural bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exams[exam.ID]; !ok {
		return domain.ErrExamNotFound
	}
	if structural {
		for _, a := range s.attempts {
			if a.ExamID == exam.ID {
				return domain.ErrExamLocked
			}
		}
	}
	s.exams[exam.ID] = cloneExam(exam)
	return nil
}

func (s *Store) DeleteExam(_ context.Context, examID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exams[examID]; !ok {
		return domain.ErrExamNotFound
	}
	for _, qid := range s.examQuestions[examID] {
		delete(s.questions, qid)
	}
	delete(s.examQuestions, examID)
	delete(s.nextPosition, examID)
	for id, a := range s.attempts {
		if a.ExamID == examID {
			delete(s.attempts, id)
			delete(s.byStudent, attemptKey{examID: examID, studentID: a.StudentID})
		}
	}
	delete(s.exams, examID)
	return nil
}

func (s *Store) ListExamsByClass(_ context.Context, classID string) ([]domain.Exam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Exam, 0)
	for _, exam := range s.exams {
		if exam.ClassID == classID {
			out = append(out, cloneExam(exam))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) AddQuestion(_ context.Context, q domain.Question) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exams[q.ExamID]; !ok {
		return domain.Question{}, domain.ErrExamNotFound
	}
	s.nextPosition[q.ExamID]++
	q.Position = s.nextPosition[q.ExamID]
	s.questions[q.ID] = cloneQuestion(q)
	s.examQuestions[q.ExamID] = append(s.examQuestions[q.ExamID], q.ID)
	return cloneQuestion(q), nil
}

func (s *Store) UpdateQuestion(_ context.Context, q domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.questions[q.ID]
	if !ok {
		return domain.ErrQuestionNotFound
	}
	q.ExamID = stored.ExamID
	q.Position = stored.Position
	s.questions[q.ID] = cloneQuestion(q)
	return nil
}

func (s *Store) GetQuestion(_ context.Context, questionID string) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[questionID]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return cloneQuestion(q), nil
}

func (s *Store) ListQuestions(_ context.Context, examID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listQuestionsLocked(examID), nil
}

func (s *Store) listQuestionsLocked(examID string) []domain.Question {
	ids := s.examQuestions[examID]
	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneQuestion(s.questions[id]))
	}
	return out
}

func (s *Store) RemoveQuestion(_ context.Context, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[questionID]
	if !ok {
		return domain.ErrQuestionNotFound
	}
	delete(s.questions, questionID)
	ids := s.examQuestions[q.ExamID]
	for i, id := range ids {
		if id == questionID {
			s.examQuestions[q.ExamID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// LoadExam implements app.ExamLoader for the exam cache.
func (s *Store) LoadExam(_ context.Context, examID string) (domain.ExamBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exam, ok := s.exams[examID]
	if !ok {
		return domain.ExamBundle{}, domain.ErrExamNotFound
	}
	return domain.ExamBundle{Exam: cloneExam(exam), Questions: s.listQuestionsLocked(examID)}, nil
}

func (s *Store) CreateAttempt(_ context.Context, a domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exams[a.ExamID]; !ok {
		return domain.ErrExamNotFound
	}
	key := attemptKey{examID: a.ExamID, studentID: a.StudentID}
	if _, ok := s.byStudent[key]; ok {
		return domain.ErrAttemptExists
	}
	s.attempts[a.ID] = cloneAttempt(a)
	s.byStudent[key] = a.ID
	return nil
}

func (s *Store) GetAttempt(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return cloneAttempt(a), nil
}

func (s *Store) FindAttempt(_ context.Context, examID, studentID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byStudent[attemptKey{examID: examID, studentID: studentID}]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return cloneAttempt(s.attempts[id]), nil
}

func (s *Store) CountAttempts(_ context.Context, examID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.attempts {
		if a.ExamID == examID {
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveAnswer(_ context.Context, attemptID, questionID, optionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.openAttemptLocked(attemptID)
	if err != nil {
		return err
	}
	resp := a.Responses[questionID]
	resp.OptionID = optionID
	resp.AnsweredAt = at
	a.Responses[questionID] = resp
	return nil
}

func (s *Store) ToggleFlag(_ context.Context, attemptID, questionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.openAttemptLocked(attemptID)
	if err != nil {
		return false, err
	}
	resp := a.Responses[questionID]
	resp.Flagged = !resp.Flagged
	a.Responses[questionID] = resp
	return resp.Flagged, nil
}

// openAttemptLocked returns the stored attempt for in-place response updates.
func (s *Store) openAttemptLocked(attemptID string) (domain.Attempt, error) {
	a, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if a.Submitted() {
		return domain.Attempt{}, domain.ErrAttemptSubmitted
	}
	if a.Responses == nil {
		a.Responses = make(map[string]domain.Response)
		s.attempts[attemptID] = a
	}
	return a, nil
}

// MarkSubmitted grades the attempt under the write lock, so no answer can be saved
// between the scoring read and the transition.
func (s *Store) MarkSubmitted(_ context.Context, attemptID string, grade func(domain.Attempt) domain.Submission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return false, domain.ErrAttemptNotFound
	}
	if a.Submitted() {
		return false, nil
	}
	sub := grade(cloneAttempt(a))
	at := sub.SubmittedAt
	a.Status = domain.StatusSubmitted
	a.SubmittedAt = &at
	a.AutoSubmitted = sub.AutoSubmitted
	a.Score = sub.Score
	a.MaxScore = sub.MaxScore
	a.CorrectCount = sub.CorrectCount
	a.TotalQuestions = sub.TotalQuestions
	s.attempts[attemptID] = a
	return true, nil
}

func (s *Store) ListSubmitted(_ context.Context, examID string) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Attempt, 0)
	for _, a := range s.attempts {
		if a.ExamID == examID && a.Submitted() {
			out = append(out, cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(*out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(*out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func cloneExam(e domain.Exam) domain.Exam {
	if e.StartDate != nil {
		t := *e.StartDate
		e.StartDate = &t
	}
	if e.EndDate != nil {
		t := *e.EndDate
		e.EndDate = &t
	}
	return e
}

func cloneQuestion(q domain.Question) domain.Question {
	q.Options = append([]domain.Option(nil), q.Options...)
	return q
}

func cloneAttempt(a domain.Attempt) domain.Attempt {
	questions := make([]domain.SnapshotQuestion, len(a.Questions))
	for i, q := range a.Questions {
		q.Options = append([]domain.Option(nil), q.Options...)
		questions[i] = q
	}
	a.Questions = questions
	responses := make(map[string]domain.Response, len(a.Responses))
	for k, v := range a.Responses {
		responses[k] = v
	}
	a.Responses = responses
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		a.SubmittedAt = &t
	}
	return a
}

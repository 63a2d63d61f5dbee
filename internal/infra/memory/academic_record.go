package memory

import (
	"context"
	"fmt"
	"sync"

	"cbt-exam-service/internal/domain"
)

type recordKey struct {
	studentID string
	classID   string
	subjectID string
}

// AcademicRecord is an in-process grade book. A cell can only be written once its
// (student, class, subject) row has been registered with AddTarget.
type AcademicRecord struct {
	mu    sync.RWMutex
	cells map[recordKey]map[domain.ExamCategory]float64
}

func NewAcademicRecord() *AcademicRecord {
	return &AcademicRecord{cells: make(map[recordKey]map[domain.ExamCategory]float64)}
}

// AddTarget registers a report-card row.
func (r *AcademicRecord) AddTarget(studentID, classID, subjectID string) {
	key := recordKey{studentID: studentID, classID: classID, subjectID: subjectID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cells[key]; !ok {
		r.cells[key] = make(map[domain.ExamCategory]float64)
	}
}

func (r *AcademicRecord) WriteScore(_ context.Context, entry domain.AcademicRecordEntry) error {
	key := recordKey{studentID: entry.StudentID, classID: entry.ClassID, subjectID: entry.SubjectID}
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.cells[key]
	if !ok {
		return fmt.Errorf("student %s subject %s: %w", entry.StudentID, entry.SubjectID, domain.ErrNoRecordTarget)
	}
	row[entry.Component] = entry.Score
	return nil
}

// Score returns the stored component score.
func (r *AcademicRecord) Score(studentID, classID, subjectID string, component domain.ExamCategory) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	score, ok := r.cells[recordKey{studentID: studentID, classID: classID, subjectID: subjectID}][component]
	return score, ok
}

package memory

import (
	"context"
	"sync"

	"cbt-exam-service/internal/domain"
)

// Roster is an in-process ClassRoster.
type Roster struct {
	mu       sync.RWMutex
	students map[string]domain.Student
}

func NewRoster(students ...domain.Student) *Roster {
	r := &Roster{students: make(map[string]domain.Student)}
	for _, s := range students {
		r.Enroll(s)
	}
	return r
}

// Enroll adds or replaces a student and their class membership.
func (r *Roster) Enroll(s domain.Student) {
	r.mu.Lock()
	r.students[s.ID] = s
	r.mu.Unlock()
}

func (r *Roster) IsEnrolled(_ context.Context, studentID, classID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.students[studentID]
	return ok && s.ClassID == classID, nil
}

func (r *Roster) GetStudent(_ context.Context, studentID string) (domain.Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.students[studentID]
	if !ok {
		return domain.Student{}, domain.ErrStudentNotFound
	}
	return s, nil
}

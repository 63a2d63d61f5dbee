package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"cbt-exam-service/internal/domain"
)

// Roster reads class membership from the students table.
type Roster struct {
	db *bun.DB
}

func NewRoster(db *bun.DB) *Roster {
	return &Roster{db: db}
}

func (r *Roster) IsEnrolled(ctx context.Context, studentID, classID string) (bool, error) {
	ok, err := r.db.NewSelect().Model((*studentRow)(nil)).
		Where("id = ?", studentID).
		Where("class_id = ?", classID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return ok, nil
}

func (r *Roster) GetStudent(ctx context.Context, studentID string) (domain.Student, error) {
	var row studentRow
	err := r.db.NewSelect().Model(&row).Where("id = ?", studentID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Student{}, domain.ErrStudentNotFound
	}
	if err != nil {
		return domain.Student{}, fmt.Errorf("get student: %w", err)
	}
	return domain.Student{ID: row.ID, Name: row.Name, AdmissionNumber: row.AdmissionNumber, ClassID: row.ClassID}, nil
}

// Enroll upserts a student row.
func (r *Roster) Enroll(ctx context.Context, s domain.Student) error {
	row := &studentRow{ID: s.ID, Name: s.Name, AdmissionNumber: s.AdmissionNumber, ClassID: s.ClassID}
	_, err := r.db.NewInsert().Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("admission_number = EXCLUDED.admission_number").
		Set("class_id = EXCLUDED.class_id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("enroll student: %w", err)
	}
	return nil
}

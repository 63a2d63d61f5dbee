package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"cbt-exam-service/internal/domain"
)

// AcademicRecord writes exam scores into report_cards. Each exam category owns one column,
// and a write replaces the cell rather than adding to it.
type AcademicRecord struct {
	db    *bun.DB
	clock func() time.Time
}

func NewAcademicRecord(db *bun.DB) *AcademicRecord {
	return &AcademicRecord{db: db, clock: time.Now}
}

func componentColumn(c domain.ExamCategory) (string, bool) {
	switch c {
	case domain.CategoryFirstTest:
		return "first_test", true
	case domain.CategorySecondTest:
		return "second_test", true
	case domain.CategoryExamination:
		return "examination", true
	}
	return "", false
}

func (r *AcademicRecord) WriteScore(ctx context.Context, entry domain.AcademicRecordEntry) error {
	column, ok := componentColumn(entry.Component)
	if !ok {
		return fmt.Errorf("component %q: %w", entry.Component, domain.ErrNoRecordTarget)
	}
	res, err := r.db.NewUpdate().Model((*reportCardRow)(nil)).
		Set("? = ?", bun.Ident(column), entry.Score).
		Set("updated_at = ?", r.clock()).
		Where("student_id = ?", entry.StudentID).
		Where("class_id = ?", entry.ClassID).
		Where("subject_id = ?", entry.SubjectID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("write score: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("student %s subject %s: %w", entry.StudentID, entry.SubjectID, domain.ErrNoRecordTarget)
	}
	return nil
}

// AddTarget creates an empty report-card row if it does not exist.
func (r *AcademicRecord) AddTarget(ctx context.Context, studentID, classID, subjectID string) error {
	row := &reportCardRow{StudentID: studentID, ClassID: classID, SubjectID: subjectID, UpdatedAt: r.clock()}
	if _, err := r.db.NewInsert().Model(row).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("add report card: %w", err)
	}
	return nil
}

// Score reads one component cell. ok is false when the row or cell is empty.
func (r *AcademicRecord) Score(ctx context.Context, studentID, classID, subjectID string, component domain.ExamCategory) (float64, bool, error) {
	var row reportCardRow
	err := r.db.NewSelect().Model(&row).
		Where("student_id = ?", studentID).
		Where("class_id = ?", classID).
		Where("subject_id = ?", subjectID).
		Scan(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("read report card: %w", err)
	}
	var cell *float64
	switch component {
	case domain.CategoryFirstTest:
		cell = row.FirstTest
	case domain.CategorySecondTest:
		cell = row.SecondTest
	case domain.CategoryExamination:
		cell = row.Examination
	}
	if cell == nil {
		return 0, false, nil
	}
	return *cell, true, nil
}

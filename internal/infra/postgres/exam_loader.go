package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"cbt-exam-service/internal/domain"
)

// ExamLoader reads an exam and its questions over pgxpool. It feeds the exam caches.
type ExamLoader struct {
	pool *pgxpool.Pool
}

func NewExamLoader(pool *pgxpool.Pool) *ExamLoader {
	return &ExamLoader{pool: pool}
}

func (l *ExamLoader) LoadExam(ctx context.Context, examID string) (domain.ExamBundle, error) {
	var (
		exam     domain.Exam
		category string
	)
	err := l.pool.QueryRow(ctx, `
		SELECT id, title, description, class_id, subject_id, subject_name, category,
		       total_marks, duration_minutes, start_date, end_date, is_published,
		       created_by, created_at, updated_at
		FROM exams WHERE id = $1`, examID).Scan(
		&exam.ID, &exam.Title, &exam.Description, &exam.ClassID, &exam.SubjectID, &exam.SubjectName, &category,
		&exam.TotalMarks, &exam.DurationMinutes, &exam.StartDate, &exam.EndDate, &exam.Published,
		&exam.CreatedBy, &exam.CreatedAt, &exam.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ExamBundle{}, domain.ErrExamNotFound
	}
	if err != nil {
		return domain.ExamBundle{}, fmt.Errorf("load exam: %w", err)
	}
	exam.Category = domain.ExamCategory(category)

	rows, err := l.pool.Query(ctx, `
		SELECT id, exam_id, text, options, correct_option_id, points, position, created_at
		FROM questions WHERE exam_id = $1 ORDER BY position`, examID)
	if err != nil {
		return domain.ExamBundle{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	questions := make([]domain.Question, 0)
	for rows.Next() {
		var (
			q   domain.Question
			raw []byte
		)
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Text, &raw, &q.CorrectOptionID, &q.Points, &q.Position, &q.CreatedAt); err != nil {
			return domain.ExamBundle{}, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(raw, &q.Options); err != nil {
			return domain.ExamBundle{}, fmt.Errorf("unmarshal options: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.ExamBundle{}, fmt.Errorf("load questions: %w", err)
	}
	return domain.ExamBundle{Exam: exam, Questions: questions}, nil
}

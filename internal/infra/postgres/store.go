package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"cbt-exam-service/internal/domain"
)

// Store persists exams, questions and attempts with bun. Attempt uniqueness per
// (exam, student) and the submit-once transition are enforced by the database.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateExam(ctx context.Context, exam domain.Exam) error {
	if _, err := s.db.NewInsert().Model(newExamRow(exam)).Exec(ctx); err != nil {
		return fmt.Errorf("create exam: %w", err)
	}
	return nil
}

func (s *Store) GetExam(ctx context.Context, examID string) (domain.Exam, error) {
	var row examRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", examID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	if err != nil {
		return domain.Exam{}, fmt.Errorf("get exam: %w", err)
	}
	return row.toDomain(), nil
}

// UpdateExam takes the exam row FOR UPDATE, which conflicts with the key-share lock an
// attempt insert holds through its foreign key, so a structural edit and a first attempt
// cannot both succeed.
func (s *Store) UpdateExam(ctx context.Context, exam domain.Exam, structural bool) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var id string
		err := tx.NewSelect().Model((*examRow)(nil)).Column("id").
			Where("id = ?", exam.ID).For("UPDATE").
			Scan(ctx, &id)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrExamNotFound
		}
		if err != nil {
			return err
		}
		if structural {
			attempted, err := tx.NewSelect().Model((*attemptRow)(nil)).Where("exam_id = ?", exam.ID).Exists(ctx)
			if err != nil {
				return err
			}
			if attempted {
				return domain.ErrExamLocked
			}
		}
		_, err = tx.NewUpdate().Model(newExamRow(exam)).
			ExcludeColumn("id", "created_by", "created_at").
			WherePK().
			Exec(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrStateConflict) {
			return err
		}
		return fmt.Errorf("update exam: %w", err)
	}
	return nil
}

// DeleteExam relies on ON DELETE CASCADE for questions, attempts and responses.
func (s *Store) DeleteExam(ctx context.Context, examID string) error {
	res, err := s.db.NewDelete().Model((*examRow)(nil)).Where("id = ?", examID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}
	return expectRow(res, domain.ErrExamNotFound)
}

func (s *Store) ListExamsByClass(ctx context.Context, classID string) ([]domain.Exam, error) {
	var rows []examRow
	err := s.db.NewSelect().Model(&rows).
		Where("class_id = ?", classID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	out := make([]domain.Exam, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// AddQuestion locks the exam row so concurrent appends get distinct positions.
func (s *Store) AddQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var examID string
		err := tx.NewSelect().Model((*examRow)(nil)).Column("id").
			Where("id = ?", q.ExamID).For("UPDATE").
			Scan(ctx, &examID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrExamNotFound
		}
		if err != nil {
			return err
		}

		var maxPos int
		err = tx.NewSelect().Model((*questionRow)(nil)).
			ColumnExpr("COALESCE(MAX(position), 0)").
			Where("exam_id = ?", q.ExamID).
			Scan(ctx, &maxPos)
		if err != nil {
			return err
		}
		q.Position = maxPos + 1
		_, err = tx.NewInsert().Model(newQuestionRow(q)).Exec(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Question{}, err
		}
		return domain.Question{}, fmt.Errorf("add question: %w", err)
	}
	return q, nil
}

func (s *Store) UpdateQuestion(ctx context.Context, q domain.Question) error {
	res, err := s.db.NewUpdate().Model(newQuestionRow(q)).
		Column("text", "options", "correct_option_id", "points").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	return expectRow(res, domain.ErrQuestionNotFound)
}

func (s *Store) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	var row questionRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", questionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("get question: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListQuestions(ctx context.Context, examID string) ([]domain.Question, error) {
	var rows []questionRow
	err := s.db.NewSelect().Model(&rows).
		Where("exam_id = ?", examID).
		Order("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	out := make([]domain.Question, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) RemoveQuestion(ctx context.Context, questionID string) error {
	res, err := s.db.NewDelete().Model((*questionRow)(nil)).Where("id = ?", questionID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("remove question: %w", err)
	}
	return expectRow(res, domain.ErrQuestionNotFound)
}

func (s *Store) CreateAttempt(ctx context.Context, a domain.Attempt) error {
	_, err := s.db.NewInsert().Model(newAttemptRow(a)).Exec(ctx)
	switch pgCode(err) {
	case "":
	case codeUniqueViolation:
		return domain.ErrAttemptExists
	case codeForeignKeyViolation:
		return domain.ErrExamNotFound
	}
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	return s.findAttempt(ctx, "id = ?", attemptID)
}

func (s *Store) FindAttempt(ctx context.Context, examID, studentID string) (domain.Attempt, error) {
	return s.findAttempt(ctx, "exam_id = ? AND student_id = ?", examID, studentID)
}

func (s *Store) findAttempt(ctx context.Context, where string, args ...interface{}) (domain.Attempt, error) {
	var row attemptRow
	err := s.db.NewSelect().Model(&row).Where(where, args...).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	var responses []responseRow
	if err := s.db.NewSelect().Model(&responses).Where("attempt_id = ?", row.ID).Scan(ctx); err != nil {
		return domain.Attempt{}, fmt.Errorf("get responses: %w", err)
	}
	return row.toDomain(responses), nil
}

func (s *Store) CountAttempts(ctx context.Context, examID string) (int, error) {
	n, err := s.db.NewSelect().Model((*attemptRow)(nil)).Where("exam_id = ?", examID).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

// SaveAnswer holds a share lock on the attempt row, so it serializes with MarkSubmitted
// and can never land after the submission.
func (s *Store) SaveAnswer(ctx context.Context, attemptID, questionID, optionID string, at time.Time) error {
	return s.withOpenAttempt(ctx, attemptID, func(ctx context.Context, tx bun.Tx) error {
		resp := &responseRow{AttemptID: attemptID, QuestionID: questionID, OptionID: optionID, AnsweredAt: &at}
		_, err := tx.NewInsert().Model(resp).
			On("CONFLICT (attempt_id, question_id) DO UPDATE").
			Set("option_id = EXCLUDED.option_id").
			Set("answered_at = EXCLUDED.answered_at").
			Exec(ctx)
		return err
	})
}

func (s *Store) ToggleFlag(ctx context.Context, attemptID, questionID string) (bool, error) {
	var flagged bool
	err := s.withOpenAttempt(ctx, attemptID, func(ctx context.Context, tx bun.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO attempt_responses (attempt_id, question_id, option_id, flagged)
			VALUES (?, ?, '', TRUE)
			ON CONFLICT (attempt_id, question_id)
			DO UPDATE SET flagged = NOT attempt_responses.flagged
			RETURNING flagged`, attemptID, questionID).Scan(&flagged)
	})
	return flagged, err
}

func (s *Store) withOpenAttempt(ctx context.Context, attemptID string, fn func(context.Context, bun.Tx) error) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var status string
		err := tx.NewSelect().Model((*attemptRow)(nil)).Column("status").
			Where("id = ?", attemptID).For("SHARE").
			Scan(ctx, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAttemptNotFound
		}
		if err != nil {
			return err
		}
		if status != string(domain.StatusInProgress) {
			return domain.ErrAttemptSubmitted
		}
		return fn(ctx, tx)
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrStateConflict) {
		return fmt.Errorf("update attempt %s: %w", attemptID, err)
	}
	return err
}

// MarkSubmitted locks the attempt row FOR UPDATE, grades the responses it can see and
// moves the row out of in_progress in the same transaction. SaveAnswer holds a share lock
// on the same row, so every answer either commits before grading or fails as submitted.
func (s *Store) MarkSubmitted(ctx context.Context, attemptID string, grade func(domain.Attempt) domain.Submission) (bool, error) {
	var applied bool
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var row attemptRow
		err := tx.NewSelect().Model(&row).Where("id = ?", attemptID).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAttemptNotFound
		}
		if err != nil {
			return err
		}
		if row.Status != string(domain.StatusInProgress) {
			return nil
		}
		var responses []responseRow
		if err := tx.NewSelect().Model(&responses).Where("attempt_id = ?", attemptID).Scan(ctx); err != nil {
			return err
		}

		sub := grade(row.toDomain(responses))
		_, err = tx.NewUpdate().Model((*attemptRow)(nil)).
			Set("status = ?", string(domain.StatusSubmitted)).
			Set("submitted_at = ?", sub.SubmittedAt).
			Set("auto_submitted = ?", sub.AutoSubmitted).
			Set("score = ?", sub.Score).
			Set("max_score = ?", sub.MaxScore).
			Set("correct_count = ?", sub.CorrectCount).
			Set("total_questions = ?", sub.TotalQuestions).
			Where("id = ?", attemptID).
			Exec(ctx)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, err
		}
		return false, fmt.Errorf("mark submitted: %w", err)
	}
	return applied, nil
}

func (s *Store) ListSubmitted(ctx context.Context, examID string) ([]domain.Attempt, error) {
	var rows []attemptRow
	err := s.db.NewSelect().Model(&rows).
		Where("exam_id = ?", examID).
		Where("status = ?", string(domain.StatusSubmitted)).
		Order("submitted_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list submitted: %w", err)
	}
	if len(rows) == 0 {
		return []domain.Attempt{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	var responses []responseRow
	if err := s.db.NewSelect().Model(&responses).Where("attempt_id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	byAttempt := make(map[string][]responseRow, len(rows))
	for _, r := range responses {
		byAttempt[r.AttemptID] = append(byAttempt[r.AttemptID], r)
	}

	out := make([]domain.Attempt, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain(byAttempt[r.ID]))
	}
	return out, nil
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

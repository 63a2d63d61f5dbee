package app

import "cbt-exam-service/internal/domain"

// QuestionOutcome is the scoring verdict for one snapshotted question.
type QuestionOutcome struct {
	QuestionID       string  `json:"questionId"`
	SelectedOptionID string  `json:"selectedOptionId,omitempty"`
	Answered         bool    `json:"answered"`
	Correct          bool    `json:"correct"`
	Points           float64 `json:"points"`
	Awarded          float64 `json:"awarded"`
}

// ScoreResult summarizes a scored snapshot.
type ScoreResult struct {
	Score          float64           `json:"score"`
	MaxScore       float64           `json:"maxScore"`
	CorrectCount   int               `json:"correctAnswers"`
	TotalQuestions int               `json:"totalQuestions"`
	Outcomes       []QuestionOutcome `json:"outcomes"`
}

// Score grades answers (questionID -> optionID) against the snapshot's answer keys.
// Unanswered or incorrect questions award 0; there is no partial credit. Score is pure
// and may be re-run for audits.
func Score(snapshot []domain.SnapshotQuestion, answers map[string]string) ScoreResult {
	res := ScoreResult{
		TotalQuestions: len(snapshot),
		Outcomes:       make([]QuestionOutcome, 0, len(snapshot)),
	}
	for _, q := range snapshot {
		res.MaxScore += q.Points
		selected, answered := answers[q.QuestionID]
		answered = answered && selected != ""
		outcome := QuestionOutcome{
			QuestionID:       q.QuestionID,
			SelectedOptionID: selected,
			Answered:         answered,
			Points:           q.Points,
		}
		if answered && selected == q.CorrectOptionID {
			outcome.Correct = true
			outcome.Awarded = q.Points
			res.Score += q.Points
			res.CorrectCount++
		}
		res.Outcomes = append(res.Outcomes, outcome)
	}
	return res
}

func maxScore(snapshot []domain.SnapshotQuestion) float64 {
	var total float64
	for _, q := range snapshot {
		total += q.Points
	}
	return total
}

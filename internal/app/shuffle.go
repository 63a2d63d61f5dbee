package app

import (
	"math/rand/v2"

	"cbt-exam-service/internal/domain"
)

// Shuffler permutes n elements through swap, like rand.Shuffle.
type Shuffler func(n int, swap func(i, j int))

// DefaultShuffler is a uniform Fisher-Yates shuffle over the runtime's per-goroutine source.
var DefaultShuffler Shuffler = rand.Shuffle

// NoShuffle keeps authored order.
func NoShuffle(int, func(i, j int)) {}

// snapshotQuestions freezes the live questions for one attempt. Option order is shuffled
// per question, then question order is shuffled independently. Option IDs travel with
// their text so the answer key stays valid.
func snapshotQuestions(questions []domain.Question, shuffle Shuffler) []domain.SnapshotQuestion {
	snap := make([]domain.SnapshotQuestion, 0, len(questions))
	for _, q := range questions {
		opts := make([]domain.Option, len(q.Options))
		copy(opts, q.Options)
		shuffle(len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })
		snap = append(snap, domain.SnapshotQuestion{
			QuestionID:      q.ID,
			Text:            q.Text,
			Options:         opts,
			CorrectOptionID: q.CorrectOptionID,
			Points:          q.Points,
		})
	}
	shuffle(len(snap), func(i, j int) { snap[i], snap[j] = snap[j], snap[i] })
	return snap
}

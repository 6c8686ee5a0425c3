package game

import "time"

// Difficulty buckets a question for the point table.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Question is immutable once a room's question set starts.
type Question struct {
	ID            string
	Text          string
	Difficulty    Difficulty
	Options       []string
	CorrectOption int
	Duration      time.Duration // 0 means room default
}

// AnswerDuration returns the per-question override or the room default.
func (q Question) AnswerDuration(fallback time.Duration) time.Duration {
	if q.Duration > 0 {
		return q.Duration
	}
	return fallback
}

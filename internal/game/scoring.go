package game

// NoAnswer marks a missing submission (timeout) for Score.
const NoAnswer = -1

// Score computes the points delta for one (player, question) pair. It is a
// pure function of its inputs; the room applies the delta exactly once.
//
// A set leftTab flag turns the attempt into a non-attempt: no reward, no
// penalty. A timeout likewise scores zero. Otherwise the delta comes from
// the room's per-difficulty point table.
func Score(q Question, submittedOption int, leftTab bool, points map[Difficulty]PointValues) int {
	if leftTab {
		return 0
	}
	if submittedOption == NoAnswer {
		return 0
	}
	values, ok := points[q.Difficulty]
	if !ok {
		return 0
	}
	if submittedOption == q.CorrectOption {
		return values.Correct
	}
	return values.Wrong
}

package services

// Power-ups a submission may carry. Only double_points changes the score;
// the others affect the client experience and are recorded for statistics.
const (
	PowerUpDoublePoints = "double_points"
	PowerUpFiftyFifty   = "fifty_fifty"
	PowerUpTimeFreeze   = "time_freeze"
)

const (
	basePoints     = 100
	maxSpeedBonus  = 50
	answerWindowMs = 30_000

	// Each consecutive correct answer adds 10% up to +50%.
	streakBonusStep = 10
	streakBonusCap  = 5
)

func validPowerUp(p string) bool {
	switch p {
	case "", PowerUpDoublePoints, PowerUpFiftyFifty, PowerUpTimeFreeze:
		return true
	}
	return false
}

// clampTimeSpent bounds the client-reported answer time to the answer window.
// The value is untrusted input; it only ever shrinks the speed bonus.
func clampTimeSpent(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	if ms > answerWindowMs {
		return answerWindowMs
	}
	return ms
}

// speedBonus is inversely proportional to time spent, bounded to
// [0, maxSpeedBonus]. Answering at the window edge earns nothing extra.
func speedBonus(timeSpentMs int64) int64 {
	remaining := answerWindowMs - clampTimeSpent(timeSpentMs)
	return maxSpeedBonus * remaining / answerWindowMs
}

// scoreAnswer computes the points for one submission. An incorrect answer is
// always worth zero; streakBefore is the consecutive-correct counter going
// into this answer.
func scoreAnswer(correct bool, timeSpentMs int64, streakBefore int, powerUp string) int64 {
	if !correct {
		return 0
	}
	points := int64(basePoints) + speedBonus(timeSpentMs)

	streak := streakBefore
	if streak > streakBonusCap {
		streak = streakBonusCap
	}
	points += points * int64(streak) * streakBonusStep / 100

	if powerUp == PowerUpDoublePoints {
		points *= 2
	}
	return points
}

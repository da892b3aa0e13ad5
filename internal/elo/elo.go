// Package elo implements standard Elo rating math.
package elo

import "math"

// ExpectedScore is the probability that a beats b.
func ExpectedScore(ratingA, ratingB int) float64 {
	return 1 / (1 + math.Pow(10, float64(ratingB-ratingA)/400))
}

// UpdateRating returns the new rating after a result. actual is 1 for a win,
// 0 for a loss.
func UpdateRating(rating int, expected float64, actual, k int) int {
	return int(math.Round(float64(rating) + float64(k)*(float64(actual)-expected)))
}

// Outcome computes both players' new ratings from a single pre-update
// snapshot so the order of application cannot skew the result.
func Outcome(winnerRating, loserRating, k int) (newWinner, newLoser int) {
	expectedWinner := ExpectedScore(winnerRating, loserRating)
	expectedLoser := ExpectedScore(loserRating, winnerRating)
	newWinner = UpdateRating(winnerRating, expectedWinner, 1, k)
	newLoser = UpdateRating(loserRating, expectedLoser, 0, k)
	return newWinner, newLoser
}

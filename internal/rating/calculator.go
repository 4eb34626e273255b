// Package rating implements ELO updates with tiered K-factors.
package rating

import (
	"fmt"
	"math"

	"github.com/park285/chess-live/internal/domain"
)

const (
	provisionalGames = 30
	masterRating     = 2400
)

// ExpectedScore is the ELO win expectation of a rated ratingA against ratingB.
func ExpectedScore(ratingA, ratingB int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(ratingB-ratingA)/400.0))
}

// KFactor is 32 for provisional players, 24 below 2400 and 16 above.
func KFactor(p domain.PlayerProfile) int {
	switch {
	case p.GamesPlayed < provisionalGames:
		return 32
	case p.Rating < masterRating:
		return 24
	default:
		return 16
	}
}

// Deltas returns the rating changes for white and black. Each side uses its
// own pre-game rating and K-factor.
func Deltas(white, black domain.PlayerProfile, result domain.Result) (int, int, error) {
	var actualWhite float64
	switch result {
	case domain.ResultWhiteWin:
		actualWhite = 1.0
	case domain.ResultDraw:
		actualWhite = 0.5
	case domain.ResultBlackWin:
		actualWhite = 0.0
	default:
		return 0, 0, fmt.Errorf("%w: result %q", domain.ErrInvalidInput, result)
	}
	actualBlack := 1.0 - actualWhite

	dw := roundHalfUp(float64(KFactor(white)) * (actualWhite - ExpectedScore(white.Rating, black.Rating)))
	db := roundHalfUp(float64(KFactor(black)) * (actualBlack - ExpectedScore(black.Rating, white.Rating)))
	return dw, db, nil
}

func roundHalfUp(x float64) int { return int(math.Floor(x + 0.5)) }

func outcomeFor(side domain.Color, result domain.Result) string {
	switch {
	case result == domain.ResultDraw:
		return "draw"
	case result == domain.WinFor(side):
		return "win"
	default:
		return "loss"
	}
}

package game

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	half = decimal.NewFromFloat(0.5)
)

// SpeedAdjustedPoints applies the continuous time-decay bonus to a correct
// answer: full points at the instant the question opens, decaying linearly
// to half the points at the time limit.
//
//	final = round(points * (0.5 + 0.5 * max(0, (limit-elapsed)/limit)))
func SpeedAdjustedPoints(points int, limit, elapsed time.Duration) int {
	if limit <= 0 {
		return points
	}

	remain := limit - elapsed
	if remain < 0 {
		remain = 0
	}
	if remain > limit {
		remain = limit
	}

	frac := decimal.NewFromInt(int64(remain)).Div(decimal.NewFromInt(int64(limit)))
	mult := half.Add(half.Mul(frac))

	return int(decimal.NewFromInt(int64(points)).Mul(mult).Round(0).IntPart())
}

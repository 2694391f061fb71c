// Package rewards computes time-gated linear rewards over a portfolio's
// current value.
package rewards

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/euclidfi/basket-engine/internal/allocation"
	"github.com/euclidfi/basket-engine/internal/model"
)

const (
	// SecondsPerYear is a 365-day year of whole seconds. Leap days are ignored.
	SecondsPerYear = 365 * 24 * 60 * 60
	// RateScale expresses RewardRate as a yearly percentage.
	RateScale = 100
)

var yearScale = decimal.NewFromInt(SecondsPerYear * RateScale)

// Elapsed returns whole seconds between last and now, saturating at zero.
func Elapsed(last, now time.Time) int64 {
	if !now.After(last) {
		return 0
	}
	return int64(now.Sub(last) / time.Second)
}

// Accrue returns the reward owed since the portfolio's last claim. Before the
// minimum lock period has elapsed the reward is zero, which is a valid result
// rather than an error.
func Accrue(p *model.UserPortfolio, cfg *model.GlobalConfig, now time.Time) decimal.Decimal {
	elapsed := Elapsed(p.LastClaim, now)
	if elapsed < cfg.MinLockPeriod {
		return decimal.Zero
	}
	num := cfg.RewardRate.Mul(decimal.NewFromInt(elapsed))
	return allocation.MulRatio(p.TotalCurrentValue, num, yearScale)
}

// Claim credits the accrued reward to the portfolio, restarts the reward
// clock and returns the payout instruction for the configured reward token.
func Claim(p *model.UserPortfolio, cfg *model.GlobalConfig, now time.Time) (decimal.Decimal, model.Transfer, error) {
	reward := Accrue(p, cfg, now)
	if !reward.IsPositive() {
		return decimal.Zero, model.Transfer{}, model.ErrNoRewardsAvailable
	}

	p.RewardsEarned = p.RewardsEarned.Add(reward)
	p.LastClaim = now

	return reward, model.Transfer{
		Kind:      model.TransferLocal,
		Purpose:   model.PurposeReward,
		Recipient: p.Owner,
		Denom:     cfg.RewardToken,
		Chain:     model.ChainCosmos,
		Amount:    reward,
	}, nil
}

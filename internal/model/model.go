// Package model defines the core domain types shared across the basket engine.
// All monetary values use shopspring/decimal; never float64 for money.
// Amounts are whole minimal units; ratio math truncates toward zero.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Chain is the closed set of networks a basket token can live on.
type Chain string

const (
	ChainCosmos   Chain = "cosmos"
	ChainEthereum Chain = "ethereum"
	ChainPolygon  Chain = "polygon"
	ChainBinance  Chain = "binance"
)

// Token is a chain-qualified asset identity. Immutable once referenced by a basket.
type Token struct {
	Address  string `json:"address"`
	Chain    Chain  `json:"chain"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// TokenWeight pairs a token with its target share (0–100) of a basket.
type TokenWeight struct {
	Token  Token `json:"token"`
	Weight uint8 `json:"weight"`
}

// GlobalConfig is the process-wide singleton: admin identity, reward
// parameters and aggregate totals.
type GlobalConfig struct {
	Admin             string          `json:"admin"`
	RewardToken       string          `json:"reward_token"`
	RewardRate        decimal.Decimal `json:"reward_rate"`        // yearly percentage
	MinLockPeriod     int64           `json:"min_lock_period"`    // seconds
	CompoundFrequency int64           `json:"compound_frequency"` // seconds
	TotalValueLocked  decimal.Decimal `json:"total_value_locked"`
	TotalUsers        uint64          `json:"total_users"`
}

// BasketConfig is a named, weighted token collection. Never deleted;
// Active=false is the deletion signal.
type BasketConfig struct {
	Name             string          `json:"name"`
	Tokens           []TokenWeight   `json:"tokens"`
	MinInvestment    decimal.Decimal `json:"min_investment"`
	TotalValueLocked decimal.Decimal `json:"total_value_locked"`
	Active           bool            `json:"active"`
}

// FindToken returns the basket token with the given symbol.
func (b *BasketConfig) FindToken(symbol string) (Token, bool) {
	for _, tw := range b.Tokens {
		if tw.Token.Symbol == symbol {
			return tw.Token, true
		}
	}
	return Token{}, false
}

// InvestmentPosition is a user's stake in one basket.
type InvestmentPosition struct {
	User              string                     `json:"user"`
	BasketName        string                     `json:"basket_name"`
	InitialInvestment decimal.Decimal            `json:"initial_investment"`
	CurrentValue      decimal.Decimal            `json:"current_value"`
	TokenAmounts      map[string]decimal.Decimal `json:"token_amounts"` // symbol → amount
	EntryPrice        map[string]decimal.Decimal `json:"entry_price"`   // symbol → price
	TokenChains       map[string]Chain           `json:"token_chains"`  // symbol → chain at entry
	LastUpdated       time.Time                  `json:"last_updated"`
	PnL               decimal.Decimal            `json:"pnl"`
	Performance       int64                      `json:"performance"` // basis points
	AutoCompound      bool                       `json:"auto_compound"`
}

// Action tags an investment history entry.
type Action string

const (
	ActionDeposit   Action = "deposit"
	ActionWithdraw  Action = "withdraw"
	ActionRebalance Action = "rebalance"
)

// InvestmentHistory is an immutable log entry. Once appended it is never
// modified or removed.
type InvestmentHistory struct {
	ID          string                     `json:"id"`
	Timestamp   time.Time                  `json:"timestamp"`
	Action      Action                     `json:"action"`
	Amount      decimal.Decimal            `json:"amount"`
	BasketName  string                     `json:"basket_name"`
	TokenPrices map[string]decimal.Decimal `json:"token_prices"`
}

// UserPortfolio aggregates every position and the history of one user.
type UserPortfolio struct {
	Owner             string               `json:"owner"`
	TotalInvested     decimal.Decimal      `json:"total_invested"`
	TotalCurrentValue decimal.Decimal      `json:"total_current_value"`
	TotalPnL          decimal.Decimal      `json:"total_pnl"`
	Positions         []InvestmentPosition `json:"positions"`
	History           []InvestmentHistory  `json:"investment_history"`
	RewardsEarned     decimal.Decimal      `json:"rewards_earned"`
	LastClaim         time.Time            `json:"last_claim"`
}

// FindPosition returns the index of the position held in basketName, or -1.
func (p *UserPortfolio) FindPosition(basketName string) int {
	for i := range p.Positions {
		if p.Positions[i].BasketName == basketName {
			return i
		}
	}
	return -1
}

// PriceSnapshot maps token symbol → current price. Read-only once taken.
type PriceSnapshot map[string]decimal.Decimal

// Clone copies the snapshot so history entries never alias oracle state.
func (s PriceSnapshot) Clone() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

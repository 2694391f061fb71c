// Package portfolio implements the per-user ledger: opening, topping up,
// reducing, rebalancing and closing basket positions, and the append-only
// investment history.
//
// All functions mutate the *model.UserPortfolio handed to them only after
// every validation and every transfer instruction has succeeded, so a
// returned error always leaves the portfolio untouched.
package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/euclidfi/basket-engine/internal/allocation"
	"github.com/euclidfi/basket-engine/internal/model"
)

var (
	hundred = decimal.NewFromInt(100)
	bps     = decimal.NewFromInt(10000)
)

// New returns an empty portfolio for owner. The reward clock starts at now.
func New(owner string, now time.Time) *model.UserPortfolio {
	return &model.UserPortfolio{
		Owner:             owner,
		TotalInvested:     decimal.Zero,
		TotalCurrentValue: decimal.Zero,
		TotalPnL:          decimal.Zero,
		Positions:         []model.InvestmentPosition{},
		History:           []model.InvestmentHistory{},
		RewardsEarned:     decimal.Zero,
		LastClaim:         now,
	}
}

// Invest deposits amount into basket. A second deposit into the same basket
// tops up the existing position rather than opening another one.
func Invest(p *model.UserPortfolio, basket *model.BasketConfig, amount decimal.Decimal,
	autoCompound bool, prices model.PriceSnapshot, now time.Time) (*model.InvestmentPosition, error) {
	if !basket.Active {
		return nil, fmt.Errorf("%w: %s", model.ErrBasketInactive, basket.Name)
	}
	if !amount.IsPositive() || !amount.IsInteger() {
		return nil, fmt.Errorf("%w: amount must be a positive whole amount", model.ErrBelowMinimumInvestment)
	}
	if amount.LessThan(basket.MinInvestment) {
		return nil, fmt.Errorf("%w: %s < %s", model.ErrBelowMinimumInvestment, amount, basket.MinInvestment)
	}

	amounts := allocation.Allocate(amount, basket.Tokens)
	entry := prices.Clone()

	idx := p.FindPosition(basket.Name)
	if idx < 0 {
		p.Positions = append(p.Positions, model.InvestmentPosition{
			User:              p.Owner,
			BasketName:        basket.Name,
			InitialInvestment: amount,
			CurrentValue:      amount,
			TokenAmounts:      amounts,
			EntryPrice:        entry,
			TokenChains:       chainsOf(basket),
			LastUpdated:       now,
			PnL:               decimal.Zero,
			Performance:       0,
			AutoCompound:      autoCompound,
		})
		idx = len(p.Positions) - 1
	} else {
		pos := &p.Positions[idx]
		pos.InitialInvestment = pos.InitialInvestment.Add(amount)
		pos.CurrentValue = pos.CurrentValue.Add(amount)
		if pos.TokenAmounts == nil {
			pos.TokenAmounts = make(map[string]decimal.Decimal, len(amounts))
		}
		for sym, a := range amounts {
			pos.TokenAmounts[sym] = pos.TokenAmounts[sym].Add(a)
		}
		pos.EntryPrice = entry
		if pos.TokenChains == nil {
			pos.TokenChains = make(map[string]model.Chain)
		}
		for sym, c := range chainsOf(basket) {
			pos.TokenChains[sym] = c
		}
		pos.LastUpdated = now
		pos.AutoCompound = autoCompound
	}

	p.TotalInvested = p.TotalInvested.Add(amount)
	p.TotalCurrentValue = p.TotalCurrentValue.Add(amount)
	appendHistory(p, model.ActionDeposit, amount, basket.Name, prices, now)

	return &p.Positions[idx], nil
}

// WithdrawResult describes a committed withdrawal.
type WithdrawResult struct {
	Amount    decimal.Decimal            // value removed from the position
	Tokens    map[string]decimal.Decimal // token amounts leaving the position
	Transfers []model.Transfer
	Closed    bool // the position was liquidated and removed
}

// Withdraw removes percentage of the position held in basket.Name and emits
// one transfer instruction per withdrawn token. Token amounts are taken as a
// share of the position's mapping, which Withdraw leaves as it stood: only
// the value goes down, and only Rebalance recomputes the mapping.
func Withdraw(p *model.UserPortfolio, basket *model.BasketConfig, percentage uint8,
	prices model.PriceSnapshot, now time.Time, router Router) (*WithdrawResult, error) {
	if percentage == 0 || percentage > 100 {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidWithdrawalPercentage, percentage)
	}
	idx := p.FindPosition(basket.Name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrPositionNotFound, basket.Name)
	}
	pos := &p.Positions[idx]

	value := allocation.MulRatio(pos.CurrentValue, decimal.NewFromInt(int64(percentage)), hundred)
	withdrawn, _ := allocation.SplitProportional(pos.TokenAmounts, percentage)

	var transfers []model.Transfer
	for _, sym := range sortedKeys(withdrawn) {
		amt := withdrawn[sym]
		tok, ok := basket.FindToken(sym)
		if !ok {
			return nil, fmt.Errorf("%w: %s not in basket %s", model.ErrTokenNotFound, sym, basket.Name)
		}
		if amt.IsZero() {
			continue
		}
		t, err := router.Route(tok.Chain, sym, p.Owner, amt, model.PurposeWithdraw)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}

	pos.CurrentValue = pos.CurrentValue.Sub(value)
	pos.LastUpdated = now
	p.TotalCurrentValue = p.TotalCurrentValue.Sub(value)

	closed := percentage == 100
	if closed {
		p.Positions = append(p.Positions[:idx], p.Positions[idx+1:]...)
	}
	appendHistory(p, model.ActionWithdraw, value, basket.Name, prices, now)

	return &WithdrawResult{
		Amount:    value,
		Tokens:    withdrawn,
		Transfers: transfers,
		Closed:    closed,
	}, nil
}

// SetAutoCompound toggles the reinvest flag of the position in basketName.
func SetAutoCompound(p *model.UserPortfolio, basketName string, enabled bool) error {
	idx := p.FindPosition(basketName)
	if idx < 0 {
		return fmt.Errorf("%w: %s", model.ErrPositionNotFound, basketName)
	}
	p.Positions[idx].AutoCompound = enabled
	return nil
}

// RebalanceResult describes a committed rebalance.
type RebalanceResult struct {
	Deltas    map[string]decimal.Decimal // signed target-current per token
	Transfers []model.Transfer
}

// Rebalance realigns the position's token amounts with the basket's current
// weights at the position's current value. Positive deltas are acquired,
// negative deltas disposed of.
func Rebalance(p *model.UserPortfolio, basket *model.BasketConfig, prices model.PriceSnapshot,
	now time.Time, router Router) (*RebalanceResult, error) {
	idx := p.FindPosition(basket.Name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrPositionNotFound, basket.Name)
	}
	pos := &p.Positions[idx]

	deltas, targets := allocation.RebalanceDelta(pos.TokenAmounts, basket.Tokens, pos.CurrentValue)

	var transfers []model.Transfer
	for _, sym := range sortedKeys(deltas) {
		d := deltas[sym]
		if d.IsZero() {
			continue
		}
		chain, ok := chainFor(basket, pos, sym)
		if !ok {
			return nil, fmt.Errorf("%w: %s", model.ErrTokenNotFound, sym)
		}
		purpose := model.PurposeAcquire
		if d.IsNegative() {
			purpose = model.PurposeDispose
		}
		t, err := router.Route(chain, sym, p.Owner, d.Abs(), purpose)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}

	mark(pos, prices)
	pos.TokenAmounts = targets
	pos.TokenChains = chainsOf(basket)
	entry := make(map[string]decimal.Decimal, len(targets))
	for sym := range targets {
		if px, ok := prices[sym]; ok {
			entry[sym] = px
		} else if px, ok := pos.EntryPrice[sym]; ok {
			entry[sym] = px
		}
	}
	pos.EntryPrice = entry
	pos.LastUpdated = now

	p.TotalPnL = decimal.Zero
	for i := range p.Positions {
		p.TotalPnL = p.TotalPnL.Add(p.Positions[i].PnL)
	}
	appendHistory(p, model.ActionRebalance, pos.CurrentValue, basket.Name, prices, now)

	return &RebalanceResult{Deltas: deltas, Transfers: transfers}, nil
}

// Metric is the performance projection of one position at current prices.
type Metric struct {
	BasketName   string          `json:"basket_name"`
	Performance  int64           `json:"performance"` // stored, basis points
	BookValue    decimal.Decimal `json:"book_value"`
	MarkValue    decimal.Decimal `json:"mark_value"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pnl"`
	MarkPerfBps  int64           `json:"mark_performance_bps"`
}

// Performance projects every position (or only basketName when non-empty)
// against prices without mutating the portfolio.
func Performance(p *model.UserPortfolio, basketName string, prices model.PriceSnapshot) []Metric {
	out := []Metric{}
	for i := range p.Positions {
		pos := p.Positions[i]
		if basketName != "" && pos.BasketName != basketName {
			continue
		}
		markValue := MarkValue(&pos, prices)
		pl := markValue.Sub(pos.CurrentValue)
		out = append(out, Metric{
			BasketName:   pos.BasketName,
			Performance:  pos.Performance,
			BookValue:    pos.CurrentValue,
			MarkValue:    markValue,
			UnrealizedPL: pl,
			MarkPerfBps:  perfBps(pl, pos.CurrentValue),
		})
	}
	return out
}

// MarkValue values each held token at price/entryPrice of its notional
// amount, scaled to the position's book value. Partial withdrawals lower the
// book value but keep the mapping, so the mapping only supplies the mix.
// Tokens missing either price are carried at notional.
func MarkValue(pos *model.InvestmentPosition, prices model.PriceSnapshot) decimal.Decimal {
	total, notional := decimal.Zero, decimal.Zero
	for sym, amt := range pos.TokenAmounts {
		notional = notional.Add(amt)
		px, okNow := prices[sym]
		entry, okEntry := pos.EntryPrice[sym]
		if !okNow || !okEntry || !entry.IsPositive() {
			total = total.Add(amt)
			continue
		}
		total = total.Add(allocation.MulRatio(amt, px, entry))
	}
	if !notional.IsPositive() || notional.Equal(pos.CurrentValue) {
		return total
	}
	return allocation.MulRatio(total, pos.CurrentValue, notional)
}

// mark refreshes the stored PnL and performance of pos at prices.
func mark(pos *model.InvestmentPosition, prices model.PriceSnapshot) {
	pos.PnL = MarkValue(pos, prices).Sub(pos.CurrentValue)
	pos.Performance = perfBps(pos.PnL, pos.CurrentValue)
}

func perfBps(pl, base decimal.Decimal) int64 {
	if !base.IsPositive() {
		return 0
	}
	return allocation.MulRatio(pl, bps, base).IntPart()
}

func appendHistory(p *model.UserPortfolio, action model.Action, amount decimal.Decimal,
	basketName string, prices model.PriceSnapshot, now time.Time) {
	p.History = append(p.History, model.InvestmentHistory{
		ID:          uuid.NewString(),
		Timestamp:   now,
		Action:      action,
		Amount:      amount,
		BasketName:  basketName,
		TokenPrices: prices.Clone(),
	})
}

// FilterHistory returns the entries with from <= timestamp <= to. Zero
// bounds are open.
func FilterHistory(p *model.UserPortfolio, from, to time.Time) []model.InvestmentHistory {
	out := []model.InvestmentHistory{}
	for _, h := range p.History {
		if !from.IsZero() && h.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && h.Timestamp.After(to) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func chainsOf(basket *model.BasketConfig) map[string]model.Chain {
	out := make(map[string]model.Chain, len(basket.Tokens))
	for _, tw := range basket.Tokens {
		out[tw.Token.Symbol] = tw.Token.Chain
	}
	return out
}

// chainFor resolves sym against the basket's current tokens first and the
// chain recorded on the position second, for tokens the basket dropped.
func chainFor(basket *model.BasketConfig, pos *model.InvestmentPosition, sym string) (model.Chain, bool) {
	if tok, ok := basket.FindToken(sym); ok {
		return tok.Chain, true
	}
	c, ok := pos.TokenChains[sym]
	return c, ok
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

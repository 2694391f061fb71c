package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/euclidfi/basket-engine/internal/model"
	"github.com/euclidfi/basket-engine/internal/portfolio"
	"github.com/euclidfi/basket-engine/internal/rewards"
	"github.com/euclidfi/basket-engine/internal/store"
)

// Read-side queries. None of them mutate state.

// GetConfig returns the global configuration.
func (e *Engine) GetConfig(ctx context.Context) (*model.GlobalConfig, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return store.LoadConfig(ctx, e.kv)
}

// GetBasket returns the named basket or model.ErrNotFound.
func (e *Engine) GetBasket(ctx context.Context, name string) (*model.BasketConfig, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, err := store.FindBasket(ctx, e.kv, name)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: basket %s", model.ErrNotFound, name)
	}
	return b, nil
}

// ListBaskets returns every basket ordered by name, inactive ones included.
func (e *Engine) ListBaskets(ctx context.Context) ([]model.BasketConfig, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return store.ListBaskets(ctx, e.kv)
}

// GetPortfolio returns the portfolio owned by owner or model.ErrNotFound.
func (e *Engine) GetPortfolio(ctx context.Context, owner string) (*model.UserPortfolio, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return requirePortfolio(ctx, e.kv, owner)
}

// GetInvestmentHistory returns owner's history entries with from <= timestamp
// <= to. A zero bound is open.
func (e *Engine) GetInvestmentHistory(ctx context.Context, owner string, from, to time.Time) ([]model.InvestmentHistory, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, err := requirePortfolio(ctx, e.kv, owner)
	if err != nil {
		return nil, err
	}
	return portfolio.FilterHistory(p, from, to), nil
}

// GetPerformanceMetrics marks owner's positions (or only basketName) to the
// current price feed.
func (e *Engine) GetPerformanceMetrics(ctx context.Context, owner, basketName string) ([]portfolio.Metric, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, err := requirePortfolio(ctx, e.kv, owner)
	if err != nil {
		return nil, err
	}
	prices, err := e.prices(ctx)
	if err != nil {
		return nil, err
	}
	return portfolio.Performance(p, basketName, prices), nil
}

// RewardsView is the claimed and claimable reward state of a portfolio.
type RewardsView struct {
	Owner         string          `json:"owner"`
	RewardToken   string          `json:"reward_token"`
	RewardsEarned decimal.Decimal `json:"rewards_earned"`
	Pending       decimal.Decimal `json:"pending"`
	LastClaim     time.Time       `json:"last_claim"`
	UnlocksAt     time.Time       `json:"unlocks_at"`
}

// GetRewards returns owner's earned rewards and what a claim would pay now.
func (e *Engine) GetRewards(ctx context.Context, owner string) (*RewardsView, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg, err := store.LoadConfig(ctx, e.kv)
	if err != nil {
		return nil, err
	}
	p, err := requirePortfolio(ctx, e.kv, owner)
	if err != nil {
		return nil, err
	}
	return &RewardsView{
		Owner:         owner,
		RewardToken:   cfg.RewardToken,
		RewardsEarned: p.RewardsEarned,
		Pending:       rewards.Accrue(p, cfg, e.clock()),
		LastClaim:     p.LastClaim,
		UnlocksAt:     p.LastClaim.Add(time.Duration(cfg.MinLockPeriod) * time.Second),
	}, nil
}

// ListPrices returns the current price feed.
func (e *Engine) ListPrices(ctx context.Context) (model.PriceSnapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.prices(ctx)
}

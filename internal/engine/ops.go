package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/euclidfi/basket-engine/internal/model"
	"github.com/euclidfi/basket-engine/internal/oracle"
	"github.com/euclidfi/basket-engine/internal/portfolio"
	"github.com/euclidfi/basket-engine/internal/registry"
	"github.com/euclidfi/basket-engine/internal/rewards"
	"github.com/euclidfi/basket-engine/internal/store"
)

// Op is one dispatchable operation. The set is closed: only the types in
// this package implement it.
type Op interface {
	Action() string
	apply(ctx context.Context, e *Engine, tx *store.Txn, caller string, res *Result) error
}

// Instantiate bootstraps the global configuration. It is a no-op when a
// configuration already exists.
type Instantiate struct {
	Admin             string          `json:"admin"`
	RewardToken       string          `json:"reward_token"`
	RewardRate        decimal.Decimal `json:"reward_rate"`
	MinLockPeriod     int64           `json:"min_lock_period"`
	CompoundFrequency int64           `json:"compound_frequency"`
}

// CreateBasket registers a new basket. Admin only.
type CreateBasket struct {
	Name          string              `json:"name"`
	Tokens        []model.TokenWeight `json:"tokens"`
	MinInvestment decimal.Decimal     `json:"min_investment"`
}

// UpdateBasket replaces a basket's weights and active flag. Admin only.
type UpdateBasket struct {
	Name          string              `json:"name"`
	Tokens        []model.TokenWeight `json:"tokens"`
	MinInvestment *decimal.Decimal    `json:"min_investment,omitempty"`
	Active        bool                `json:"active"`
}

// Invest deposits Amount into a basket for the caller.
type Invest struct {
	BasketName   string          `json:"basket_name"`
	Amount       decimal.Decimal `json:"amount"`
	AutoCompound bool            `json:"auto_compound"`
}

// Withdraw removes Percentage (1..100) of the caller's position.
type Withdraw struct {
	BasketName string `json:"basket_name"`
	Percentage int    `json:"percentage"`
}

// ClaimRewards pays out the caller's accrued reward.
type ClaimRewards struct{}

// SetAutoCompound toggles the reinvest flag of the caller's position.
type SetAutoCompound struct {
	BasketName string `json:"basket_name"`
	Enabled    bool   `json:"enabled"`
}

// Rebalance realigns the caller's position with the basket's current weights.
type Rebalance struct {
	BasketName string `json:"basket_name"`
}

// UpdateConfig changes reward parameters. Admin only; nil fields are kept.
type UpdateConfig struct {
	RewardRate        *decimal.Decimal `json:"reward_rate,omitempty"`
	MinLockPeriod     *int64           `json:"min_lock_period,omitempty"`
	CompoundFrequency *int64           `json:"compound_frequency,omitempty"`
}

// SetPrice publishes a price for Symbol. Only the configured price feeder may
// call it.
type SetPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

func (Instantiate) Action() string     { return "instantiate" }
func (CreateBasket) Action() string    { return "create_basket" }
func (UpdateBasket) Action() string    { return "update_basket" }
func (Invest) Action() string          { return "invest" }
func (Withdraw) Action() string        { return "withdraw" }
func (ClaimRewards) Action() string    { return "claim_rewards" }
func (SetAutoCompound) Action() string { return "set_auto_compound" }
func (Rebalance) Action() string       { return "rebalance" }
func (UpdateConfig) Action() string    { return "update_config" }
func (SetPrice) Action() string        { return "set_price" }

func (op Instantiate) apply(ctx context.Context, _ *Engine, tx *store.Txn, _ string, res *Result) error {
	existing, err := store.LoadConfig(ctx, tx)
	if err == nil {
		res.set("admin", existing.Admin)
		res.set("status", "already_instantiated")
		return nil
	}
	if !errors.Is(err, model.ErrNotInstantiated) {
		return err
	}
	cfg, err := registry.NewConfig(registry.InstantiateParams{
		Admin:             op.Admin,
		RewardToken:       op.RewardToken,
		RewardRate:        op.RewardRate,
		MinLockPeriod:     op.MinLockPeriod,
		CompoundFrequency: op.CompoundFrequency,
	})
	if err != nil {
		return err
	}
	if err := store.SaveConfig(tx, cfg); err != nil {
		return err
	}
	res.set("admin", cfg.Admin)
	res.touched(cfg)
	return nil
}

func (op CreateBasket) apply(ctx context.Context, _ *Engine, tx *store.Txn, caller string, res *Result) error {
	cfg, err := store.LoadConfig(ctx, tx)
	if err != nil {
		return err
	}
	existing, err := store.FindBasket(ctx, tx, op.Name)
	if err != nil {
		return err
	}
	basket, err := registry.CreateBasket(cfg, caller, existing, op.Name, op.Tokens, op.MinInvestment)
	if err != nil {
		return err
	}
	if err := store.SaveBasket(tx, basket); err != nil {
		return err
	}
	res.set("name", basket.Name)
	res.touched(nil, basket)
	return nil
}

func (op UpdateBasket) apply(ctx context.Context, _ *Engine, tx *store.Txn, caller string, res *Result) error {
	cfg, err := store.LoadConfig(ctx, tx)
	if err != nil {
		return err
	}
	existing, err := store.FindBasket(ctx, tx, op.Name)
	if err != nil {
		return err
	}
	basket, err := registry.UpdateBasket(cfg, caller, existing, op.Tokens, op.MinInvestment, op.Active)
	if err != nil {
		return err
	}
	if err := store.SaveBasket(tx, basket); err != nil {
		return err
	}
	res.set("name", basket.Name)
	res.set("active", strconv.FormatBool(basket.Active))
	return nil
}

func (op Invest) apply(ctx context.Context, e *Engine, tx *store.Txn, caller string, res *Result) error {
	if caller == "" {
		return model.ErrUnauthorized
	}
	cfg, err := store.LoadConfig(ctx, tx)
	if err != nil {
		return err
	}
	basket, err := requireBasket(ctx, tx, op.BasketName)
	if err != nil {
		return err
	}
	p, err := store.FindPortfolio(ctx, tx, caller)
	if err != nil {
		return err
	}
	prices, err := e.prices(ctx)
	if err != nil {
		return err
	}

	opened := p == nil
	if opened {
		p = portfolio.New(caller, res.Timestamp)
	}
	if _, err := portfolio.Invest(p, basket, op.Amount, op.AutoCompound, prices, res.Timestamp); err != nil {
		return err
	}
	if opened {
		registry.RegisterUser(cfg)
	}
	registry.ApplyDeposit(cfg, basket, op.Amount)

	if err := saveAll(tx, cfg, basket, p); err != nil {
		return err
	}
	res.set("basket", basket.Name)
	res.set("amount", op.Amount.String())
	res.touched(cfg, basket)
	return nil
}

func (op Withdraw) apply(ctx context.Context, e *Engine, tx *store.Txn, caller string, res *Result) error {
	if op.Percentage < 1 || op.Percentage > 100 {
		return fmt.Errorf("%w: %d", model.ErrInvalidWithdrawalPercentage, op.Percentage)
	}
	cfg, err := store.LoadConfig(ctx, tx)
	if err != nil {
		return err
	}
	p, err := requirePosition(ctx, tx, caller, op.BasketName)
	if err != nil {
		return err
	}
	basket, err := requireBasket(ctx, tx, op.BasketName)
	if err != nil {
		return err
	}
	prices, err := e.prices(ctx)
	if err != nil {
		return err
	}

	out, err := portfolio.Withdraw(p, basket, uint8(op.Percentage), prices, res.Timestamp, e.router)
	if err != nil {
		return err
	}
	if err := store.SavePortfolio(tx, p); err != nil {
		return err
	}
	if registry.ApplyWithdrawal(cfg, basket, out.Amount, e.policy) {
		if err := store.SaveConfig(tx, cfg); err != nil {
			return err
		}
		if err := store.SaveBasket(tx, basket); err != nil {
			return err
		}
		res.touched(cfg, basket)
	}

	res.Transfers = append(res.Transfers, out.Transfers...)
	res.set("basket", basket.Name)
	res.set("amount", out.Amount.String())
	res.set("percentage", strconv.Itoa(op.Percentage))
	res.set("closed", strconv.FormatBool(out.Closed))
	return nil
}

func (ClaimRewards) apply(ctx context.Context, e *Engine, tx *store.Txn, caller string, res *Result) error {
	cfg, err := store.LoadConfig(ctx, tx)
	if err != nil {
		return err
	}
	p, err := requirePortfolio(ctx, tx, caller)
	if err != nil {
		return err
	}
	reward, transfer, err := rewards.Claim(p, cfg, res.Timestamp)
	if err != nil {
		return err
	}
	if err := store.SavePortfolio(tx, p); err != nil {
		return err
	}
	res.Transfers = append(res.Transfers, transfer)
	res.set("amount", reward.String())
	return nil
}

func (op SetAutoCompound) apply(ctx context.Context, _ *Engine, tx *store.Txn, caller string, res *Result) error {
	p, err := requirePosition(ctx, tx, caller, op.BasketName)
	if err != nil {
		return err
	}
	if err := portfolio.SetAutoCompound(p, op.BasketName, op.Enabled); err != nil {
		return err
	}
	if err := store.SavePortfolio(tx, p); err != nil {
		return err
	}
	res.set("basket", op.BasketName)
	res.set("enabled", strconv.FormatBool(op.Enabled))
	return nil
}

func (op Rebalance) apply(ctx context.Context, e *Engine, tx *store.Txn, caller string, res *Result) error {
	p, err := requirePosition(ctx, tx, caller, op.BasketName)
	if err != nil {
		return err
	}
	basket, err := requireBasket(ctx, tx, op.BasketName)
	if err != nil {
		return err
	}
	prices, err := e.prices(ctx)
	if err != nil {
		return err
	}
	out, err := portfolio.Rebalance(p, basket, prices, res.Timestamp, e.router)
	if err != nil {
		return err
	}
	if err := store.SavePortfolio(tx, p); err != nil {
		return err
	}
	res.Transfers = append(res.Transfers, out.Transfers...)
	res.set("basket", op.BasketName)
	return nil
}

func (op UpdateConfig) apply(ctx context.Context, _ *Engine, tx *store.Txn, caller string, res *Result) error {
	cfg, err := store.LoadConfig(ctx, tx)
	if err != nil {
		return err
	}
	updated, err := registry.UpdateConfig(cfg, caller, registry.ConfigUpdate{
		RewardRate:        op.RewardRate,
		MinLockPeriod:     op.MinLockPeriod,
		CompoundFrequency: op.CompoundFrequency,
	})
	if err != nil {
		return err
	}
	return store.SaveConfig(tx, updated)
}

func (op SetPrice) apply(_ context.Context, e *Engine, tx *store.Txn, caller string, res *Result) error {
	if e.feeder == "" || caller != e.feeder {
		return model.ErrUnauthorized
	}
	if err := oracle.Stage(tx, op.Symbol, op.Price); err != nil {
		return err
	}
	res.set("symbol", op.Symbol)
	res.set("price", op.Price.String())
	return nil
}

func requireBasket(ctx context.Context, r store.Reader, name string) (*model.BasketConfig, error) {
	b, err := store.FindBasket(ctx, r, name)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrBasketNotFound, name)
	}
	return b, nil
}

func requirePortfolio(ctx context.Context, r store.Reader, owner string) (*model.UserPortfolio, error) {
	p, err := store.FindPortfolio(ctx, r, owner)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: portfolio %s", model.ErrNotFound, owner)
	}
	return p, nil
}

// requirePosition loads the caller's portfolio and fails with
// ErrPositionNotFound unless it holds a position in basketName.
func requirePosition(ctx context.Context, r store.Reader, owner, basketName string) (*model.UserPortfolio, error) {
	p, err := store.FindPortfolio(ctx, r, owner)
	if err != nil {
		return nil, err
	}
	if p == nil || p.FindPosition(basketName) < 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrPositionNotFound, basketName)
	}
	return p, nil
}

func saveAll(tx *store.Txn, cfg *model.GlobalConfig, basket *model.BasketConfig, p *model.UserPortfolio) error {
	if err := store.SaveConfig(tx, cfg); err != nil {
		return err
	}
	if err := store.SaveBasket(tx, basket); err != nil {
		return err
	}
	return store.SavePortfolio(tx, p)
}

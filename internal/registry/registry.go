// Package registry holds the admin-gated basket CRUD rules and the reducers
// that maintain the global configuration's aggregate totals.
//
// Functions here never touch storage: they take the current records and
// return the records to write. The dispatcher owns loading and committing.
package registry

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/euclidfi/basket-engine/internal/model"
	"github.com/euclidfi/basket-engine/internal/token"
)

// TVLPolicy decides whether withdrawals reduce the aggregate TVL figures.
type TVLPolicy string

const (
	// TVLGross tracks gross deposits only; withdrawals never decrement TVL.
	TVLGross TVLPolicy = "gross"
	// TVLNet decrements basket and global TVL by each withdrawn value.
	TVLNet TVLPolicy = "net"
)

// ParseTVLPolicy maps a config string to a policy. Empty means TVLGross.
func ParseTVLPolicy(s string) (TVLPolicy, error) {
	switch TVLPolicy(s) {
	case "", TVLGross:
		return TVLGross, nil
	case TVLNet:
		return TVLNet, nil
	}
	return "", fmt.Errorf("registry: unknown tvl policy %q", s)
}

// InstantiateParams bootstraps the global configuration.
type InstantiateParams struct {
	Admin             string
	RewardToken       string
	RewardRate        decimal.Decimal
	MinLockPeriod     int64
	CompoundFrequency int64
}

// NewConfig returns a fresh configuration with zeroed aggregates.
func NewConfig(p InstantiateParams) (*model.GlobalConfig, error) {
	if p.Admin == "" {
		return nil, fmt.Errorf("registry: admin is required")
	}
	if p.RewardRate.IsNegative() || p.MinLockPeriod < 0 || p.CompoundFrequency < 0 {
		return nil, fmt.Errorf("registry: reward parameters must be non-negative")
	}
	return &model.GlobalConfig{
		Admin:             p.Admin,
		RewardToken:       p.RewardToken,
		RewardRate:        p.RewardRate,
		MinLockPeriod:     p.MinLockPeriod,
		CompoundFrequency: p.CompoundFrequency,
		TotalValueLocked:  decimal.Zero,
	}, nil
}

// RequireAdmin fails with ErrUnauthorized unless caller is the configured admin.
func RequireAdmin(cfg *model.GlobalConfig, caller string) error {
	if caller == "" || caller != cfg.Admin {
		return model.ErrUnauthorized
	}
	return nil
}

// CreateBasket validates and builds a new active basket with zero TVL.
// existing is the stored record under name, or nil.
func CreateBasket(cfg *model.GlobalConfig, caller string, existing *model.BasketConfig,
	name string, weights []model.TokenWeight, minInvestment decimal.Decimal) (*model.BasketConfig, error) {
	if err := RequireAdmin(cfg, caller); err != nil {
		return nil, err
	}
	if err := token.ValidateBasketName(name); err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrDuplicateBasket, name)
	}
	normalized, err := token.ValidateWeights(weights)
	if err != nil {
		return nil, err
	}
	if err := validateMinInvestment(minInvestment); err != nil {
		return nil, err
	}
	return &model.BasketConfig{
		Name:             name,
		Tokens:           normalized,
		MinInvestment:    minInvestment,
		TotalValueLocked: decimal.Zero,
		Active:           true,
	}, nil
}

// UpdateBasket replaces the weight list, optionally the minimum investment,
// and the active flag. Existing positions are not touched.
func UpdateBasket(cfg *model.GlobalConfig, caller string, existing *model.BasketConfig,
	weights []model.TokenWeight, minInvestment *decimal.Decimal, active bool) (*model.BasketConfig, error) {
	if err := RequireAdmin(cfg, caller); err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, model.ErrBasketNotFound
	}
	normalized, err := token.ValidateWeights(weights)
	if err != nil {
		return nil, err
	}

	updated := *existing
	updated.Tokens = normalized
	if minInvestment != nil {
		if err := validateMinInvestment(*minInvestment); err != nil {
			return nil, err
		}
		updated.MinInvestment = *minInvestment
	}
	updated.Active = active
	return &updated, nil
}

// ConfigUpdate carries the optional reward parameters of an UpdateConfig call.
type ConfigUpdate struct {
	RewardRate        *decimal.Decimal
	MinLockPeriod     *int64
	CompoundFrequency *int64
}

// UpdateConfig applies the admin's reward parameter changes.
func UpdateConfig(cfg *model.GlobalConfig, caller string, u ConfigUpdate) (*model.GlobalConfig, error) {
	if err := RequireAdmin(cfg, caller); err != nil {
		return nil, err
	}
	updated := *cfg
	if u.RewardRate != nil {
		if u.RewardRate.IsNegative() {
			return nil, fmt.Errorf("registry: reward rate must be non-negative")
		}
		updated.RewardRate = *u.RewardRate
	}
	if u.MinLockPeriod != nil {
		if *u.MinLockPeriod < 0 {
			return nil, fmt.Errorf("registry: min lock period must be non-negative")
		}
		updated.MinLockPeriod = *u.MinLockPeriod
	}
	if u.CompoundFrequency != nil {
		if *u.CompoundFrequency < 0 {
			return nil, fmt.Errorf("registry: compound frequency must be non-negative")
		}
		updated.CompoundFrequency = *u.CompoundFrequency
	}
	return &updated, nil
}

// ApplyDeposit adds amount to both the basket's and the global TVL.
func ApplyDeposit(cfg *model.GlobalConfig, basket *model.BasketConfig, amount decimal.Decimal) {
	basket.TotalValueLocked = basket.TotalValueLocked.Add(amount)
	cfg.TotalValueLocked = cfg.TotalValueLocked.Add(amount)
}

// ApplyWithdrawal reduces both TVL figures by amount under TVLNet, never
// below zero. Under TVLGross it does nothing and reports false.
func ApplyWithdrawal(cfg *model.GlobalConfig, basket *model.BasketConfig, amount decimal.Decimal, policy TVLPolicy) bool {
	if policy != TVLNet {
		return false
	}
	basket.TotalValueLocked = saturatingSub(basket.TotalValueLocked, amount)
	cfg.TotalValueLocked = saturatingSub(cfg.TotalValueLocked, amount)
	return true
}

// RegisterUser counts a newly created portfolio.
func RegisterUser(cfg *model.GlobalConfig) {
	cfg.TotalUsers++
}

func validateMinInvestment(v decimal.Decimal) error {
	if v.IsNegative() || !v.IsInteger() {
		return fmt.Errorf("%w: minimum investment must be a non-negative whole amount", model.ErrBelowMinimumInvestment)
	}
	return nil
}

func saturatingSub(a, b decimal.Decimal) decimal.Decimal {
	if b.GreaterThan(a) {
		return decimal.Zero
	}
	return a.Sub(b)
}

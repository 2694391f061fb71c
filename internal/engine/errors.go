package engine

import (
	"errors"

	"github.com/euclidfi/basket-engine/internal/model"
)

var kinds = []struct {
	err  error
	name string
}{
	{model.ErrUnauthorized, "unauthorized"},
	{model.ErrBasketNotFound, "basket_not_found"},
	{model.ErrDuplicateBasket, "duplicate_basket"},
	{model.ErrInvalidWeights, "invalid_weights"},
	{model.ErrInvalidBasketName, "invalid_basket_name"},
	{model.ErrInvalidToken, "invalid_token"},
	{model.ErrBasketInactive, "basket_inactive"},
	{model.ErrBelowMinimumInvestment, "below_minimum_investment"},
	{model.ErrInvalidWithdrawalPercentage, "invalid_withdrawal_percentage"},
	{model.ErrPositionNotFound, "position_not_found"},
	{model.ErrTokenNotFound, "token_not_found"},
	{model.ErrUnsupportedChain, "unsupported_chain"},
	{model.ErrNoRewardsAvailable, "no_rewards_available"},
	{model.ErrInvalidPrice, "invalid_price"},
	{model.ErrNotInstantiated, "not_instantiated"},
	{model.ErrNotFound, "not_found"},
	{model.ErrStorage, "storage_failure"},
}

// Kind returns the stable label of err's error kind, or "invalid_request"
// for errors outside the model set (e.g. negative reward parameters).
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "invalid_request"
}

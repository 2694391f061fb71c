package model

import "errors"

// Error kinds surfaced by the engine. Exactly one kind is observable per
// failed operation; callers match them with errors.Is.
var (
	ErrUnauthorized                = errors.New("basket: unauthorized")
	ErrBasketNotFound              = errors.New("basket: basket not found")
	ErrDuplicateBasket             = errors.New("basket: basket already exists")
	ErrInvalidWeights              = errors.New("basket: token weights must sum to 100")
	ErrInvalidBasketName           = errors.New("basket: invalid basket name")
	ErrInvalidToken                = errors.New("basket: invalid token")
	ErrBasketInactive              = errors.New("basket: basket is not active")
	ErrBelowMinimumInvestment      = errors.New("basket: investment below minimum")
	ErrInvalidWithdrawalPercentage = errors.New("basket: withdrawal percentage must be within 1..100")
	ErrPositionNotFound            = errors.New("basket: position not found")
	ErrTokenNotFound               = errors.New("basket: token not found")
	ErrUnsupportedChain            = errors.New("basket: unsupported chain")
	ErrNoRewardsAvailable          = errors.New("basket: no rewards to claim")
	ErrInvalidPrice                = errors.New("basket: price must be positive")
	ErrNotInstantiated             = errors.New("basket: engine config not instantiated")
	ErrNotFound                    = errors.New("basket: not found")
	ErrStorage                     = errors.New("basket: storage failure")
)

// Package token validates chain-qualified token identities, basket names and
// basket weight lists before they reach the registry.
package token

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/euclidfi/basket-engine/internal/model"
)

// TotalWeight is the exact sum every basket's weights must reach.
const TotalWeight = 100

// MaxDecimals bounds the precision a token may declare.
const MaxDecimals = 36

var validChains = map[model.Chain]bool{
	model.ChainCosmos:   true,
	model.ChainEthereum: true,
	model.ChainPolygon:  true,
	model.ChainBinance:  true,
}

// evmChains carry hex contract addresses.
var evmChains = map[model.Chain]bool{
	model.ChainEthereum: true,
	model.ChainPolygon:  true,
	model.ChainBinance:  true,
}

// symbolRegex matches denoms such as "uatom", "USDC" or "ibc/27394FB0".
var symbolRegex = regexp.MustCompile(`^[A-Za-z0-9./_-]{1,64}$`)

// basketNameRegex matches lower-case slugs: "stable-mix", "blue.chips".
var basketNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// ParseChain maps a chain tag to the closed chain set.
func ParseChain(tag string) (model.Chain, error) {
	c := model.Chain(strings.ToLower(strings.TrimSpace(tag)))
	if !validChains[c] {
		return "", fmt.Errorf("%w: unknown chain %q", model.ErrInvalidToken, tag)
	}
	return c, nil
}

// IsEVM reports whether tokens on c are addressed by hex contract address.
func IsEVM(c model.Chain) bool {
	return evmChains[c]
}

// Normalize validates t and returns it with a canonical chain tag and, on
// EVM chains, an EIP-55 checksummed address.
func Normalize(t model.Token) (model.Token, error) {
	chain, err := ParseChain(string(t.Chain))
	if err != nil {
		return model.Token{}, err
	}
	t.Chain = chain

	if err := ValidateSymbol(t.Symbol); err != nil {
		return model.Token{}, err
	}
	if t.Decimals > MaxDecimals {
		return model.Token{}, fmt.Errorf("%w: %s declares %d decimals", model.ErrInvalidToken, t.Symbol, t.Decimals)
	}

	t.Address = strings.TrimSpace(t.Address)
	if IsEVM(chain) && t.Address != "" {
		if !common.IsHexAddress(t.Address) {
			return model.Token{}, fmt.Errorf("%w: %s address %q is not a hex address",
				model.ErrInvalidToken, t.Symbol, t.Address)
		}
		t.Address = common.HexToAddress(t.Address).Hex()
	}
	return t, nil
}

// ValidateSymbol checks a denom or ticker on its own.
func ValidateSymbol(symbol string) error {
	if !symbolRegex.MatchString(symbol) {
		return fmt.Errorf("%w: bad symbol %q", model.ErrInvalidToken, symbol)
	}
	return nil
}

// ValidateBasketName checks a registry key.
func ValidateBasketName(name string) error {
	if !basketNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", model.ErrInvalidBasketName, name)
	}
	return nil
}

// ValidateWeights normalizes every token and requires the weight list to be
// non-empty, free of duplicate symbols and to sum to exactly TotalWeight.
// Weights are never rescaled to make the sum fit.
func ValidateWeights(weights []model.TokenWeight) ([]model.TokenWeight, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: basket has no tokens", model.ErrInvalidWeights)
	}

	out := make([]model.TokenWeight, 0, len(weights))
	seen := make(map[string]bool, len(weights))
	sum := 0
	for _, tw := range weights {
		t, err := Normalize(tw.Token)
		if err != nil {
			return nil, err
		}
		if seen[t.Symbol] {
			return nil, fmt.Errorf("%w: duplicate token %s", model.ErrInvalidWeights, t.Symbol)
		}
		seen[t.Symbol] = true
		if tw.Weight > TotalWeight {
			return nil, fmt.Errorf("%w: %s weight %d exceeds %d", model.ErrInvalidWeights, t.Symbol, tw.Weight, TotalWeight)
		}
		sum += int(tw.Weight)
		out = append(out, model.TokenWeight{Token: t, Weight: tw.Weight})
	}

	if sum != TotalWeight {
		return nil, fmt.Errorf("%w: got %d", model.ErrInvalidWeights, sum)
	}
	return out, nil
}

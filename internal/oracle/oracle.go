// Package oracle adapts the price feed to the engine. The engine takes one
// snapshot per operation and never caches prices between operations.
package oracle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/euclidfi/basket-engine/internal/model"
	"github.com/euclidfi/basket-engine/internal/store"
	"github.com/euclidfi/basket-engine/internal/token"
)

// Oracle returns the current symbol → price mapping.
type Oracle interface {
	Snapshot(ctx context.Context) (model.PriceSnapshot, error)
}

// StoreOracle reads prices published under the store's price prefix.
type StoreOracle struct {
	r store.Reader
}

// NewStoreOracle creates an oracle over r.
func NewStoreOracle(r store.Reader) *StoreOracle {
	return &StoreOracle{r: r}
}

func (o *StoreOracle) Snapshot(ctx context.Context) (model.PriceSnapshot, error) {
	return store.LoadPrices(ctx, o.r)
}

// Static is a fixed snapshot, used in tests and for dry runs.
type Static model.PriceSnapshot

func (s Static) Snapshot(context.Context) (model.PriceSnapshot, error) {
	return model.PriceSnapshot(s).Clone(), nil
}

// ValidatePrice checks a feed update before it is staged.
func ValidatePrice(symbol string, price decimal.Decimal) error {
	if err := token.ValidateSymbol(symbol); err != nil {
		return err
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: %s=%s", model.ErrInvalidPrice, symbol, price)
	}
	return nil
}

// Stage validates and stages a price update on t.
func Stage(t *store.Txn, symbol string, price decimal.Decimal) error {
	if err := ValidatePrice(symbol, price); err != nil {
		return err
	}
	return store.SavePrice(t, symbol, price)
}

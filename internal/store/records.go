package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/euclidfi/basket-engine/internal/model"
)

// Typed accessors over the key layout. Absent records come back as nil with
// a nil error; every backend or codec failure is wrapped in model.ErrStorage.

// LoadConfig returns the global configuration or model.ErrNotInstantiated.
func LoadConfig(ctx context.Context, r Reader) (*model.GlobalConfig, error) {
	var cfg model.GlobalConfig
	found, err := load(ctx, r, ConfigKey, &cfg)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, model.ErrNotInstantiated
	}
	return &cfg, nil
}

// FindBasket returns the basket stored under name, or nil.
func FindBasket(ctx context.Context, r Reader, name string) (*model.BasketConfig, error) {
	var b model.BasketConfig
	found, err := load(ctx, r, keyForBasket(name), &b)
	if err != nil || !found {
		return nil, err
	}
	return &b, nil
}

// ListBaskets returns every basket ordered by name.
func ListBaskets(ctx context.Context, r Reader) ([]model.BasketConfig, error) {
	entries, err := r.Scan(ctx, BasketPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	out := make([]model.BasketConfig, 0, len(entries))
	for _, e := range entries {
		var b model.BasketConfig
		if err := json.Unmarshal(e.Value, &b); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %w", model.ErrStorage, e.Key, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// FindPortfolio returns the portfolio owned by owner, or nil.
func FindPortfolio(ctx context.Context, r Reader, owner string) (*model.UserPortfolio, error) {
	var p model.UserPortfolio
	found, err := load(ctx, r, keyForPortfolio(owner), &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

// LoadPrices reads the whole price feed into a snapshot.
func LoadPrices(ctx context.Context, r Reader) (model.PriceSnapshot, error) {
	entries, err := r.Scan(ctx, PricePrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	out := make(model.PriceSnapshot, len(entries))
	for _, e := range entries {
		var px decimal.Decimal
		if err := json.Unmarshal(e.Value, &px); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %w", model.ErrStorage, e.Key, err)
		}
		out[strings.TrimPrefix(e.Key, PricePrefix)] = px
	}
	return out, nil
}

// SaveConfig stages the global configuration.
func SaveConfig(t *Txn, cfg *model.GlobalConfig) error {
	return save(t, ConfigKey, cfg)
}

// SaveBasket stages a basket under its name.
func SaveBasket(t *Txn, b *model.BasketConfig) error {
	return save(t, keyForBasket(b.Name), b)
}

// SavePortfolio stages a portfolio under its owner.
func SavePortfolio(t *Txn, p *model.UserPortfolio) error {
	return save(t, keyForPortfolio(p.Owner), p)
}

// SavePrice stages a price feed entry.
func SavePrice(t *Txn, symbol string, price decimal.Decimal) error {
	return save(t, keyForPrice(symbol), price)
}

func load(ctx context.Context, r Reader, key string, dst any) (bool, error) {
	data, err := r.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("%w: decode %s: %w", model.ErrStorage, key, err)
	}
	return true, nil
}

func save(t *Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", model.ErrStorage, key, err)
	}
	t.Put(key, data)
	return nil
}

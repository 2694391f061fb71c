// Package store defines the persistence interface for the basket engine.
// Implementations include PostgreSQL and LevelDB (durable), Redis (read-through
// cache in front of a durable store), and in-memory (for testing).
//
// The engine sees a flat key space with four collections:
//
//	config                  GlobalConfig singleton
//	basket/<name>           BasketConfig by name
//	portfolio/<address>     UserPortfolio by owner
//	price/<symbol>          PriceFeed by symbol (written by the oracle)
package store

import (
	"context"
	"errors"
)

// Key layout.
const (
	ConfigKey       = "config"
	BasketPrefix    = "basket/"
	PortfolioPrefix = "portfolio/"
	PricePrefix     = "price/"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("store: key not found")

// Entry is one key/value pair returned by Scan.
type Entry struct {
	Key   string
	Value []byte
}

// Op is a single write in a Batch. Delete ignores Value.
type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

// Batch is an ordered write-set applied atomically by KV.Apply.
type Batch struct {
	Ops []Op
}

// Put appends a write.
func (b *Batch) Put(key string, value []byte) {
	b.Ops = append(b.Ops, Op{Key: key, Value: value})
}

// Delete appends a removal.
func (b *Batch) Delete(key string) {
	b.Ops = append(b.Ops, Op{Key: key, Delete: true})
}

// Len returns the number of writes.
func (b *Batch) Len() int { return len(b.Ops) }

// Reader is the read half of the store, shared by KV and Txn.
type Reader interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Scan returns every entry whose key starts with prefix, sorted by key.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
}

// KV is the persistence interface. Every backend must apply a Batch
// all-or-nothing.
type KV interface {
	Reader

	// Put stores a single value.
	Put(ctx context.Context, key string, value []byte) error

	// Apply commits every write in the batch atomically.
	Apply(ctx context.Context, batch *Batch) error

	// Close releases backend resources.
	Close() error
}

func keyForBasket(name string) string     { return BasketPrefix + name }
func keyForPortfolio(owner string) string { return PortfolioPrefix + owner }
func keyForPrice(symbol string) string    { return PricePrefix + symbol }

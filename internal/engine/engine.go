// Package engine is the operation dispatcher. Every state-changing request
// runs as one unit: records are loaded through a staged transaction, the
// pure domain packages decide the outcome, and the whole write-set is
// committed with a single atomic store apply. A failed operation commits
// nothing.
//
// Execute is serialized by a mutex (single writer). Queries share a read
// lock so they never interleave with a commit, which also keeps the Redis
// read-through cache from repopulating a key mid-apply.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/euclidfi/basket-engine/internal/metrics"
	"github.com/euclidfi/basket-engine/internal/model"
	"github.com/euclidfi/basket-engine/internal/oracle"
	"github.com/euclidfi/basket-engine/internal/portfolio"
	"github.com/euclidfi/basket-engine/internal/registry"
	"github.com/euclidfi/basket-engine/internal/store"
)

// Result is the outcome of a committed operation: the transfer instructions
// the host must execute and a flat attribute summary.
type Result struct {
	ID         string            `json:"id"`
	Op         string            `json:"op"`
	Caller     string            `json:"caller"`
	Timestamp  time.Time         `json:"timestamp"`
	Transfers  []model.Transfer  `json:"transfers"`
	Attributes map[string]string `json:"attributes"`

	config  *model.GlobalConfig
	baskets []*model.BasketConfig
	keys    []string // records written by the commit
}

func (r *Result) set(key, value string) { r.Attributes[key] = value }

// touched records the aggregates written by the operation for the gauges.
func (r *Result) touched(cfg *model.GlobalConfig, baskets ...*model.BasketConfig) {
	r.config = cfg
	r.baskets = append(r.baskets, baskets...)
}

// Event is published to subscribers after every commit.
type Event struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Op         string            `json:"op"`
	Caller     string            `json:"caller"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes"`
	Transfers  []model.Transfer  `json:"transfers,omitempty"`
}

// Publisher receives committed-operation events. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// Engine dispatches operations against a KV store.
type Engine struct {
	kv        store.KV
	oracle    oracle.Oracle
	router    portfolio.Router
	policy    registry.TVLPolicy
	feeder    string
	now       func() time.Time
	publisher Publisher
	log       *slog.Logger
	mu        sync.RWMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithOracle overrides the store-backed price feed.
func WithOracle(o oracle.Oracle) Option { return func(e *Engine) { e.oracle = o } }

// WithRouter sets the transfer router (bridge contract for Ethereum tokens).
func WithRouter(r portfolio.Router) Option { return func(e *Engine) { e.router = r } }

// WithTVLPolicy selects whether withdrawals decrement TVL.
func WithTVLPolicy(p registry.TVLPolicy) Option { return func(e *Engine) { e.policy = p } }

// WithPriceFeeder names the only identity allowed to publish prices.
func WithPriceFeeder(identity string) Option { return func(e *Engine) { e.feeder = identity } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithPublisher attaches a committed-operation subscriber.
func WithPublisher(p Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// New creates an engine over kv.
func New(kv store.KV, opts ...Option) *Engine {
	e := &Engine{
		kv:     kv,
		router: portfolio.NewRouter(""),
		policy: registry.TVLGross,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.oracle == nil {
		e.oracle = oracle.NewStoreOracle(kv)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Execute runs op on behalf of caller and commits its writes atomically.
func (e *Engine) Execute(ctx context.Context, caller string, op Op) (*Result, error) {
	start := time.Now()
	name := op.Action()

	e.mu.Lock()
	res, err := e.execute(ctx, caller, op)
	e.mu.Unlock()

	metrics.OperationLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OperationsTotal.WithLabelValues(name, Kind(err)).Inc()
		e.log.Warn("operation rejected", "op", name, "caller", caller, "kind", Kind(err), "err", err)
		return nil, err
	}
	metrics.OperationsTotal.WithLabelValues(name, "ok").Inc()
	e.observe(res)

	e.log.Info("operation committed",
		"id", res.ID,
		"op", name,
		"caller", caller,
		"transfers", len(res.Transfers),
		"writes", res.keys,
		"attributes", res.Attributes,
	)

	if e.publisher != nil {
		e.publisher.Publish(Event{
			Type:       "operation_committed",
			ID:         res.ID,
			Op:         res.Op,
			Caller:     res.Caller,
			Timestamp:  res.Timestamp,
			Attributes: res.Attributes,
			Transfers:  res.Transfers,
		})
	}
	return res, nil
}

func (e *Engine) execute(ctx context.Context, caller string, op Op) (*Result, error) {
	res := &Result{
		ID:         uuid.NewString(),
		Op:         op.Action(),
		Caller:     caller,
		Timestamp:  e.clock(),
		Transfers:  []model.Transfer{},
		Attributes: map[string]string{"action": op.Action()},
	}
	tx := store.Begin(e.kv)
	if err := op.apply(ctx, e, tx, caller, res); err != nil {
		return nil, err
	}
	res.keys = tx.Keys()
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit %s: %w", model.ErrStorage, res.Op, err)
	}
	return res, nil
}

// clock returns the current time at whole-second resolution in UTC.
func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Second)
}

func (e *Engine) prices(ctx context.Context) (model.PriceSnapshot, error) {
	snap, err := e.oracle.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: price snapshot: %w", model.ErrStorage, err)
	}
	return snap, nil
}

func (e *Engine) observe(res *Result) {
	for _, t := range res.Transfers {
		metrics.TransfersEmitted.WithLabelValues(string(t.Kind), string(t.Purpose)).Inc()
	}
	if res.config != nil {
		metrics.TotalValueLocked.Set(res.config.TotalValueLocked.InexactFloat64())
		metrics.TotalUsers.Set(float64(res.config.TotalUsers))
	}
	for _, b := range res.baskets {
		metrics.BasketValueLocked.WithLabelValues(b.Name).Set(b.TotalValueLocked.InexactFloat64())
	}
}

package store

import (
	"context"
	"sort"
	"strings"
)

// Txn stages writes in memory on top of a KV. Reads observe the staged
// writes; nothing reaches the backend until Commit, which hands the whole
// write-set to KV.Apply. Discarding a Txn discards every staged write.
type Txn struct {
	kv      KV
	staged  map[string][]byte
	deleted map[string]bool
	order   []string
}

// Begin starts a transaction over kv.
func Begin(kv KV) *Txn {
	return &Txn{
		kv:      kv,
		staged:  make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

func (t *Txn) Get(ctx context.Context, key string) ([]byte, error) {
	if t.deleted[key] {
		return nil, ErrNotFound
	}
	if v, ok := t.staged[key]; ok {
		return clone(v), nil
	}
	return t.kv.Get(ctx, key)
}

func (t *Txn) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	base, err := t.kv.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	merged := make(map[string][]byte, len(base))
	for _, e := range base {
		merged[e.Key] = e.Value
	}
	for k, v := range t.staged {
		if strings.HasPrefix(k, prefix) {
			merged[k] = clone(v)
		}
	}
	for k := range t.deleted {
		delete(merged, k)
	}

	out := make([]Entry, 0, len(merged))
	for k, v := range merged {
		out = append(out, Entry{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Put stages a write.
func (t *Txn) Put(key string, value []byte) {
	if _, ok := t.staged[key]; !ok && !t.deleted[key] {
		t.order = append(t.order, key)
	}
	delete(t.deleted, key)
	t.staged[key] = clone(value)
}

// Delete stages a removal.
func (t *Txn) Delete(key string) {
	if _, ok := t.staged[key]; !ok && !t.deleted[key] {
		t.order = append(t.order, key)
	}
	delete(t.staged, key)
	t.deleted[key] = true
}

// Batch returns the staged write-set in first-touch order.
func (t *Txn) Batch() *Batch {
	b := &Batch{Ops: make([]Op, 0, len(t.order))}
	for _, k := range t.order {
		if t.deleted[k] {
			b.Delete(k)
			continue
		}
		b.Put(k, t.staged[k])
	}
	return b
}

// Keys returns the touched keys in first-touch order.
func (t *Txn) Keys() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Commit applies the staged writes atomically.
func (t *Txn) Commit(ctx context.Context) error {
	return t.kv.Apply(ctx, t.Batch())
}

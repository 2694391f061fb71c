package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore implements KV on an embedded LevelDB database, for single-node
// deployments without PostgreSQL.
type LevelStore struct {
	db *leveldb.DB
}

// NewLevelStore opens (or creates) a LevelDB database at path.
func NewLevelStore(path string) (*LevelStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelStore{db: db}, nil
}

// NewLevelStoreFromDB wraps an already opened database.
func NewLevelStoreFromDB(db *leveldb.DB) *LevelStore {
	return &LevelStore{db: db}
}

func (s *LevelStore) Get(_ context.Context, key string) ([]byte, error) {
	v, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *LevelStore) Scan(_ context.Context, prefix string) ([]Entry, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var entries []Entry
	for iter.Next() {
		entries = append(entries, Entry{
			Key:   string(iter.Key()),
			Value: clone(iter.Value()),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	return entries, nil
}

func (s *LevelStore) Put(_ context.Context, key string, value []byte) error {
	return s.db.Put([]byte(key), value, &opt.WriteOptions{Sync: true})
}

// Apply writes the batch through leveldb.Batch, which LevelDB commits atomically.
func (s *LevelStore) Apply(_ context.Context, batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	b := new(leveldb.Batch)
	for _, op := range batch.Ops {
		if op.Delete {
			b.Delete([]byte(op.Key))
			continue
		}
		b.Put([]byte(op.Key), op.Value)
	}
	if err := s.db.Write(b, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	return nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

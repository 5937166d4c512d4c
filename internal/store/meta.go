package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/miradorstack/mirador-remediation/internal/cache"
)

const prefixMeta = "meta/"

// MetaProvider is a cache.Provider over the store's meta/ keyspace. It lets
// checkpoints survive a restart when no external cache is configured.
type MetaProvider struct {
	s *BadgerStore
}

var _ cache.Provider = (*MetaProvider)(nil)

// Meta returns a cache.Provider backed by this store. Closing it is a no-op;
// the store owns the database.
func (s *BadgerStore) Meta() *MetaProvider { return &MetaProvider{s: s} }

func (m *MetaProvider) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := m.s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixMeta + key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, cache.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get meta %s: %w", key, err)
	}
	return out, nil
}

func (m *MetaProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(metaEntry(key, value, ttl))
	}); err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

func (m *MetaProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.s.writeMu.Lock()
	defer m.s.writeMu.Unlock()
	created := false
	err := m.s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(prefixMeta + key))
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		created = true
		return txn.SetEntry(metaEntry(key, value, ttl))
	})
	if err != nil {
		return false, fmt.Errorf("setnx meta %s: %w", key, err)
	}
	return created, nil
}

func (m *MetaProvider) Del(_ context.Context, key string) error {
	return m.s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixMeta + key))
	})
}

func (m *MetaProvider) Close() error { return nil }

func metaEntry(key string, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(prefixMeta+key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

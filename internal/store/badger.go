package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/miradorstack/mirador-remediation/internal/models"
	"github.com/miradorstack/mirador-remediation/internal/utils"
)

const (
	prefixEvent    = "evt/"
	prefixIncident = "inc/"
	prefixAction   = "act/"
	keySequence    = "seq/records"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	// GCInterval enables periodic value-log GC when positive and the store is on disk.
	GCInterval     time.Duration
	GCDiscardRatio float64
	Logger         *slog.Logger
}

// BadgerStore is a durable Store backed by an embedded Badger database.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	// writeMu serialises read-modify-write updates so a racing loser sees the
	// winner's result instead of a transaction conflict.
	writeMu sync.Mutex
	logger  *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}
}

// envelope records insertion order, which Badger's key order does not give us.
type envelope struct {
	Seq  uint64          `json:"seq"`
	Data json.RawMessage `json:"data"`
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens (creating if needed) a Badger-backed store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("storage path is required for persistent database")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	seq, err := db.GetSequence([]byte(keySequence), 256)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open badger sequence: %w", err)
	}

	s := &BadgerStore{db: db, seq: seq, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, ratio)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC error", slog.Any("error", err))
			}
		}
	}
}

func (s *BadgerStore) put(txn *badger.Txn, key string, seq uint64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	raw, err := json.Marshal(envelope{Seq: seq, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), raw)
}

func get(txn *badger.Txn, key string, v any) (uint64, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, fmt.Errorf("%s: %w", key, utils.ErrNotFound)
		}
		return 0, err
	}
	var env envelope
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &env) }); err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return env.Seq, nil
}

// scan decodes every value under prefix, ordered by insertion sequence.
func scan[T any](db *badger.DB, prefix string) ([]T, error) {
	type row struct {
		seq uint64
		val T
	}
	var rows []row
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var env envelope
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &env) }); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			var v T
			if err := json.Unmarshal(env.Data, &v); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			rows = append(rows, row{seq: env.Seq, val: v})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]T, len(rows))
	for i, r := range rows {
		out[i] = r.val
	}
	return out, nil
}

func (s *BadgerStore) AppendEvents(_ context.Context, events []models.LogEvent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		for _, ev := range events {
			if ev.ID == "" {
				return fmt.Errorf("append event: empty id")
			}
			key := prefixEvent + ev.ID
			if _, err := txn.Get([]byte(key)); err == nil {
				continue
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			seq, err := s.seq.Next()
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}
			if err := s.put(txn, key, seq, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) GetEvent(_ context.Context, id string) (models.LogEvent, error) {
	var ev models.LogEvent
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := get(txn, prefixEvent+id, &ev)
		return err
	})
	return ev, err
}

func (s *BadgerStore) RecentEvents(_ context.Context, limit int) ([]models.LogEvent, error) {
	events, err := scan[models.LogEvent](s.db, prefixEvent)
	if err != nil {
		return nil, err
	}
	sortEvents(events)
	return tailEvents(events, limit), nil
}

func (s *BadgerStore) CountEvents(context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixEvent)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *BadgerStore) SaveIncident(_ context.Context, incident models.Incident) error {
	if incident.ID == "" {
		return fmt.Errorf("save incident: empty id")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return s.upsert(txn, prefixIncident+incident.ID, incident)
	})
}

// upsert keeps the original sequence of an existing key.
func (s *BadgerStore) upsert(txn *badger.Txn, key string, v any) error {
	var seq uint64
	item, err := txn.Get([]byte(key))
	switch {
	case err == nil:
		var env envelope
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &env) }); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		seq = env.Seq
	case errors.Is(err, badger.ErrKeyNotFound):
		if seq, err = s.seq.Next(); err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
	default:
		return err
	}
	return s.put(txn, key, seq, v)
}

func (s *BadgerStore) GetIncident(_ context.Context, id string) (models.Incident, error) {
	var inc models.Incident
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := get(txn, prefixIncident+id, &inc)
		return err
	})
	return inc, err
}

func (s *BadgerStore) ListIncidents(context.Context) ([]models.Incident, error) {
	incidents, err := scan[models.Incident](s.db, prefixIncident)
	if err != nil {
		return nil, err
	}
	// Newest first; equal timestamps keep the most recently inserted first.
	for i, j := 0, len(incidents)-1; i < j; i, j = i+1, j-1 {
		incidents[i], incidents[j] = incidents[j], incidents[i]
	}
	sortIncidentsNewestFirst(incidents)
	return incidents, nil
}

func (s *BadgerStore) UpdateIncident(_ context.Context, id string, fn func(*models.Incident) error) (models.Incident, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var inc models.Incident
	err := s.db.Update(func(txn *badger.Txn) error {
		key := prefixIncident + id
		seq, err := get(txn, key, &inc)
		if err != nil {
			return err
		}
		if err := fn(&inc); err != nil {
			return err
		}
		return s.put(txn, key, seq, inc)
	})
	if err != nil {
		return models.Incident{}, err
	}
	return inc, nil
}

func (s *BadgerStore) SaveActions(_ context.Context, actions []models.RemediationAction) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		for _, a := range actions {
			if a.ID == "" {
				return fmt.Errorf("save action: empty id")
			}
			if err := s.upsert(txn, prefixAction+a.ID, a); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) GetAction(_ context.Context, id string) (models.RemediationAction, error) {
	var a models.RemediationAction
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := get(txn, prefixAction+id, &a)
		return err
	})
	return a, err
}

func (s *BadgerStore) ListActions(context.Context) ([]models.RemediationAction, error) {
	return scan[models.RemediationAction](s.db, prefixAction)
}

func (s *BadgerStore) UpdateAction(_ context.Context, id string, fn func(*models.RemediationAction) error) (models.RemediationAction, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var current models.RemediationAction
	err := s.db.Update(func(txn *badger.Txn) error {
		key := prefixAction + id
		seq, err := get(txn, key, &current)
		if err != nil {
			return err
		}
		working := cloneAction(current)
		if err := fn(&working); err != nil {
			return err
		}
		current = working
		return s.put(txn, key, seq, working)
	})
	if err != nil {
		return current, err
	}
	return current, nil
}

// Reset drops every key, including the sequence lease.
func (s *BadgerStore) Reset(context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.seq.Release(); err != nil {
		return fmt.Errorf("release sequence: %w", err)
	}
	if err := s.db.DropPrefix([]byte(prefixEvent), []byte(prefixIncident), []byte(prefixAction), []byte(keySequence)); err != nil {
		return fmt.Errorf("drop records: %w", err)
	}
	seq, err := s.db.GetSequence([]byte(keySequence), 256)
	if err != nil {
		return fmt.Errorf("open badger sequence: %w", err)
	}
	s.seq = seq
	return nil
}

func (s *BadgerStore) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("release badger sequence", slog.Any("error", err))
	}
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)

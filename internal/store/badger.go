package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
)

// Badger implements Store using BadgerDB
type Badger struct {
	db *badger.DB
}

// OpenBadger opens a badger-backed store. An empty path keeps everything in memory.
func OpenBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	// Metadata is small; keep badger quiet and lean.
	opts = opts.WithLogger(nil).
		WithBlockCacheSize(16 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Badger{db: db}, nil
}

// Get gets a node
func (s *Badger) Get(ctx context.Context, path string, out interface{}) (int64, error) {
	var env envelope

	err := s.db.View(func(txn *badger.Txn) error {
		e, err := readEnvelope(txn, path)
		if err != nil {
			return err
		}
		env = e
		return nil
	})
	if err != nil {
		return 0, err
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return 0, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return env.Version, nil
}

// Create creates a node
func (s *Badger) Create(ctx context.Context, path string, v interface{}) (int64, error) {
	var version int64
	err := s.update(func(txn *badger.Txn) error {
		var err error
		version, err = apply(txn, Create(path, v))
		return err
	})
	return version, err
}

// Update updates a node
func (s *Badger) Update(ctx context.Context, path string, v interface{}, version int64) (int64, error) {
	var next int64
	err := s.update(func(txn *badger.Txn) error {
		var err error
		next, err = apply(txn, Update(path, v, version))
		return err
	})
	return next, err
}

// Delete deletes a node
func (s *Badger) Delete(ctx context.Context, path string, version int64) error {
	return s.update(func(txn *badger.Txn) error {
		_, err := apply(txn, Delete(path, version))
		return err
	})
}

// Multi commits ops in one transaction
func (s *Badger) Multi(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}
	return s.update(func(txn *badger.Txn) error {
		for _, op := range ops {
			if _, err := apply(txn, op); err != nil {
				return fmt.Errorf("%s %s: %w", op.Type, op.Path, err)
			}
		}
		return nil
	})
}

// List returns nodes under prefix
func (s *Badger) List(ctx context.Context, prefix string) ([]Record, error) {
	var records []Record

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var env envelope
			if err := json.Unmarshal(val, &env); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			records = append(records, Record{
				Path:    string(item.KeyCopy(nil)),
				Version: env.Version,
				data:    env.Data,
			})
		}
		return nil
	})

	return records, err
}

// Watch subscribes to changes under prefix
func (s *Badger) Watch(ctx context.Context, prefix string, fn func(Record)) error {
	match := []pb.Match{{Prefix: []byte(prefix)}}

	err := s.db.Subscribe(ctx, func(kvs *badger.KVList) error {
		for _, kv := range kvs.Kv {
			rec := Record{Path: string(kv.Key)}
			if len(kv.Value) == 0 {
				rec.Deleted = true
				fn(rec)
				continue
			}
			var env envelope
			if err := json.Unmarshal(kv.Value, &env); err != nil {
				continue
			}
			rec.Version = env.Version
			rec.data = env.Data
			fn(rec)
		}
		return nil
	}, match)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Close closes db
func (s *Badger) Close() error {
	return s.db.Close()
}

func (s *Badger) update(fn func(txn *badger.Txn) error) error {
	err := s.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return ErrVersionConflict
	}
	return err
}

func readEnvelope(txn *badger.Txn, path string) (envelope, error) {
	var env envelope

	item, err := txn.Get([]byte(path))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return env, ErrNotFound
		}
		return env, err
	}

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &env)
	})
	return env, err
}

func apply(txn *badger.Txn, op Op) (int64, error) {
	if !strings.HasPrefix(op.Path, "/") {
		return 0, fmt.Errorf("invalid path %q", op.Path)
	}

	cur, err := readEnvelope(txn, op.Path)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	switch op.Type {
	case OpCreate:
		if exists {
			return 0, ErrExists
		}
		return write(txn, op.Path, op.Value, 1)

	case OpUpdate:
		if !exists {
			return 0, ErrNotFound
		}
		if op.Version != AnyVersion && op.Version != cur.Version {
			return 0, ErrVersionConflict
		}
		return write(txn, op.Path, op.Value, cur.Version+1)

	case OpDelete:
		if !exists {
			return 0, ErrNotFound
		}
		if op.Version != AnyVersion && op.Version != cur.Version {
			return 0, ErrVersionConflict
		}
		return 0, txn.Delete([]byte(op.Path))
	}

	return 0, fmt.Errorf("unknown op %d", op.Type)
}

func write(txn *badger.Txn, path string, v interface{}, version int64) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", path, err)
	}

	buf, err := json.Marshal(envelope{Version: version, Data: data})
	if err != nil {
		return 0, err
	}

	if err := txn.Set([]byte(path), buf); err != nil {
		return 0, err
	}
	return version, nil
}

var _ Store = (*Badger)(nil)

// Package badgerstore is the embedded engine adapter for storage.DB,
// backed by github.com/dgraph-io/badger/v4 (grounded on the badger usage in
// other_examples/Charizard13-badger, which keys its LSM tree with the same
// "prefix byte tag + big-endian id" scheme this server uses).
//
// Badger has no native concept of independent named trees, so each tree is
// just a further key prefix (treeName + 0x00 + key) within one shared
// badger.DB. This keeps the storage.Tree contract (independent iteration,
// independent batches) intact: ApplyBatch never crosses tree boundaries
// because callers never hold two Tree handles in one batch.
package badgerstore

import (
	"bytes"
	"context"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/storage"
)

type DB struct {
	bdb    *badger.DB
	logger *zap.Logger
}

// Open opens (or creates) a badger database rooted at dir. Pass dir == ""
// together with inMemory == true for ephemeral test databases.
func Open(dir string, inMemory bool, logger *zap.Logger) (*DB, error) {
	opts := badger.DefaultOptions(dir)
	opts = opts.WithLogger(nil) // we log ourselves, through zap
	if inMemory {
		opts = opts.WithInMemory(true)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, storage.WrapErr("badger.Open", err)
	}

	logger.Info("opened badger storage engine", zap.String("dir", dir), zap.Bool("in_memory", inMemory))
	return &DB{bdb: bdb, logger: logger}, nil
}

func (d *DB) Close() error {
	return storage.WrapErr("badger.Close", d.bdb.Close())
}

func (d *DB) OpenTree(_ context.Context, name string) (storage.Tree, error) {
	return &tree{bdb: d.bdb, prefix: append([]byte(name), 0x00)}, nil
}

type tree struct {
	bdb    *badger.DB
	prefix []byte
}

func (t *tree) scoped(key []byte) []byte {
	out := make([]byte, 0, len(t.prefix)+len(key))
	out = append(out, t.prefix...)
	out = append(out, key...)
	return out
}

func (t *tree) unscope(key []byte) []byte {
	return key[len(t.prefix):]
}

func (t *tree) Get(_ context.Context, key []byte) ([]byte, error) {
	var out []byte
	err := t.bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get(t.scoped(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, storage.WrapErr("badger.Get", err)
	}
	return out, nil
}

func (t *tree) Insert(ctx context.Context, key, value []byte) ([]byte, error) {
	prev, err := t.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	err = t.bdb.Update(func(txn *badger.Txn) error {
		return txn.Set(t.scoped(key), value)
	})
	if err != nil {
		return nil, storage.WrapErr("badger.Insert", err)
	}
	return prev, nil
}

func (t *tree) Remove(ctx context.Context, key []byte) ([]byte, error) {
	prev, err := t.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}
	err = t.bdb.Update(func(txn *badger.Txn) error {
		return txn.Delete(t.scoped(key))
	})
	if err != nil {
		return nil, storage.WrapErr("badger.Remove", err)
	}
	return prev, nil
}

func (t *tree) Contains(_ context.Context, key []byte) (bool, error) {
	var found bool
	err := t.bdb.View(func(txn *badger.Txn) error {
		_, err := txn.Get(t.scoped(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, storage.WrapErr("badger.Contains", err)
	}
	return found, nil
}

func (t *tree) ScanPrefix(_ context.Context, prefix []byte) ([]storage.Entry, error) {
	scopedPrefix := t.scoped(prefix)
	var entries []storage.Entry
	err := t.bdb.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = scopedPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(scopedPrefix); it.ValidForPrefix(scopedPrefix); it.Next() {
			item := it.Item()
			k := t.unscope(append([]byte(nil), item.Key()...))
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, storage.Entry{Key: k, Value: v})
		}
		return nil
	})
	if err != nil {
		return nil, storage.WrapErr("badger.ScanPrefix", err)
	}
	return entries, nil
}

func (t *tree) Range(_ context.Context, from, to []byte) ([]storage.Entry, error) {
	scopedFrom := t.scoped(from)
	scopedTo := t.scoped(to)
	var entries []storage.Entry
	err := t.bdb.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(scopedFrom); it.Valid(); it.Next() {
			item := it.Item()
			k := append([]byte(nil), item.Key()...)
			if bytes.Compare(k, scopedTo) > 0 {
				break
			}
			unscoped := t.unscope(k)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, storage.Entry{Key: unscoped, Value: v})
		}
		return nil
	})
	if err != nil {
		return nil, storage.WrapErr("badger.Range", err)
	}
	return entries, nil
}

func (t *tree) ApplyBatch(_ context.Context, batch *storage.Batch) error {
	wb := t.bdb.NewWriteBatch()
	defer wb.Cancel()
	for _, op := range batch.Ops() {
		k := t.scoped(op.Key)
		if op.Value == nil {
			if err := wb.Delete(k); err != nil {
				return storage.WrapErr("badger.ApplyBatch", err)
			}
			continue
		}
		if err := wb.Set(k, op.Value); err != nil {
			return storage.WrapErr("badger.ApplyBatch", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return storage.WrapErr("badger.ApplyBatch", err)
	}
	return nil
}

func (t *tree) VerifyIntegrity(_ context.Context) error {
	// Badger doesn't expose a lightweight per-prefix integrity check; the
	// engine-level Flatten/ValueLogGC machinery covers corruption detection
	// at the DB level. This is a deliberate no-op, kept to satisfy the
	// interface the source's sled adapter also has to implement.
	return nil
}

// Package sqlstore is the SQL-table engine adapter for storage.DB
// (spec.md §4.1: "a SQL-table engine (one table per tree with
// (key BLOB PRIMARY KEY, value BLOB))"). It's built on jackc/pgx/v5's
// pgxpool the same way the teacher's internal/db wires Postgres, just
// generalized from hand-written per-entity queries to one generic
// key/value table per tree.
package sqlstore

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/storage"
)

// DB owns the pool and makes sure every tree it hands out has its backing
// table created first.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var validTreeName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func tableName(tree string) (string, error) {
	if !validTreeName.MatchString(tree) {
		return "", fmt.Errorf("sqlstore: invalid tree name %q", tree)
	}
	return "kv_" + tree, nil
}

func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, storage.WrapErr("sqlstore.Open", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storage.WrapErr("sqlstore.Ping", err)
	}
	logger.Info("opened sql storage engine")
	return &DB{pool: pool, logger: logger}, nil
}

func (d *DB) Close() error {
	d.pool.Close()
	return nil
}

func (d *DB) OpenTree(ctx context.Context, name string) (storage.Tree, error) {
	table, err := tableName(name)
	if err != nil {
		return nil, err
	}
	_, err = d.pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (key BYTEA PRIMARY KEY, value BYTEA NOT NULL)`, table))
	if err != nil {
		return nil, storage.WrapErr("sqlstore.OpenTree", err)
	}
	return &tree{pool: d.pool, table: table}, nil
}

type tree struct {
	pool  *pgxpool.Pool
	table string
}

func (t *tree) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := t.pool.QueryRow(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, t.table), key).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, storage.WrapErr("sqlstore.Get", err)
	}
	return value, nil
}

func (t *tree) Insert(ctx context.Context, key, value []byte) ([]byte, error) {
	prev, err := t.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	_, err = t.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, t.table), key, value)
	if err != nil {
		return nil, storage.WrapErr("sqlstore.Insert", err)
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
	_, err = t.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, t.table), key)
	if err != nil {
		return nil, storage.WrapErr("sqlstore.Remove", err)
	}
	return prev, nil
}

func (t *tree) Contains(ctx context.Context, key []byte) (bool, error) {
	var exists bool
	err := t.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE key = $1)`, t.table), key).Scan(&exists)
	if err != nil {
		return false, storage.WrapErr("sqlstore.Contains", err)
	}
	return exists, nil
}

func (t *tree) ScanPrefix(ctx context.Context, prefix []byte) ([]storage.Entry, error) {
	// BYTEA comparison in Postgres is byte-wise, so an upper bound one past
	// the prefix gives us a plain range scan; empty prefix means "everything".
	upper := prefixUpperBound(prefix)
	var rows pgx.Rows
	var err error
	if upper == nil {
		rows, err = t.pool.Query(ctx, fmt.Sprintf(
			`SELECT key, value FROM %s WHERE key >= $1 ORDER BY key`, t.table), prefix)
	} else {
		rows, err = t.pool.Query(ctx, fmt.Sprintf(
			`SELECT key, value FROM %s WHERE key >= $1 AND key < $2 ORDER BY key`, t.table), prefix, upper)
	}
	if err != nil {
		return nil, storage.WrapErr("sqlstore.ScanPrefix", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (t *tree) Range(ctx context.Context, from, to []byte) ([]storage.Entry, error) {
	rows, err := t.pool.Query(ctx, fmt.Sprintf(
		`SELECT key, value FROM %s WHERE key >= $1 AND key <= $2 ORDER BY key`, t.table), from, to)
	if err != nil {
		return nil, storage.WrapErr("sqlstore.Range", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]storage.Entry, error) {
	var entries []storage.Entry
	for rows.Next() {
		var e storage.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, storage.WrapErr("sqlstore.scan", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapErr("sqlstore.iterate", err)
	}
	return entries, nil
}

func (t *tree) ApplyBatch(ctx context.Context, batch *storage.Batch) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return storage.WrapErr("sqlstore.ApplyBatch.begin", err)
	}
	defer tx.Rollback(ctx)

	for _, op := range batch.Ops() {
		if op.Value == nil {
			if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, t.table), op.Key); err != nil {
				return storage.WrapErr("sqlstore.ApplyBatch.delete", err)
			}
			continue
		}
		_, err := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, t.table), op.Key, op.Value)
		if err != nil {
			return storage.WrapErr("sqlstore.ApplyBatch.upsert", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.WrapErr("sqlstore.ApplyBatch.commit", err)
	}
	return nil
}

func (t *tree) VerifyIntegrity(ctx context.Context) error {
	var one int
	err := t.pool.QueryRow(ctx, `SELECT 1`).Scan(&one)
	return storage.WrapErr("sqlstore.VerifyIntegrity", err)
}

// prefixUpperBound returns the smallest byte string greater than every
// string with the given prefix, or nil if the prefix is all 0xff (meaning
// "no upper bound, scan to the end of the table").
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// Package codec is the entity wire codec (spec.md §4.3). Every tree stores
// msgpack-encoded bytes; this package is the only place that knows how to
// turn those bytes into a models.* struct and back, plus an LRU memoization
// layer so a hot key (a guild's default role, a channel's latest message)
// isn't re-decoded on every read.
//
// The source implementation gets this for free from rkyv's zero-copy
// archives plus the cached crate's memoized accessors; Go has neither, so
// Archived[T] decodes eagerly but keeps the raw bytes around for re-encode
// (Bytes()), and Cache[T] gives callers the memoization rkyv's archive
// identity would otherwise provide.
package codec

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Encode msgpack-serializes v.
func Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode msgpack-deserializes data into a new *T.
func Decode[T any](data []byte) (*T, error) {
	var v T
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Archived holds an entity's raw stored bytes alongside its decoded form,
// the way the source's rkyv archive holds the mmap'd bytes behind the
// value it hands out. Bytes() is what gets written back to a tree;
// Value() is what application code reads.
type Archived[T any] struct {
	raw   []byte
	value *T
}

func NewArchived[T any](v *T) (*Archived[T], error) {
	raw, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return &Archived[T]{raw: raw, value: v}, nil
}

func ArchiveBytes[T any](raw []byte) (*Archived[T], error) {
	value, err := Decode[T](raw)
	if err != nil {
		return nil, err
	}
	return &Archived[T]{raw: raw, value: value}, nil
}

func (a *Archived[T]) Bytes() []byte { return a.raw }
func (a *Archived[T]) Value() *T     { return a.value }

// Cache memoizes decoded entities by their storage key, mirroring the
// `cached`-crate-wrapped deserialize functions in the source's
// impl_deser! macro. Each tree that exercises a hot path (profile reads,
// recent messages, invite lookups) owns one Cache per entity type.
type Cache[T any] struct {
	lru *lru.Cache[string, *T]
}

// NewCache builds a cache holding at most size entries. size <= 0 disables
// memoization (Get always misses, Put is a no-op) — used by tests that
// want to exercise the decode path directly.
func NewCache[T any](size int) (*Cache[T], error) {
	if size <= 0 {
		return &Cache[T]{}, nil
	}
	c, err := lru.New[string, *T](size)
	if err != nil {
		return nil, err
	}
	return &Cache[T]{lru: c}, nil
}

func (c *Cache[T]) Get(key string) (*T, bool) {
	if c.lru == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

func (c *Cache[T]) Put(key string, v *T) {
	if c.lru == nil {
		return
	}
	c.lru.Add(key, v)
}

func (c *Cache[T]) Invalidate(key string) {
	if c.lru == nil {
		return
	}
	c.lru.Remove(key)
}

// DecodeCached decodes raw into a *T, serving from cache under key when
// possible and populating the cache on a miss. A tree calls this from
// every Get so the first decode after a write is the only one paid for.
func DecodeCached[T any](cache *Cache[T], key string, raw []byte) (*T, error) {
	if v, ok := cache.Get(key); ok {
		return v, nil
	}
	v, err := Decode[T](raw)
	if err != nil {
		return nil, err
	}
	cache.Put(key, v)
	return v, nil
}

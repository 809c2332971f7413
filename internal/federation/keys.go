// Package federation implements host-to-host sync of spec.md §4.8: every
// outbound/inbound event is wrapped in an Ed25519-signed Token, peers
// fetch each other's public keys over the Key RPC and cache them, and a
// durable per-host queue (internal/trees.SyncTree) survives a peer being
// unreachable.
package federation

import (
	"context"
	"crypto/ed25519"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/herror"
)

// KeyFetcher reaches out to a remote host's Key RPC on a local cache
// miss. Kept as an interface so KeyManager never imports the transport
// package.
type KeyFetcher interface {
	FetchKey(ctx context.Context, host string) (ed25519.PublicKey, error)
}

// KeyManager owns this server's own Ed25519 keypair, persisted to a
// single file on disk, and a cache of remote hosts' public keys.
// Mirrors the source's key::Manager: a DashMap of cached keys plus the
// one local file holding this node's own key (key.rs).
type KeyManager struct {
	mu       sync.Mutex
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	keyPath  string
	fetcher  KeyFetcher
	cache    map[string]ed25519.PublicKey
	redis    *redis.Client // optional, nil disables the distributed layer
	redisTTL time.Duration
	logger   *zap.Logger
}

func NewKeyManager(keyPath string, fetcher KeyFetcher, rdb *redis.Client, logger *zap.Logger) (*KeyManager, error) {
	m := &KeyManager{
		keyPath:  keyPath,
		fetcher:  fetcher,
		cache:    make(map[string]ed25519.PublicKey),
		redis:    rdb,
		redisTTL: 24 * time.Hour,
		logger:   logger,
	}
	if err := m.loadOrGenerate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *KeyManager) loadOrGenerate() error {
	raw, err := os.ReadFile(m.keyPath)
	if err == nil {
		if len(raw) != ed25519.PrivateKeySize {
			return errors.New("federation: malformed key file")
		}
		m.priv = ed25519.PrivateKey(raw)
		m.pub = m.priv.Public().(ed25519.PublicKey)
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.keyPath, priv, 0o600); err != nil {
		return err
	}
	m.priv, m.pub = priv, pub
	m.logger.Info("federation: generated new keypair", zap.String("path", m.keyPath))
	return nil
}

// OwnPublicKey is served back over this server's own Key RPC.
func (m *KeyManager) OwnPublicKey() ed25519.PublicKey {
	return m.pub
}

// Sign produces a token over the canonical bytes of an AuthData,
// matching the source's generate_token (key.rs).
func (m *KeyManager) Sign(data []byte) Token {
	return Token{Data: data, Sig: ed25519.Sign(m.priv, data)}
}

// GetKey returns host's cached public key, fetching and caching it on a
// miss. A redis layer sits in front of the remote fetch when configured,
// so a restart doesn't force every peer's key to be re-fetched.
func (m *KeyManager) GetKey(ctx context.Context, host string) (ed25519.PublicKey, error) {
	m.mu.Lock()
	if key, ok := m.cache[host]; ok {
		m.mu.Unlock()
		return key, nil
	}
	m.mu.Unlock()

	if m.redis != nil {
		if raw, err := m.redis.Get(ctx, redisKeyKey(host)).Bytes(); err == nil && len(raw) == ed25519.PublicKeySize {
			key := ed25519.PublicKey(raw)
			m.mu.Lock()
			m.cache[host] = key
			m.mu.Unlock()
			return key, nil
		} else if err != nil && !errors.Is(err, redis.Nil) {
			m.logger.Warn("federation: redis key lookup failed", zap.String("host", host), zap.Error(err))
		}
	}

	return m.fetchAndCache(ctx, host)
}

func (m *KeyManager) fetchAndCache(ctx context.Context, host string) (ed25519.PublicKey, error) {
	key, err := m.fetcher.FetchKey(ctx, host)
	if err != nil {
		return nil, herror.ErrCannotFetchPeerKey
	}
	m.mu.Lock()
	m.cache[host] = key
	m.mu.Unlock()
	if m.redis != nil {
		if err := m.redis.Set(ctx, redisKeyKey(host), []byte(key), m.redisTTL).Err(); err != nil {
			m.logger.Warn("federation: redis key cache write failed", zap.String("host", host), zap.Error(err))
		}
	}
	return key, nil
}

// InvalidateKey drops a cached key, forcing the next GetKey to
// re-fetch. Used when a token fails verification against the cached
// key — the peer may have rotated it (impls/sync/mod.rs "Fetch pubkey
// if the verification fails, it might have changed").
func (m *KeyManager) InvalidateKey(ctx context.Context, host string) {
	m.mu.Lock()
	delete(m.cache, host)
	m.mu.Unlock()
	if m.redis != nil {
		m.redis.Del(ctx, redisKeyKey(host))
	}
}

func redisKeyKey(host string) string {
	return "fed:key:" + host
}

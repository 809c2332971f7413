// Package session is the in-memory session map of spec.md §4.7: a
// concurrent token -> user id index, rebuilt from internal/trees.AuthTree
// at startup and kept current by every login and activity touch
// thereafter. The durable `token_`/`atime_` keys are the source of
// truth across restarts; this map only exists so an authenticated
// request never has to round-trip through storage to validate a token.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/herror"
)

// InactivityTTL is spec.md §3's 48-hour non-bot expiry window.
const InactivityTTL = 48 * time.Hour

// AuthStore is the subset of trees.AuthTree the session map needs.
type AuthStore interface {
	AllSessions(ctx context.Context) (map[uint64]string, error)
	LastActive(ctx context.Context, userID uint64) (time.Time, bool, error)
	TouchAtime(ctx context.Context, userID uint64, at time.Time) error
	PutSession(ctx context.Context, userID uint64, token string) error
}

// IsBotChecker reports whether a user is a bot, exempt from inactivity
// expiry (spec.md §3).
type IsBotChecker interface {
	IsBot(ctx context.Context, userID uint64) (bool, error)
}

type entry struct {
	userID uint64
}

// Map is the concurrent token -> user id index. Reads take the read
// lock only (spec.md §5 "lock-free reads" is approximated here with an
// RWMutex, since Go has no wait-free map primitive in the standard
// library without unsafe tricks the teacher's codebase never reaches
// for).
type Map struct {
	mu      sync.RWMutex
	byToken map[string]entry
	store   AuthStore
	bots    IsBotChecker
	logger  *zap.Logger
}

func New(store AuthStore, bots IsBotChecker, logger *zap.Logger) *Map {
	return &Map{byToken: make(map[string]entry), store: store, bots: bots, logger: logger}
}

// Rebuild loads every persisted session and discards any whose atime is
// past InactivityTTL for non-bot users (spec.md §4.7).
func (m *Map) Rebuild(ctx context.Context) error {
	sessions, err := m.store.AllSessions(ctx)
	if err != nil {
		return err
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byToken = make(map[string]entry, len(sessions))
	for userID, token := range sessions {
		lastActive, ok, err := m.store.LastActive(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		isBot, err := m.bots.IsBot(ctx, userID)
		if err != nil {
			return err
		}
		if !isBot && now.Sub(lastActive) > InactivityTTL {
			m.logger.Info("session.Rebuild: dropping expired session", zap.Uint64("user_id", userID))
			continue
		}
		m.byToken[token] = entry{userID: userID}
	}
	return nil
}

// Lookup validates token and, on success, touches the user's atime so
// the 48-hour window resets on use.
func (m *Map) Lookup(ctx context.Context, token string) (uint64, error) {
	m.mu.RLock()
	e, ok := m.byToken[token]
	m.mu.RUnlock()
	if !ok {
		return 0, herror.ErrBadSession
	}
	if err := m.store.TouchAtime(ctx, e.userID, time.Now()); err != nil {
		return 0, err
	}
	return e.userID, nil
}

// Put registers a new session both in memory and durably.
func (m *Map) Put(ctx context.Context, userID uint64, token string) error {
	if err := m.store.PutSession(ctx, userID, token); err != nil {
		return err
	}
	m.mu.Lock()
	m.byToken[token] = entry{userID: userID}
	m.mu.Unlock()
	return nil
}

// Revoke removes a token from the in-memory map only; durable cleanup
// (clearing token_/atime_) is the caller's responsibility through
// AuthTree directly, since admin "delete user" clears many users' tokens
// in one pass and shouldn't pay the per-token round trip this type does.
func (m *Map) Revoke(token string) {
	m.mu.Lock()
	delete(m.byToken, token)
	m.mu.Unlock()
}

// Len reports the number of live sessions, used by health/metrics
// endpoints.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byToken)
}

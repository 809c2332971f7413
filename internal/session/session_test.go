package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/herror"
)

type fakeStore struct {
	sessions   map[uint64]string
	lastActive map[uint64]time.Time
}

func (f *fakeStore) AllSessions(context.Context) (map[uint64]string, error) { return f.sessions, nil }
func (f *fakeStore) LastActive(_ context.Context, userID uint64) (time.Time, bool, error) {
	t, ok := f.lastActive[userID]
	return t, ok, nil
}
func (f *fakeStore) TouchAtime(_ context.Context, userID uint64, at time.Time) error {
	f.lastActive[userID] = at
	return nil
}
func (f *fakeStore) PutSession(_ context.Context, userID uint64, token string) error {
	f.sessions[userID] = token
	return nil
}

type fakeBots struct{ bots map[uint64]bool }

func (f *fakeBots) IsBot(_ context.Context, userID uint64) (bool, error) { return f.bots[userID], nil }

func TestRebuildDropsExpiredNonBotSessions(t *testing.T) {
	store := &fakeStore{
		sessions:   map[uint64]string{1: "tok1", 2: "tok2"},
		lastActive: map[uint64]time.Time{1: time.Now().Add(-72 * time.Hour), 2: time.Now()},
	}
	bots := &fakeBots{bots: map[uint64]bool{}}
	m := New(store, bots, zap.NewNop())

	require.NoError(t, m.Rebuild(context.Background()))

	_, err := m.Lookup(context.Background(), "tok1")
	assert.ErrorIs(t, err, herror.ErrBadSession)

	uid, err := m.Lookup(context.Background(), "tok2")
	require.NoError(t, err)
	assert.EqualValues(t, 2, uid)
}

func TestRebuildKeepsExpiredBotSessions(t *testing.T) {
	store := &fakeStore{
		sessions:   map[uint64]string{1: "tok1"},
		lastActive: map[uint64]time.Time{1: time.Now().Add(-1000 * time.Hour)},
	}
	bots := &fakeBots{bots: map[uint64]bool{1: true}}
	m := New(store, bots, zap.NewNop())

	require.NoError(t, m.Rebuild(context.Background()))
	uid, err := m.Lookup(context.Background(), "tok1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, uid)
}

func TestPutThenLookup(t *testing.T) {
	store := &fakeStore{sessions: map[uint64]string{}, lastActive: map[uint64]time.Time{}}
	m := New(store, &fakeBots{bots: map[uint64]bool{}}, zap.NewNop())

	require.NoError(t, m.Put(context.Background(), 7, "newtoken"))
	uid, err := m.Lookup(context.Background(), "newtoken")
	require.NoError(t, err)
	assert.EqualValues(t, 7, uid)
}

func TestRevokeRemovesFromMemory(t *testing.T) {
	store := &fakeStore{sessions: map[uint64]string{}, lastActive: map[uint64]time.Time{}}
	m := New(store, &fakeBots{bots: map[uint64]bool{}}, zap.NewNop())
	require.NoError(t, m.Put(context.Background(), 7, "tok"))

	m.Revoke("tok")
	_, err := m.Lookup(context.Background(), "tok")
	assert.ErrorIs(t, err, herror.ErrBadSession)
}

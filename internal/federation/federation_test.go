package federation_test

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/federation"
	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/storage/badgerstore"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

type fakeFetcher struct {
	keys map[string]ed25519.PublicKey
}

func (f *fakeFetcher) FetchKey(_ context.Context, host string) (ed25519.PublicKey, error) {
	key, ok := f.keys[host]
	if !ok {
		return nil, herror.ErrCannotFetchPeerKey
	}
	return key, nil
}

func newKeyManager(t *testing.T, fetcher federation.KeyFetcher) *federation.KeyManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "federation.key")
	km, err := federation.NewKeyManager(path, fetcher, nil, zap.NewNop())
	require.NoError(t, err)
	return km
}

func TestKeyManagerPersistsKeyAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "federation.key")
	first, err := federation.NewKeyManager(path, &fakeFetcher{}, nil, zap.NewNop())
	require.NoError(t, err)

	second, err := federation.NewKeyManager(path, &fakeFetcher{}, nil, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, first.OwnPublicKey(), second.OwnPublicKey())
}

func TestSignAndVerifyAuthTokenRoundTrips(t *testing.T) {
	home := newKeyManager(t, &fakeFetcher{})
	token := home.NewAuthToken("home.example")

	// A separate server verifying the token needs its own fetcher entry
	// resolving "home.example" to home's public key, mirroring how a real
	// peer would learn it over the Key RPC.
	fetcher := &fakeFetcher{keys: map[string]ed25519.PublicKey{"home.example": home.OwnPublicKey()}}
	verifier := newKeyManager(t, fetcher)

	host, err := verifier.VerifyAuthToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "home.example", host)
}

func TestVerifyAuthTokenRejectsBadSignature(t *testing.T) {
	km := newKeyManager(t, &fakeFetcher{})
	forged := federation.Token{Data: []byte("not-real-auth-data"), Sig: []byte("bogus-signature-bytes")}
	_, err := km.VerifyAuthToken(context.Background(), forged)
	assert.Error(t, err)
}

func TestHostListAllowSemantics(t *testing.T) {
	empty := federation.HostList{}
	assert.True(t, empty.IsAllowed("anything.example"))

	blocked := federation.HostList{Block: []string{"bad.example"}}
	assert.False(t, blocked.IsAllowed("bad.example"))
	assert.True(t, blocked.IsAllowed("good.example"))

	allowlisted := federation.HostList{Allow: []string{"good.example"}}
	assert.True(t, allowlisted.IsAllowed("good.example"))
	assert.False(t, allowlisted.IsAllowed("other.example"))
}

type recordingPusher struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (r *recordingPusher) Push(_ context.Context, host string, _ federation.Token, _ trees.QueuedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return herror.ErrCannotFetchPeerKey
	}
	r.calls = append(r.calls, host)
	return nil
}

type noopPuller struct{}

func (noopPuller) Pull(context.Context, string, federation.Token) ([]trees.QueuedEvent, error) {
	return nil, nil
}

type noopApplier struct{}

func (noopApplier) Apply(context.Context, string, []byte) error { return nil }

func newSyncTree(t *testing.T) *trees.SyncTree {
	t.Helper()
	db, err := badgerstore.Open("", true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	tree, err := db.OpenTree(context.Background(), "sync")
	require.NoError(t, err)
	return trees.NewSyncTree(tree, zap.NewNop())
}

func TestDispatchQueuesThenPushLoopDelivers(t *testing.T) {
	km := newKeyManager(t, &fakeFetcher{})
	syncTree := newSyncTree(t)
	pusher := &recordingPusher{}

	fed := federation.New("home.example", federation.HostList{}, km, syncTree, pusher, noopPuller{}, noopApplier{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go fed.RunPushLoop(ctx)
	defer cancel()

	require.NoError(t, fed.Dispatch(context.Background(), "peer.example", []byte("payload")))

	require.Eventually(t, func() bool {
		pusher.mu.Lock()
		defer pusher.mu.Unlock()
		return len(pusher.calls) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDispatchRejectsBlockedHost(t *testing.T) {
	km := newKeyManager(t, &fakeFetcher{})
	syncTree := newSyncTree(t)
	fed := federation.New("home.example", federation.HostList{Block: []string{"bad.example"}}, km, syncTree, &recordingPusher{}, noopPuller{}, noopApplier{}, zap.NewNop())

	err := fed.Dispatch(context.Background(), "bad.example", []byte("x"))
	assert.ErrorIs(t, err, herror.ErrHostNotAllowed)
}

func TestPushFallsBackToQueueAfterRepeatedFailure(t *testing.T) {
	km := newKeyManager(t, &fakeFetcher{})
	syncTree := newSyncTree(t)
	pusher := &recordingPusher{fail: true}

	fed := federation.New("home.example", federation.HostList{}, km, syncTree, pusher, noopPuller{}, noopApplier{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go fed.RunPushLoop(ctx)

	require.NoError(t, fed.Dispatch(context.Background(), "peer.example", []byte("payload")))

	require.Eventually(t, func() bool {
		queued, err := syncTree.Drain(context.Background(), "peer.example")
		require.NoError(t, err)
		return len(queued) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
}

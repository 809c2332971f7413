package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/session"
	"github.com/lalith-99/harmonyhost/internal/storage/badgerstore"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

func newTestAuthBackend(t *testing.T, requireRegToken bool) *AuthBackend {
	t.Helper()
	db, err := badgerstore.Open("", true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	authKV, err := db.OpenTree(context.Background(), "auth")
	require.NoError(t, err)
	profileKV, err := db.OpenTree(context.Background(), "profile")
	require.NoError(t, err)

	authTree := trees.NewAuthTree(authKV, zap.NewNop())
	profileTree, err := trees.NewProfileTree(profileKV, zap.NewNop())
	require.NoError(t, err)

	sessions := session.New(authTree, profileTree, zap.NewNop())
	return NewAuthBackend(authTree, profileTree, sessions, requireRegToken, zap.NewNop())
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	backend := newTestAuthBackend(t, false)
	ctx := context.Background()

	_, err := backend.CreateUser(ctx, "a@example.com", "alice", "hunter2")
	require.NoError(t, err)

	_, err = backend.CreateUser(ctx, "a@example.com", "alice2", "hunter3")
	require.ErrorIs(t, err, herror.ErrUserAlreadyExists)
}

func TestMintSessionRoundTripsThroughLookup(t *testing.T) {
	backend := newTestAuthBackend(t, false)
	ctx := context.Background()

	userID, err := backend.CreateUser(ctx, "b@example.com", "bob", "hunter2")
	require.NoError(t, err)

	token, err := backend.MintSession(ctx, userID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	resolved, err := backend.sessions.Lookup(ctx, token)
	require.NoError(t, err)
	require.Equal(t, userID, resolved)
}

func TestResetPasswordAndSubmitChangesPassword(t *testing.T) {
	backend := newTestAuthBackend(t, false)
	ctx := context.Background()

	userID, err := backend.CreateUser(ctx, "c@example.com", "carol", "oldpass")
	require.NoError(t, err)

	require.NoError(t, backend.ResetPassword(ctx, "c@example.com"))

	resetToken, err := backend.auth.IssuePasswordResetToken(ctx, userID)
	require.NoError(t, err)

	require.NoError(t, backend.SubmitPasswordReset(ctx, resetToken, "newpass"))

	ok, err := backend.CheckPassword(ctx, userID, "newpass")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = backend.CheckPassword(ctx, userID, "oldpass")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteUserRevokesLiveSession(t *testing.T) {
	backend := newTestAuthBackend(t, false)
	ctx := context.Background()

	userID, err := backend.CreateUser(ctx, "d@example.com", "dave", "hunter2")
	require.NoError(t, err)

	token, err := backend.MintSession(ctx, userID)
	require.NoError(t, err)

	require.NoError(t, backend.DeleteUser(ctx, userID))

	_, err = backend.sessions.Lookup(ctx, token)
	require.Error(t, err)
}

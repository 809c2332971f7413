package trees_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/storage/badgerstore"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

func newAuthTree(t *testing.T) *trees.AuthTree {
	t.Helper()
	db, err := badgerstore.Open("", true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kv, err := db.OpenTree(context.Background(), "auth")
	require.NoError(t, err)
	return trees.NewAuthTree(kv, zap.NewNop())
}

func TestPasswordResetTokenIsSingleUseAndBoundToIssuer(t *testing.T) {
	ctx := context.Background()
	auth := newAuthTree(t)
	const userID uint64 = 42

	token, err := auth.IssuePasswordResetToken(ctx, userID)
	require.NoError(t, err)

	resolved, err := auth.ConsumePasswordResetToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, userID, resolved)

	_, err = auth.ConsumePasswordResetToken(ctx, token)
	require.Error(t, err)
}

func TestRevokeSessionClearsTokenAtimeAndPassword(t *testing.T) {
	ctx := context.Background()
	auth := newAuthTree(t)
	const userID uint64 = 7

	require.NoError(t, auth.PutSession(ctx, userID, "sometoken"))
	require.NoError(t, auth.SetPassword(ctx, userID, "hunter2"))

	require.NoError(t, auth.RevokeSession(ctx, userID))

	_, found, err := auth.SessionToken(ctx, userID)
	require.NoError(t, err)
	require.False(t, found)

	_, active, err := auth.LastActive(ctx, userID)
	require.NoError(t, err)
	require.False(t, active)

	ok, err := auth.CheckPassword(ctx, userID, "hunter2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSingleUseRegistrationTokenCannotBeReused(t *testing.T) {
	ctx := context.Background()
	auth := newAuthTree(t)

	token, err := auth.GenerateSingleUseToken(ctx)
	require.NoError(t, err)

	require.NoError(t, auth.ValidateSingleUseToken(ctx, token))

	err = auth.ValidateSingleUseToken(ctx, token)
	require.ErrorIs(t, err, herror.ErrInvalidRegistrationToken)
}

func TestAllSessionsReflectsPutSession(t *testing.T) {
	ctx := context.Background()
	auth := newAuthTree(t)

	require.NoError(t, auth.PutSession(ctx, 1, "tok-one"))
	require.NoError(t, auth.PutSession(ctx, 2, "tok-two"))

	sessions, err := auth.AllSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, "tok-one", sessions[1])
	require.Equal(t, "tok-two", sessions[2])
}

package trees_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/keyspace"
	"github.com/lalith-99/harmonyhost/internal/models"
	"github.com/lalith-99/harmonyhost/internal/storage/badgerstore"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

func newProfileTree(t *testing.T) *trees.ProfileTree {
	t.Helper()
	db, err := badgerstore.Open("", true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kv, err := db.OpenTree(context.Background(), "profile")
	require.NoError(t, err)

	profiles, err := trees.NewProfileTree(kv, zap.NewNop())
	require.NoError(t, err)
	return profiles
}

func TestNextUserIDAllocatesSequentially(t *testing.T) {
	ctx := context.Background()
	profiles := newProfileTree(t)

	first, err := profiles.NextUserID(ctx)
	require.NoError(t, err)
	second, err := profiles.NextUserID(ctx)
	require.NoError(t, err)

	require.Equal(t, first+1, second)
}

func TestIsBotReflectsProfileFlag(t *testing.T) {
	ctx := context.Background()
	profiles := newProfileTree(t)

	require.NoError(t, profiles.CreateProfile(ctx, &models.Profile{UserID: 1, Username: "human"}))
	require.NoError(t, profiles.CreateProfile(ctx, &models.Profile{UserID: 2, Username: "robot", IsBot: true}))

	isBot, err := profiles.IsBot(ctx, 1)
	require.NoError(t, err)
	require.False(t, isBot)

	isBot, err = profiles.IsBot(ctx, 2)
	require.NoError(t, err)
	require.True(t, isBot)
}

func TestAllUserIDsOnlyReturnsProfileKeysNotMetadata(t *testing.T) {
	ctx := context.Background()
	db, err := badgerstore.Open("", true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	kv, err := db.OpenTree(ctx, "profile")
	require.NoError(t, err)
	profiles, err := trees.NewProfileTree(kv, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, profiles.CreateProfile(ctx, &models.Profile{UserID: 1, Username: "one"}))
	require.NoError(t, profiles.CreateProfile(ctx, &models.Profile{UserID: 2, Username: "two"}))
	_, err = kv.Insert(ctx, keyspace.UserMetadataKey(1, "app"), []byte("meta"))
	require.NoError(t, err)

	ids, err := profiles.AllUserIDs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{1, 2}, ids)
}

func TestGetProfileMissingUserReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	profiles := newProfileTree(t)

	_, err := profiles.GetProfile(ctx, 999)
	require.ErrorIs(t, err, herror.ErrUserNotFound)
}

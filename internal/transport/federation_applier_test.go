package transport

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/storage/badgerstore"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

func newTestChatApplier(t *testing.T) (*ChatApplier, *trees.ChatTree) {
	t.Helper()
	db, err := badgerstore.Open("", true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kv, err := db.OpenTree(context.Background(), "chat")
	require.NoError(t, err)
	chat, err := trees.NewChatTree(kv, zap.NewNop())
	require.NoError(t, err)

	return NewChatApplier(chat), chat
}

func TestApplyUserAddedToGuildUpdatesGuildList(t *testing.T) {
	applier, chat := newTestChatApplier(t)
	ctx := context.Background()

	payload, err := json.Marshal(federationEvent{
		Kind:    eventUserAddedToGuild,
		UserID:  42,
		GuildID: 99,
	})
	require.NoError(t, err)

	require.NoError(t, applier.Apply(ctx, "peer.example", payload))

	list, err := chat.GuildList(ctx, 42)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestApplyUnknownKindErrors(t *testing.T) {
	applier, _ := newTestChatApplier(t)

	payload, err := json.Marshal(map[string]any{"kind": "something-else"})
	require.NoError(t, err)

	require.Error(t, applier.Apply(context.Background(), "peer.example", payload))
}

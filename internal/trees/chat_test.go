package trees_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/models"
	"github.com/lalith-99/harmonyhost/internal/storage/badgerstore"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

func newChatTree(t *testing.T) *trees.ChatTree {
	t.Helper()
	db, err := badgerstore.Open("", true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tree, err := db.OpenTree(context.Background(), "chat")
	require.NoError(t, err)

	chat, err := trees.NewChatTree(tree, zap.NewNop())
	require.NoError(t, err)
	return chat
}

// Exercises spec.md §8 scenario 2: guild creation seeds exactly one
// channel "general" and exactly one role, id 0, named "everyone".
func TestCreateGuildSeedsDefaults(t *testing.T) {
	ctx := context.Background()
	chat := newChatTree(t)

	guild, channel, err := chat.CreateGuild(ctx, 1, "test", models.GuildKindNormal)
	require.NoError(t, err)
	require.Equal(t, "general", channel.Name)

	channels, err := chat.GetGuildChannels(ctx, guild.ID)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	require.Equal(t, "general", channels[0].Name)

	roles, err := chat.GetGuildRoles(ctx, guild.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.EqualValues(t, 0, roles[0].ID)
	require.Equal(t, "everyone", roles[0].Name)
}

// Exercises spec.md §8 scenario 3: first message in a channel gets id 1
// and a single-message page reports both boundaries reached.
func TestSendMessageAndPaginate(t *testing.T) {
	ctx := context.Background()
	chat := newChatTree(t)

	guild, channel, err := chat.CreateGuild(ctx, 1, "test", models.GuildKindNormal)
	require.NoError(t, err)

	msg, err := chat.SendMessage(ctx, guild.ID, channel.ID, 1, models.MessageContent{Text: "hi"}, nil, false, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, msg.ID)

	page, err := chat.GetChannelMessages(ctx, guild.ID, channel.ID, 1000, trees.DirectionBefore, 25)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	require.Equal(t, "hi", page.Messages[0].Content.Text)
	require.Equal(t, uint64(1), page.Messages[0].AuthorID)
	require.True(t, page.ReachedTop)
	require.True(t, page.ReachedBottom)
}

// Exercises spec.md §8 boundary property: before=1 returns empty with
// reached_top=true.
func TestPaginationBeforeOneIsEmptyAtTop(t *testing.T) {
	ctx := context.Background()
	chat := newChatTree(t)
	guild, channel, err := chat.CreateGuild(ctx, 1, "test", models.GuildKindNormal)
	require.NoError(t, err)
	_, err = chat.SendMessage(ctx, guild.ID, channel.ID, 1, models.MessageContent{Text: "hi"}, nil, false, nil)
	require.NoError(t, err)

	page, err := chat.GetChannelMessages(ctx, guild.ID, channel.ID, 1, trees.DirectionBefore, 25)
	require.NoError(t, err)
	require.Empty(t, page.Messages)
	require.True(t, page.ReachedTop)
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	ctx := context.Background()
	chat := newChatTree(t)
	guild, channel, err := chat.CreateGuild(ctx, 1, "test", models.GuildKindNormal)
	require.NoError(t, err)

	_, err = chat.SendMessage(ctx, guild.ID, channel.ID, 1, models.MessageContent{}, nil, false, nil)
	require.ErrorIs(t, err, herror.ErrMessageEmpty)
}

// Exercises spec.md §8 scenario 4: a single-use invite can't be consumed
// twice.
func TestInviteSingleUseIsConsumedOnce(t *testing.T) {
	ctx := context.Background()
	chat := newChatTree(t)
	guild, _, err := chat.CreateGuild(ctx, 1, "test", models.GuildKindNormal)
	require.NoError(t, err)

	one := uint32(1)
	_, err = chat.CreateInvite(ctx, guild.ID, 1, "inv", &one, nil)
	require.NoError(t, err)

	_, err = chat.UseInvite(ctx, "inv", 2)
	require.NoError(t, err)

	member, err := chat.IsMember(ctx, guild.ID, 2)
	require.NoError(t, err)
	require.True(t, member)

	_, err = chat.UseInvite(ctx, "inv", 3)
	require.ErrorIs(t, err, herror.ErrInviteNotFound)
}

// Exercises spec.md invariant 4: the last owner cannot leave, and
// give-up-ownership as the last owner fails distinctly.
func TestLastOwnerCannotLeaveOrGiveUpOwnership(t *testing.T) {
	ctx := context.Background()
	chat := newChatTree(t)
	guild, _, err := chat.CreateGuild(ctx, 1, "test", models.GuildKindNormal)
	require.NoError(t, err)

	err = chat.LeaveGuild(ctx, guild.ID, 1)
	require.ErrorIs(t, err, herror.ErrOwnerCantLeave)

	err = chat.GiveUpOwnership(ctx, guild.ID, 1)
	require.ErrorIs(t, err, herror.ErrLastOwnerInGuild)
}

// Exercises spec.md §8 scenario 6: deleting a guild wipes every key under
// its prefix.
func TestDeleteGuildWipesAllKeys(t *testing.T) {
	ctx := context.Background()
	chat := newChatTree(t)
	guild, channel, err := chat.CreateGuild(ctx, 1, "test", models.GuildKindNormal)
	require.NoError(t, err)
	_, err = chat.SendMessage(ctx, guild.ID, channel.ID, 1, models.MessageContent{Text: "hi"}, nil, false, nil)
	require.NoError(t, err)

	require.NoError(t, chat.DeleteGuild(ctx, guild.ID))

	_, err = chat.GetGuild(ctx, guild.ID)
	require.ErrorIs(t, err, herror.ErrGuildNotFound)
	_, err = chat.GetChannel(ctx, guild.ID, channel.ID)
	require.ErrorIs(t, err, herror.ErrChannelNotFound)
}

func TestChannelReorderIsIdempotent(t *testing.T) {
	ctx := context.Background()
	chat := newChatTree(t)
	guild, general, err := chat.CreateGuild(ctx, 1, "test", models.GuildKindNormal)
	require.NoError(t, err)
	second, err := chat.CreateChannel(ctx, guild.ID, "random", models.ChannelKindText)
	require.NoError(t, err)

	pos := &trees.Position{Relation: "after", OtherID: general.ID}
	require.NoError(t, chat.UpdateChannelOrder(ctx, guild.ID, second.ID, pos))
	first, err := chat.GetGuildChannels(ctx, guild.ID)
	require.NoError(t, err)

	require.NoError(t, chat.UpdateChannelOrder(ctx, guild.ID, second.ID, pos))
	again, err := chat.GetGuildChannels(ctx, guild.ID)
	require.NoError(t, err)

	require.Equal(t, first, again)
}

package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalith-99/harmonyhost/internal/herror"
)

type fakeSource struct {
	owners       []uint64
	userRoles    map[uint64][]uint64
	guildPerms   map[uint64][]Entry // by role id
	channelPerms map[uint64]map[uint64][]Entry // by channel id, then role id
}

func (f *fakeSource) GuildOwners(_ context.Context, _ uint64) ([]uint64, error) {
	return f.owners, nil
}

func (f *fakeSource) UserRoles(_ context.Context, _, userID uint64) ([]uint64, error) {
	return f.userRoles[userID], nil
}

func (f *fakeSource) GuildRolePerms(_ context.Context, _, roleID uint64) ([]Entry, error) {
	return f.guildPerms[roleID], nil
}

func (f *fakeSource) ChannelRolePerms(_ context.Context, _, channelID, roleID uint64) ([]Entry, error) {
	return f.channelPerms[channelID][roleID], nil
}

func TestMatchesPatternRules(t *testing.T) {
	assert.True(t, Matches("*", "anything.goes"))
	assert.True(t, Matches("messages.send", "messages.send"))
	assert.True(t, Matches("messages", "messages.send"))
	assert.False(t, Matches("messagesx", "messages.send"))
	assert.False(t, Matches("", "messages.send"))
}

func TestSystemActorBypassesChecks(t *testing.T) {
	r := New(&fakeSource{})
	err := r.Check(context.Background(), 1, nil, 0, "anything", false)
	assert.NoError(t, err)
}

func TestOwnerAllowedUnconditionally(t *testing.T) {
	src := &fakeSource{owners: []uint64{5}}
	r := New(src)
	err := r.Check(context.Background(), 1, nil, 5, "messages.send", false)
	assert.NoError(t, err)
}

func TestMustBeOwnerRejectsNonOwner(t *testing.T) {
	src := &fakeSource{owners: []uint64{5}}
	r := New(src)
	err := r.Check(context.Background(), 1, nil, 6, "messages.send", true)
	require.Error(t, err)
	assert.Equal(t, herror.ErrMustBeOwner, err)
}

func TestEveryoneRoleEvaluatedLast(t *testing.T) {
	src := &fakeSource{
		userRoles: map[uint64][]uint64{7: {0, 1}},
		guildPerms: map[uint64][]Entry{
			0: {{Pattern: "messages.send", Allow: false}},
			1: {{Pattern: "messages.send", Allow: true}},
		},
	}
	r := New(src)
	err := r.Check(context.Background(), 1, nil, 7, "messages.send", false)
	assert.NoError(t, err, "role 1 should be evaluated before the everyone role and allow")
}

func TestFirstMatchingPatternWinsWithinRole(t *testing.T) {
	src := &fakeSource{
		userRoles: map[uint64][]uint64{7: {1}},
		guildPerms: map[uint64][]Entry{
			1: {
				{Pattern: "messages.send", Allow: true},
				{Pattern: "messages", Allow: false},
			},
		},
	}
	r := New(src)
	err := r.Check(context.Background(), 1, nil, 7, "messages.send", false)
	assert.NoError(t, err)
}

func TestChannelScopeFallsBackToGuildScopeWhenUndecided(t *testing.T) {
	channel := uint64(42)
	src := &fakeSource{
		userRoles: map[uint64][]uint64{7: {1}},
		guildPerms: map[uint64][]Entry{
			1: {{Pattern: "messages.send", Allow: true}},
		},
		channelPerms: map[uint64]map[uint64][]Entry{},
	}
	r := New(src)
	err := r.Check(context.Background(), 1, &channel, 7, "messages.send", false)
	assert.NoError(t, err, "a channel query with no channel-scoped decision must fall through to guild-scope roles")
}

func TestChannelScopeOverrideWinsOverGuildScope(t *testing.T) {
	channel := uint64(42)
	src := &fakeSource{
		userRoles: map[uint64][]uint64{7: {1}},
		guildPerms: map[uint64][]Entry{
			1: {{Pattern: "messages.send", Allow: true}},
		},
		channelPerms: map[uint64]map[uint64][]Entry{
			42: {1: {{Pattern: "messages.send", Allow: false}}},
		},
	}
	r := New(src)
	err := r.Check(context.Background(), 1, &channel, 7, "messages.send", false)
	require.Error(t, err, "a decided channel-scope override must win without consulting guild scope")
}

func TestNoDecisionDenies(t *testing.T) {
	src := &fakeSource{userRoles: map[uint64][]uint64{7: {0}}}
	r := New(src)
	err := r.Check(context.Background(), 1, nil, 7, "messages.send", false)
	require.Error(t, err)
}

package keyspace

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageKeySharesChannelPrefix(t *testing.T) {
	guild, channel := uint64(10), uint64(20)
	prefix := MessagePrefix(guild, channel)
	k1 := MessageKey(guild, channel, 1)
	k2 := MessageKey(guild, channel, 2)

	assert.True(t, bytes.HasPrefix(k1, prefix))
	assert.True(t, bytes.HasPrefix(k2, prefix))
	assert.NotEqual(t, k1, k2)
}

func TestMessageKeysOrderByID(t *testing.T) {
	guild, channel := uint64(1), uint64(1)
	k1 := MessageKey(guild, channel, 1)
	k2 := MessageKey(guild, channel, 2)
	k100 := MessageKey(guild, channel, 100)

	require.Less(t, bytes.Compare(k1, k2), 0)
	require.Less(t, bytes.Compare(k2, k100), 0, "big-endian encoding must keep numeric order byte-wise")
}

func TestPinnedKeyDoesNotCollideWithMessageKey(t *testing.T) {
	guild, channel, msg := uint64(5), uint64(6), uint64(7)
	assert.NotEqual(t, MessageKey(guild, channel, msg), PinnedKey(guild, channel, msg))
	assert.False(t, bytes.HasPrefix(PinnedKey(guild, channel, msg), MessagePrefix(guild, channel)))
}

func TestNextMsgIDKeyDistinctFromChannelKey(t *testing.T) {
	guild, channel := uint64(1), uint64(2)
	assert.NotEqual(t, ChannelKey(guild, channel), NextMsgIDKey(guild, channel))
}

func TestForeignUserKeysAreNotSymmetric(t *testing.T) {
	local, foreign := uint64(42), uint64(99)
	l2f := LocalToForeignKey(local)
	f2l := ForeignToLocalKey(foreign, "example.org")
	assert.NotEqual(t, l2f, f2l)
}

func TestRolePermPrefixScopesPattern(t *testing.T) {
	guild, role := uint64(1), uint64(2)
	p1 := GuildPermKey(guild, role, "messages.send")
	p2 := GuildPermKey(guild, role, "messages.send.embeds")
	assert.True(t, bytes.HasPrefix(p2, GuildPermPrefix(guild, role)))
	assert.NotEqual(t, p1, p2)
}

func TestChannelPermKeyScopedUnderChannelAndRole(t *testing.T) {
	guild, channel, role := uint64(1), uint64(2), uint64(3)
	key := ChannelPermKey(guild, channel, role, "messages.send")
	assert.True(t, bytes.HasPrefix(key, ChannelKey(guild, channel)))
}

func TestDecodeU64RoundTrips(t *testing.T) {
	key := MemberKey(1, 123456789)
	got := DecodeU64(key[len(key)-8:])
	assert.Equal(t, uint64(123456789), got)
}

func TestGuildListKeyRoundTripsThroughDecode(t *testing.T) {
	userID := uint64(5)
	key := GuildListKey(userID, 42, "example.org")
	guildID, host := DecodeGuildListEntry(userID, key)
	assert.Equal(t, uint64(42), guildID)
	assert.Equal(t, "example.org", host)
}

func TestGuildListKeyLocalHostRoundTrips(t *testing.T) {
	userID := uint64(5)
	key := GuildListKey(userID, 7, "")
	guildID, host := DecodeGuildListEntry(userID, key)
	assert.Equal(t, uint64(7), guildID)
	assert.Equal(t, "", host)
}

func TestUserProfilePrefixMatchesExactlyItsOwnKeyLength(t *testing.T) {
	profileKey := UserProfileKey(9)
	metadataKey := UserMetadataKey(9, "app")
	assert.True(t, bytes.HasPrefix(profileKey, UserProfilePrefix()))
	assert.True(t, bytes.HasPrefix(metadataKey, UserProfilePrefix()))
	assert.NotEqual(t, len(profileKey), len(metadataKey))
}

func TestPasswordResetTokenKeyDistinctFromRegistrationToken(t *testing.T) {
	hash := []byte("some-hash")
	assert.NotEqual(t, PasswordResetTokenKey(hash), RegistrationTokenKey(hash))
}

func TestNextUserIDCounterKeyStable(t *testing.T) {
	assert.Equal(t, NextUserIDCounterKey(), NextUserIDCounterKey())
}

// Package keyspace is the key schema module (spec.md §4.2). Every function
// here is pure: given ids, it returns the exact byte layout a tree reads or
// writes at. The layouts are bit-exact with the scheme in spec.md and its
// grounding in the original's src/db.rs / src/db/mod.rs — nested tag bytes
// after a fixed-width id give each relation its own prefix, so scans over
// "members of guild G" or "messages in channel C" are single contiguous
// ranges.
package keyspace

import "encoding/binary"

// Tag bytes partitioning a guild's keyspace (spec.md §4.2).
const (
	tagBannedMember  = 7
	tagChannel       = 8
	tagMember        = 9
	tagRole          = 5
	tagUserRoles     = 4
	tagChanOrdering1 = 1
	tagChanOrdering2 = 1
	tagRoleOrdering1 = 1
	tagRoleOrdering2 = 3
	tagDefaultRole1  = 1
	tagDefaultRole2  = 4
	tagGuildListOne  = 1
	tagGuildListTwo  = 2

	tagMessage    = 9
	tagChannelRle = 8 // role perms nested under a channel
	tagRolePerms  = 9 // perms nested under a guild role
	tagPinned1    = 1
	tagPinned2    = 5 // supplemented feature, SPEC_FULL.md §D.5
	tagNextMsgID  = 6 // not part of the externally-observed scheme; internal counter slot

	tagUserMetadata     = 1
	tagForeignDirection = 2
)

const (
	userPrefix     = "user_"
	foreignPrefix  = "fuser_"
	invitePrefix   = "invite_"
	atimePrefix    = "atime_"
	tokenPrefix    = "token_"
	hostPrefix     = "host_"
	emotePrefix    = "emotep_"
	emailPrefix    = "email_"
	hashPrefix     = "hash_"
	reactionPrefix = "react_"
	pendingPrefix  = "pending_"
)

func u64(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// DecodeU64 reads a big-endian uint64 from the front of buf.
func DecodeU64(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// ---- guild-scoped prefixes ----

func GuildMemberPrefix(guildID uint64) []byte {
	return concat(u64(guildID), []byte{tagMember})
}

func GuildChannelPrefix(guildID uint64) []byte {
	return concat(u64(guildID), []byte{tagChannel})
}

func GuildBannedPrefix(guildID uint64) []byte {
	return concat(u64(guildID), []byte{tagBannedMember})
}

func GuildRolePrefix(guildID uint64) []byte {
	return concat(u64(guildID), []byte{tagRole})
}

func GuildUserRolesPrefix(guildID uint64) []byte {
	return concat(u64(guildID), []byte{tagUserRoles})
}

// ---- member / ban ----

func MemberKey(guildID, userID uint64) []byte {
	return concat(GuildMemberPrefix(guildID), u64(userID))
}

func BannedMemberKey(guildID, userID uint64) []byte {
	return concat(GuildBannedPrefix(guildID), u64(userID))
}

// ---- channel ----

func ChannelKey(guildID, channelID uint64) []byte {
	return concat(GuildChannelPrefix(guildID), u64(channelID))
}

func ChanOrderingKey(guildID uint64) []byte {
	return concat(u64(guildID), []byte{tagChanOrdering1, tagChanOrdering2})
}

func NextMsgIDKey(guildID, channelID uint64) []byte {
	return concat(ChannelKey(guildID, channelID), []byte{tagNextMsgID})
}

// ---- message ----

func MessagePrefix(guildID, channelID uint64) []byte {
	return concat(ChannelKey(guildID, channelID), []byte{tagMessage})
}

func MessageKey(guildID, channelID, msgID uint64) []byte {
	return concat(MessagePrefix(guildID, channelID), u64(msgID))
}

// PinnedPrefix / PinnedKey implement the supplemented pinned-message
// feature (SPEC_FULL.md §D.5) under a tag that doesn't collide with any
// tag fixed by spec.md §4.2.
func PinnedPrefix(guildID, channelID uint64) []byte {
	return concat(ChannelKey(guildID, channelID), []byte{tagPinned1, tagPinned2})
}

func PinnedKey(guildID, channelID, msgID uint64) []byte {
	return concat(PinnedPrefix(guildID, channelID), u64(msgID))
}

// ReactionUserKey is a presence entry deduping one user's react/unreact
// toggle on one message's emote (SPEC_FULL.md §D, grounded on the
// original's make_user_reacted_msg_key). It lives under its own ASCII
// prefix rather than nested off MessageKey so it can never be mistaken for
// a message record by GetChannelMessages's MessagePrefix scan.
func ReactionUserKey(guildID, channelID, msgID, userID uint64, imageID string) []byte {
	return concat([]byte(reactionPrefix), u64(guildID), u64(channelID), u64(msgID), u64(userID), []byte(imageID))
}

// ---- roles & permissions ----

func RoleKey(guildID, roleID uint64) []byte {
	return concat(GuildRolePrefix(guildID), u64(roleID))
}

func RoleOrderingKey(guildID uint64) []byte {
	return concat(u64(guildID), []byte{tagRoleOrdering1, tagRoleOrdering2})
}

func DefaultRoleKey(guildID uint64) []byte {
	return concat(u64(guildID), []byte{tagDefaultRole1, tagDefaultRole2})
}

func UserRolesKey(guildID, userID uint64) []byte {
	return concat(GuildUserRolesPrefix(guildID), u64(userID))
}

// GuildPermPrefix / GuildPermKey: guild-wide role permission entries,
// `guild||5||role||9||pattern`.
func GuildPermPrefix(guildID, roleID uint64) []byte {
	return concat(RoleKey(guildID, roleID), []byte{tagRolePerms})
}

func GuildPermKey(guildID, roleID uint64, pattern string) []byte {
	return concat(GuildPermPrefix(guildID, roleID), []byte(pattern))
}

// ChannelPermPrefix / ChannelPermKey: channel-scoped permission entries,
// `guild||8||channel||8||role||pattern`.
func ChannelPermPrefix(guildID, channelID, roleID uint64) []byte {
	return concat(ChannelKey(guildID, channelID), []byte{tagChannelRle}, u64(roleID))
}

func ChannelPermKey(guildID, channelID, roleID uint64, pattern string) []byte {
	return concat(ChannelPermPrefix(guildID, channelID, roleID), []byte(pattern))
}

// ---- guild list (membership index, local or federated) ----

func GuildListPrefix(userID uint64) []byte {
	return concat(u64(userID), []byte{tagGuildListOne, tagGuildListTwo})
}

func GuildListKey(userID, guildID uint64, host string) []byte {
	return concat(GuildListPrefix(userID), u64(guildID), []byte(host))
}

// DecodeGuildListEntry recovers the guild id and host suffix from a key
// produced by GuildListKey, given the same userID used to scan it.
func DecodeGuildListEntry(userID uint64, key []byte) (guildID uint64, host string) {
	rest := key[len(GuildListPrefix(userID)):]
	guildID = binary.BigEndian.Uint64(rest[:8])
	host = string(rest[8:])
	return guildID, host
}

// ---- profile / app metadata ----

func UserProfileKey(userID uint64) []byte {
	return concat([]byte(userPrefix), u64(userID))
}

// UserProfilePrefix is the "user_" prefix UserProfileKey shares with the
// longer UserMetadataKey/EquippedKey keys; a scan over it matches all of
// them, so callers tell profile keys apart by their exact length.
func UserProfilePrefix() []byte {
	return []byte(userPrefix)
}

func UserMetadataKey(userID uint64, appID string) []byte {
	return concat(UserProfileKey(userID), []byte{tagUserMetadata}, []byte(appID))
}

// ---- federation identity bijection ----

func LocalToForeignKey(localID uint64) []byte {
	return concat([]byte(foreignPrefix), u64(localID), []byte{tagForeignDirection})
}

func ForeignToLocalKey(foreignID uint64, host string) []byte {
	return concat([]byte(foreignPrefix), []byte{tagForeignDirection}, u64(foreignID), []byte(host))
}

// ---- invites ----

func InviteKey(name string) []byte {
	return concat([]byte(invitePrefix), []byte(name))
}

// ---- auth / sessions ----

func TokenKey(userID uint64) []byte {
	return concat([]byte(tokenPrefix), u64(userID))
}

func AtimeKey(userID uint64) []byte {
	return concat([]byte(atimePrefix), u64(userID))
}

// ---- id allocation counters. spec.md §4.2 gives an explicit layout only
// for the per-channel message counter (next_msg_id); guild, channel, role
// and emote-pack ids still need some counter to allocate from, so each
// gets a dedicated key that can't collide with the tagged entity keys
// above (ASCII prefixes vs. raw big-endian ids, and role counters are
// guild-scoped under a tag byte pair no other key uses). ----

const (
	counterGuildKey   = "ctr_guild"
	counterChannelKey = "ctr_channel"
	counterEmoteKey   = "ctr_emotepack"
	counterUserKey    = "ctr_user"
	tagRoleCounter1   = 1
	tagRoleCounter2   = 6
)

func NextGuildIDCounterKey() []byte     { return []byte(counterGuildKey) }
func NextChannelIDCounterKey() []byte   { return []byte(counterChannelKey) }
func NextEmotePackIDCounterKey() []byte { return []byte(counterEmoteKey) }
func NextUserIDCounterKey() []byte      { return []byte(counterUserKey) }

func NextRoleIDCounterKey(guildID uint64) []byte {
	return concat(u64(guildID), []byte{tagRoleCounter1, tagRoleCounter2})
}

// ---- auth indexes not given an explicit byte layout in spec.md §4.2 but
// needed by the AuthTree operations it names (get_user_id_by_email,
// generate_single_use_token) ----

// EmailKey maps a local user's login email to their user id, so
// GetUserIDByEmail doesn't need a linear profile scan (that linear scan is
// reserved for username lookups, which the profile tree documents as
// acceptable because it's small; email lookups are on the hot login path).
func EmailKey(email string) []byte {
	return concat([]byte(emailPrefix), []byte(email))
}

// RegistrationTokenKey stores a single-use registration token's validity
// as a presence entry; ValidateSingleUseToken removes it atomically so a
// second attempt with the same token always misses (spec.md §8).
func RegistrationTokenKey(tokenHash []byte) []byte {
	return concat([]byte(hashPrefix), tokenHash)
}

// PasswordHashKey stores a local user's bcrypt hash, scoped under the auth
// tree alongside the session token it gates.
func PasswordHashKey(userID uint64) []byte {
	return concat([]byte("pwhash_"), u64(userID))
}

// PasswordResetTokenKey stores a single-use password-reset token's value
// as the user id it was issued for — a supplemented feature (spec.md
// §4.7's generic "other-options" branch) kept in its own namespace so it
// never collides with a registration token sharing the same random bytes.
func PasswordResetTokenKey(tokenHash []byte) []byte {
	return concat([]byte("pwreset_"), tokenHash)
}

// ---- pending (targeted) invites ----

// PendingInvitePrefix scopes every pending invite addressed to userID.
func PendingInvitePrefix(userID uint64) []byte {
	return concat([]byte(pendingPrefix), u64(userID))
}

func PendingInviteKey(userID, guildID uint64) []byte {
	return concat(PendingInvitePrefix(userID), u64(guildID))
}

// ---- federation sync durable queue ----

func HostKey(host string) []byte {
	return concat([]byte(hostPrefix), []byte(host))
}

// HostPrefix is the shared prefix of every HostKey, used to scan the full
// set of hosts with a recorded sync queue.
func HostPrefix() string {
	return hostPrefix
}

// DecodeHost recovers the host name from a key produced by HostKey.
func DecodeHost(key []byte) string {
	return string(key[len(hostPrefix):])
}

// ---- emotes ----

func EmotePackKey(packID uint64) []byte {
	return concat([]byte(emotePrefix), u64(packID))
}

func EmotePackEmoteKey(packID uint64, imageID string) []byte {
	return concat(EmotePackKey(packID), []byte(imageID))
}

// EquippedPrefix / EquippedKey: `user||9||pack_id` presence entries
// recording which emote packs a user has equipped.
func EquippedPrefix(userID uint64) []byte {
	return concat(UserProfileKey(userID), []byte{tagMember})
}

func EquippedKey(userID, packID uint64) []byte {
	return concat(EquippedPrefix(userID), u64(packID))
}

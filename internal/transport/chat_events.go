package transport

import "github.com/lalith-99/harmonyhost/internal/models"

// Event payload types published on the bus after a chat mutation commits
// (spec.md §4.6). Names follow the original's stream_event::Event variants
// (MessageSent, ChannelCreated, RolePermissionsUpdated, ...) so a client
// already familiar with that taxonomy recognizes these immediately.

type MessageSent struct {
	GuildID   uint64          `json:"guild_id"`
	ChannelID uint64          `json:"channel_id"`
	Message   *models.Message `json:"message"`
}

type MessageUpdated struct {
	GuildID   uint64          `json:"guild_id"`
	ChannelID uint64          `json:"channel_id"`
	Message   *models.Message `json:"message"`
}

type MessageDeleted struct {
	GuildID   uint64 `json:"guild_id"`
	ChannelID uint64 `json:"channel_id"`
	MessageID uint64 `json:"message_id"`
}

type MessagePinned struct {
	GuildID   uint64 `json:"guild_id"`
	ChannelID uint64 `json:"channel_id"`
	MessageID uint64 `json:"message_id"`
}

type MessageUnpinned struct {
	GuildID   uint64 `json:"guild_id"`
	ChannelID uint64 `json:"channel_id"`
	MessageID uint64 `json:"message_id"`
}

// ReactionUpdated carries the message's full reaction list rather than a
// single delta, so a client that missed an intermediate update still ends
// up with the correct aggregate counts.
type ReactionUpdated struct {
	GuildID   uint64            `json:"guild_id"`
	ChannelID uint64            `json:"channel_id"`
	MessageID uint64            `json:"message_id"`
	Reactions []models.Reaction `json:"reactions"`
}

type ChannelCreated struct {
	GuildID uint64          `json:"guild_id"`
	Channel *models.Channel `json:"channel"`
}

type ChannelUpdated struct {
	GuildID     uint64            `json:"guild_id"`
	ChannelID   uint64            `json:"channel_id"`
	NewName     *string           `json:"new_name,omitempty"`
	NewMetadata map[string]string `json:"new_metadata,omitempty"`
}

type ChannelsReordered struct {
	GuildID   uint64 `json:"guild_id"`
	ChannelID uint64 `json:"channel_id"`
}

type GuildUpdated struct {
	GuildID       uint64            `json:"guild_id"`
	NewName       *string           `json:"new_name,omitempty"`
	NewPictureURL *string           `json:"new_picture,omitempty"`
	NewMetadata   map[string]string `json:"new_metadata,omitempty"`
}

type GuildDeleted struct {
	GuildID uint64 `json:"guild_id"`
}

// MemberJoined/MemberLeft double as the guild-list index change clients
// track to grow/shrink their local guild list (eventbus.GuildListChange is
// published alongside these, not instead of them).
type MemberJoined struct {
	GuildID uint64 `json:"guild_id"`
	UserID  uint64 `json:"user_id"`
}

// MemberLeft's Reason distinguishes a voluntary leave from a kick or ban,
// the three independent ways membership ends (spec.md §4.4).
type MemberLeft struct {
	GuildID uint64 `json:"guild_id"`
	UserID  uint64 `json:"user_id"`
	Reason  string `json:"reason"` // "left" | "kicked" | "banned"
}

type RoleCreated struct {
	GuildID uint64       `json:"guild_id"`
	Role    *models.Role `json:"role"`
}

type RoleMoved struct {
	GuildID uint64 `json:"guild_id"`
	RoleID  uint64 `json:"role_id"`
}

type PermissionUpdated struct {
	GuildID   uint64  `json:"guild_id"`
	ChannelID *uint64 `json:"channel_id,omitempty"`
	RoleID    uint64  `json:"role_id"`
	Pattern   string  `json:"pattern"`
	Allow     bool    `json:"allow"`
}

type UserRolesUpdated struct {
	GuildID uint64 `json:"guild_id"`
	UserID  uint64 `json:"user_id"`
	RoleID  uint64 `json:"role_id"`
	Given   bool   `json:"given"`
}

// Typing is purely ephemeral — nothing is written to storage, it's just
// relayed through the bus (SPEC_FULL.md §D.3, grounded on the original's
// channels/typing.rs).
type Typing struct {
	GuildID   uint64 `json:"guild_id"`
	ChannelID uint64 `json:"channel_id"`
	UserID    uint64 `json:"user_id"`
}

// InviteRejected notifies an inviter that their targeted invite was turned
// down; IgnorePendingInvite deliberately has no corresponding event
// (SPEC_FULL.md §D.4).
type InviteRejected struct {
	GuildID    uint64 `json:"guild_id"`
	RejectedBy uint64 `json:"rejected_by"`
}

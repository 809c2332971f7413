// Package models holds the entity structs every tree reads and writes.
// They're msgpack-tagged because that's the wire format the codec package
// stores them in, and json-tagged because transport re-serializes the same
// structs straight onto HTTP responses.
package models

import "time"

// Guild is the top-level isolation boundary (like a Slack workspace or a
// Discord server). Every channel, role, and invite belongs to exactly one
// guild.
//
// Why uint64 and not a UUID?
//   - IDs here are server-assigned counters, not client-generated. A single
//     atomic counter per entity type (see internal/trees) is simpler to
//     reason about than UUID collision handling, and an 8-byte big-endian
//     id sorts the same as insertion order — which keyspace relies on for
//     every prefix scan in this package.
//   - Federation needs a local/foreign id split instead (see
//     LocalToForeignKey / ForeignToLocalKey in internal/keyspace):
//     uint64 ids are only unique per-host, so guild members who joined from
//     a remote host get a local alias id, never the foreign one directly.
type Guild struct {
	ID         uint64            `json:"id" msgpack:"id"`
	Name       string            `json:"name" msgpack:"name"`
	PictureURL string            `json:"picture" msgpack:"picture"`
	OwnerIDs   []uint64          `json:"owner_ids" msgpack:"owner_ids"`
	CreatedAt  time.Time         `json:"created_at" msgpack:"created_at"`
	Kind       GuildKind         `json:"kind" msgpack:"kind"`
	// Metadata is the free-form key/value bag spec.md §3 lists on Guild,
	// grounded on the original's opaque harmonytypes::Metadata struct — a
	// string map is the simplest Go stand-in for a client-defined blob the
	// server never interprets.
	Metadata map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// GuildKind distinguishes a normal guild from the one-off guild synthesized
// for direct messages between two users (spec.md §3).
type GuildKind int

const (
	GuildKindNormal GuildKind = iota
	GuildKindDirectMessage
)

// Channel is an ordered room within a guild. Ordering among siblings is
// kept in a separate key (keyspace.ChanOrderingKey), not a field here, so
// reordering never requires rewriting every Channel record.
type Channel struct {
	ID        uint64            `json:"id" msgpack:"id"`
	GuildID   uint64            `json:"guild_id" msgpack:"guild_id"`
	Name      string            `json:"name" msgpack:"name"`
	Kind      ChannelKind       `json:"kind" msgpack:"kind"`
	CreatedAt time.Time         `json:"created_at" msgpack:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

type ChannelKind int

const (
	ChannelKindText ChannelKind = iota
	ChannelKindVoice
	ChannelKindCategory
)

// Member is the join entity between a guild and a user. Unlike the
// teacher's ChannelMember, membership here is guild-scoped (channels
// inherit guild membership); per-channel visibility comes from permission
// overrides, not a separate per-channel join row.
type Member struct {
	GuildID  uint64    `json:"guild_id" msgpack:"guild_id"`
	UserID   uint64    `json:"user_id" msgpack:"user_id"`
	JoinedAt time.Time `json:"joined_at" msgpack:"joined_at"`
}

// BannedMember records a ban outlasting membership removal, so a banned
// user can't simply rejoin through a still-valid invite.
type BannedMember struct {
	GuildID  uint64    `json:"guild_id" msgpack:"guild_id"`
	UserID   uint64    `json:"user_id" msgpack:"user_id"`
	BannedAt time.Time `json:"banned_at" msgpack:"banned_at"`
	Reason   string    `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

// Role is a named permission bundle. Its own ordering among sibling roles
// lives at RoleOrderingKey, same reasoning as Channel.
type Role struct {
	ID       uint64 `json:"id" msgpack:"id"`
	GuildID  uint64 `json:"guild_id" msgpack:"guild_id"`
	Name     string `json:"name" msgpack:"name"`
	Color    int32  `json:"color" msgpack:"color"`
	Hoist    bool   `json:"hoist" msgpack:"hoist"`
	Pingable bool   `json:"pingable" msgpack:"pingable"`
}

// Permission is one pattern -> allow/deny entry under a role, at either
// guild scope (GuildPermKey) or channel scope (ChannelPermKey). Pattern
// matching rules (prefix, exact, "*") live in internal/permission.
type Permission struct {
	Pattern string `json:"pattern" msgpack:"pattern"`
	Allow   bool   `json:"allow" msgpack:"allow"`
}

// Message is a single chat entry. Content is a oneof in the source
// implementation (text / embed / attachments / invite-mention); Go has no
// sum type, so we model it as a struct with optional fields, the same
// compromise the source's serde-tagged enum makes on the wire.
//
// Why uint64 ID and not a bigserial-style engine-assigned sequence?
//   - Messages need a predictable, externally visible id before they're
//     durable (clients optimistically render the just-sent message), so
//     internal/trees.ChatTree reserves the id from a per-channel counter
//     (keyspace.NextMsgIDKey) and writes message + counter in one batch.
type Message struct {
	ID        uint64            `json:"id" msgpack:"id"`
	GuildID   uint64            `json:"guild_id" msgpack:"guild_id"`
	ChannelID uint64            `json:"channel_id" msgpack:"channel_id"`
	AuthorID  uint64            `json:"author_id" msgpack:"author_id"`
	Content   MessageContent    `json:"content" msgpack:"content"`
	CreatedAt time.Time         `json:"created_at" msgpack:"created_at"`
	EditedAt  *time.Time        `json:"edited_at,omitempty" msgpack:"edited_at,omitempty"`
	Overrides *MessageOverrides `json:"overrides,omitempty" msgpack:"overrides,omitempty"`
	// InReplyTo is the id of the message this one quotes, within the same
	// channel (spec.md §3). Messages quoting a deleted parent keep the id
	// around rather than clearing it — the original never rewrites a
	// message on an unrelated delete either.
	InReplyTo *uint64 `json:"in_reply_to,omitempty" msgpack:"in_reply_to,omitempty"`
	// Reactions is kept denormalized on the message itself (not a separate
	// scan), mirroring the original's `message.reactions` field; the
	// per-user presence entry that dedupes repeat reacts lives at
	// keyspace.ReactionUserKey instead.
	Reactions []Reaction `json:"reactions,omitempty" msgpack:"reactions,omitempty"`
}

type MessageContent struct {
	Text        string            `json:"text,omitempty" msgpack:"text,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty" msgpack:"attachments,omitempty"`
	Photos      []Photo           `json:"photos,omitempty" msgpack:"photos,omitempty"`
	Embeds      []Embed           `json:"embeds,omitempty" msgpack:"embeds,omitempty"`
	// Extras is the content oneof's generic escape hatch (spec.md §3):
	// arbitrary named byte blobs a client-specific extension can attach
	// without the server needing to understand their shape.
	Extras map[string][]byte `json:"extras,omitempty" msgpack:"extras,omitempty"`
}

// Photo is the content variant for an image attachment carrying dimensions
// up front, distinct from a generic Attachment (spec.md §3 lists
// "photos" separately from "attachments").
type Photo struct {
	ID      string `json:"id" msgpack:"id"`
	Name    string `json:"name" msgpack:"name"`
	Width   uint32 `json:"width" msgpack:"width"`
	Height  uint32 `json:"height" msgpack:"height"`
	Caption string `json:"caption,omitempty" msgpack:"caption,omitempty"`
}

// Reaction is one emote's aggregate count on a message, grounded on the
// original's update_reaction (src/impls/chat/mod.rs): count increments or
// decrements per react/unreact and the entry is dropped once it hits zero.
type Reaction struct {
	Emote Emote  `json:"emote" msgpack:"emote"`
	Count uint32 `json:"count" msgpack:"count"`
}

// MessageOverrides lets a bot post as a synthesized identity (webhook-style
// "override username/avatar") without creating a real user (SPEC_FULL.md
// §D, supplemented from the original's message overrides field).
type MessageOverrides struct {
	Username string `json:"username,omitempty" msgpack:"username,omitempty"`
	AvatarURL string `json:"avatar,omitempty" msgpack:"avatar,omitempty"`
	Reason   string `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

type Attachment struct {
	ID       string `json:"id" msgpack:"id"`
	Name     string `json:"name" msgpack:"name"`
	MimeType string `json:"mimetype" msgpack:"mimetype"`
	Size     uint64 `json:"size" msgpack:"size"`
}

type Embed struct {
	Title       string       `json:"title,omitempty" msgpack:"title,omitempty"`
	Body        string       `json:"body,omitempty" msgpack:"body,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty" msgpack:"fields,omitempty"`
}

type EmbedField struct {
	Title    string `json:"title" msgpack:"title"`
	Body     string `json:"body" msgpack:"body"`
	Presentable bool `json:"presentable" msgpack:"presentable"`
}

// Invite is an un-owned join token for a guild. Deliberately keyed by its
// name (not a numeric id) since invite links are meant to be typed/shared.
type Invite struct {
	Name      string     `json:"name" msgpack:"name"`
	GuildID   uint64     `json:"guild_id" msgpack:"guild_id"`
	CreatedBy uint64     `json:"created_by" msgpack:"created_by"`
	UsesLeft  *uint32    `json:"uses_left,omitempty" msgpack:"uses_left,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" msgpack:"expires_at,omitempty"`
}

// PendingInvite is a direct, targeted invite to one user — distinct from
// Invite's shareable join code (SPEC_FULL.md §D.4, grounded on the
// original's pending_invite/outgoing_invite pair). The invitee accepts by
// joining through InviterID's guild directly, rejects (notifying
// InviterID), or ignores (same removal, no notification).
type PendingInvite struct {
	GuildID   uint64    `json:"guild_id" msgpack:"guild_id"`
	InviterID uint64    `json:"inviter_id" msgpack:"inviter_id"`
	SentAt    time.Time `json:"sent_at" msgpack:"sent_at"`
}

// Profile is a user's account-wide (not guild-scoped) identity.
type Profile struct {
	UserID      uint64 `json:"user_id" msgpack:"user_id"`
	Username    string `json:"username" msgpack:"username"`
	AvatarURL   string `json:"avatar,omitempty" msgpack:"avatar,omitempty"`
	Status      UserStatus `json:"status" msgpack:"status"`
	StatusMsg   string `json:"status_msg,omitempty" msgpack:"status_msg,omitempty"`
	IsBot       bool   `json:"is_bot" msgpack:"is_bot"`
	PasswordHash []byte `json:"-" msgpack:"password_hash"`
}

type UserStatus int

const (
	UserStatusOffline UserStatus = iota
	UserStatusOnline
	UserStatusIdle
	UserStatusDoNotDisturb
)

// EmotePack is a named collection of custom emotes a user can equip.
type EmotePack struct {
	ID      uint64 `json:"id" msgpack:"id"`
	OwnerID uint64 `json:"owner_id" msgpack:"owner_id"`
	Name    string `json:"name" msgpack:"name"`
}

type Emote struct {
	ImageID string `json:"image_id" msgpack:"image_id"`
	Name    string `json:"name" msgpack:"name"`
}

// Session is a logged-in device's credential. Sessions live in memory
// (internal/session) and are mirrored to the auth tree only as the two
// keys TokenKey/AtimeKey need to survive a restart (spec.md §4.6).
type Session struct {
	UserID       uint64    `json:"user_id" msgpack:"user_id"`
	Token        string    `json:"session_token" msgpack:"session_token"`
	LastActiveAt time.Time `json:"-" msgpack:"-"`
}

package trees

import (
	"sort"
	"time"

	"context"

	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/codec"
	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/keyspace"
	"github.com/lalith-99/harmonyhost/internal/models"
	"github.com/lalith-99/harmonyhost/internal/permission"
	"github.com/lalith-99/harmonyhost/internal/storage"
)

// ChatTree is the bulk tree (spec.md §4.4): guilds, channels, messages,
// invites, roles, permissions, bans, and the guild-list index. It
// implements permission.Source directly so internal/permission.Resolver
// can be built straight from a *ChatTree.
type ChatTree struct {
	tree      storage.Tree
	logger    *zap.Logger
	msgCache  *codec.Cache[models.Message]
	inviteCache *codec.Cache[models.Invite]
}

func NewChatTree(tree storage.Tree, logger *zap.Logger) (*ChatTree, error) {
	msgCache, err := codec.NewCache[models.Message](4096)
	if err != nil {
		return nil, err
	}
	inviteCache, err := codec.NewCache[models.Invite](512)
	if err != nil {
		return nil, err
	}
	return &ChatTree{tree: tree, logger: logger, msgCache: msgCache, inviteCache: inviteCache}, nil
}

// nextCounterID increments the counter at key and returns the new value,
// starting at 1. This isn't compare-and-swap; callers that need
// allocation to stay correct under concurrent writers serialize through
// the same goroutine that owns the tree (internal/transport handlers run
// one batch at a time per guild in this implementation).
func (c *ChatTree) nextCounterID(ctx context.Context, key []byte) (uint64, error) {
	raw, err := c.tree.Get(ctx, key)
	if err != nil {
		return 0, herror.Internal(err)
	}
	var next uint64 = 1
	if raw != nil {
		next = keyspace.DecodeU64(raw) + 1
	}
	if _, err := c.tree.Insert(ctx, key, encodeBigEndianU64(next)); err != nil {
		return 0, herror.Internal(err)
	}
	return next, nil
}

// ---- guild CRUD ----

// CreateGuild allocates a guild id, writes the guild record, the default
// "everyone" role (id 0, spec.md invariant 3), a "general" text channel,
// the creator's membership, and the creator's guild_list entry, all in
// one batch.
func (c *ChatTree) CreateGuild(ctx context.Context, ownerID uint64, name string, kind models.GuildKind) (*models.Guild, *models.Channel, error) {
	guildID, err := c.nextCounterID(ctx, keyspace.NextGuildIDCounterKey())
	if err != nil {
		return nil, nil, err
	}
	channelID, err := c.nextCounterID(ctx, keyspace.NextChannelIDCounterKey())
	if err != nil {
		return nil, nil, err
	}

	guild := &models.Guild{
		ID:        guildID,
		Name:      name,
		OwnerIDs:  []uint64{ownerID},
		CreatedAt: time.Now().UTC(),
		Kind:      kind,
	}
	channel := &models.Channel{
		ID:        channelID,
		GuildID:   guildID,
		Name:      "general",
		Kind:      models.ChannelKindText,
		CreatedAt: guild.CreatedAt,
	}
	everyone := &models.Role{ID: permission.EveryoneRoleID, GuildID: guildID, Name: "everyone"}

	var batch storage.Batch
	if err := encodeInto(&batch, keyspace.ChannelKey(guildID, channelID), channel); err != nil {
		return nil, nil, herror.Internal(err)
	}
	if err := encodeInto(&batch, channelGuildKey(guildID), guild); err != nil {
		return nil, nil, herror.Internal(err)
	}
	if err := encodeInto(&batch, keyspace.RoleKey(guildID, 0), everyone); err != nil {
		return nil, nil, herror.Internal(err)
	}
	batch.Insert(keyspace.ChanOrderingKey(guildID), encodeIDList([]uint64{channelID}))
	batch.Insert(keyspace.RoleOrderingKey(guildID), encodeIDList([]uint64{0}))
	batch.Insert(keyspace.DefaultRoleKey(guildID), encodeBigEndianU64(0))
	batch.Insert(keyspace.NextMsgIDKey(guildID, channelID), encodeBigEndianU64(1))
	batch.Insert(keyspace.MemberKey(guildID, ownerID), []byte{1})
	batch.Insert(keyspace.GuildListKey(ownerID, guildID, ""), []byte{1})
	for _, pattern := range defaultEveryonePermissions() {
		batch.Insert(keyspace.GuildPermKey(guildID, 0, pattern), []byte{1})
	}

	if err := c.tree.ApplyBatch(ctx, &batch); err != nil {
		return nil, nil, herror.Internal(err)
	}
	return guild, channel, nil
}

// defaultEveryonePermissions is spec.md invariant 3's required default
// set for role 0 in every guild.
func defaultEveryonePermissions() []string {
	return []string{"messages.send", "messages.view", "roles.get", "roles.user.get"}
}

// channelGuildKey is a private alias: guild records are stored at the
// guild's own key namespace root so ScanPrefix(guildID) finds every key
// belonging to the guild, including the record itself (needed for
// DeleteGuild's prefix wipe).
func channelGuildKey(guildID uint64) []byte {
	return keyspace.ChannelKey(guildID, 0)[:8] // the raw 8-byte guild id, no tag
}

func (c *ChatTree) GetGuild(ctx context.Context, guildID uint64) (*models.Guild, error) {
	raw, err := c.tree.Get(ctx, channelGuildKey(guildID))
	if err != nil {
		return nil, herror.Internal(err)
	}
	if raw == nil {
		return nil, herror.ErrGuildNotFound
	}
	return codec.Decode[models.Guild](raw)
}

// UpdateGuildInfo applies the Option<> style partial update of the
// original's update_guild_information.rs: a nil argument leaves that
// field untouched rather than clearing it.
func (c *ChatTree) UpdateGuildInfo(ctx context.Context, guildID uint64, newName, newPictureURL *string, newMetadata map[string]string) (*models.Guild, error) {
	guild, err := c.GetGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if newName != nil {
		guild.Name = *newName
	}
	if newPictureURL != nil {
		guild.PictureURL = *newPictureURL
	}
	if newMetadata != nil {
		guild.Metadata = newMetadata
	}
	var batch storage.Batch
	if err := encodeInto(&batch, channelGuildKey(guildID), guild); err != nil {
		return nil, herror.Internal(err)
	}
	return guild, wrapApply(c.tree.ApplyBatch(ctx, &batch))
}

// DeleteGuild wipes every key under the guild's prefix in one batch
// (spec.md "Lifecycles": "deleted ... by prefix-wiping all keys beginning
// with the guild id").
func (c *ChatTree) DeleteGuild(ctx context.Context, guildID uint64) error {
	prefix := channelGuildKey(guildID)
	entries, err := c.tree.ScanPrefix(ctx, prefix)
	if err != nil {
		return herror.Internal(err)
	}
	var batch storage.Batch
	for _, e := range entries {
		batch.Remove(e.Key)
	}
	if err := c.tree.ApplyBatch(ctx, &batch); err != nil {
		return herror.Internal(err)
	}
	return nil
}

// ---- channel CRUD + ordering ----

func (c *ChatTree) CreateChannel(ctx context.Context, guildID uint64, name string, kind models.ChannelKind) (*models.Channel, error) {
	channelID, err := c.nextCounterID(ctx, keyspace.NextChannelIDCounterKey())
	if err != nil {
		return nil, err
	}
	channel := &models.Channel{ID: channelID, GuildID: guildID, Name: name, Kind: kind, CreatedAt: time.Now().UTC()}

	ordering, err := c.getIDList(ctx, keyspace.ChanOrderingKey(guildID))
	if err != nil {
		return nil, err
	}
	ordering = append(ordering, channelID)

	var batch storage.Batch
	if err := encodeInto(&batch, keyspace.ChannelKey(guildID, channelID), channel); err != nil {
		return nil, herror.Internal(err)
	}
	batch.Insert(keyspace.ChanOrderingKey(guildID), encodeIDList(ordering))
	batch.Insert(keyspace.NextMsgIDKey(guildID, channelID), encodeBigEndianU64(1))
	if err := c.tree.ApplyBatch(ctx, &batch); err != nil {
		return nil, herror.Internal(err)
	}
	return channel, nil
}

func (c *ChatTree) GetChannel(ctx context.Context, guildID, channelID uint64) (*models.Channel, error) {
	raw, err := c.tree.Get(ctx, keyspace.ChannelKey(guildID, channelID))
	if err != nil {
		return nil, herror.Internal(err)
	}
	if raw == nil {
		return nil, herror.ErrChannelNotFound
	}
	return codec.Decode[models.Channel](raw)
}

// UpdateChannelInfo applies the Option<> style partial update of the
// original's update_channel_information.rs: a nil argument leaves that
// field untouched rather than clearing it.
func (c *ChatTree) UpdateChannelInfo(ctx context.Context, guildID, channelID uint64, newName *string, newMetadata map[string]string) (*models.Channel, error) {
	channel, err := c.GetChannel(ctx, guildID, channelID)
	if err != nil {
		return nil, err
	}
	if newName != nil {
		channel.Name = *newName
	}
	if newMetadata != nil {
		channel.Metadata = newMetadata
	}
	var batch storage.Batch
	if err := encodeInto(&batch, keyspace.ChannelKey(guildID, channelID), channel); err != nil {
		return nil, herror.Internal(err)
	}
	return channel, wrapApply(c.tree.ApplyBatch(ctx, &batch))
}

func (c *ChatTree) GetGuildChannels(ctx context.Context, guildID uint64) ([]*models.Channel, error) {
	ordering, err := c.getIDList(ctx, keyspace.ChanOrderingKey(guildID))
	if err != nil {
		return nil, err
	}
	channels := make([]*models.Channel, 0, len(ordering))
	for _, id := range ordering {
		ch, err := c.GetChannel(ctx, guildID, id)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func (c *ChatTree) GetGuildRoles(ctx context.Context, guildID uint64) ([]*models.Role, error) {
	ordering, err := c.getIDList(ctx, keyspace.RoleOrderingKey(guildID))
	if err != nil {
		return nil, err
	}
	roles := make([]*models.Role, 0, len(ordering))
	for _, id := range ordering {
		raw, err := c.tree.Get(ctx, keyspace.RoleKey(guildID, id))
		if err != nil {
			return nil, herror.Internal(err)
		}
		if raw == nil {
			continue
		}
		role, err := codec.Decode[models.Role](raw)
		if err != nil {
			return nil, herror.Internal(err)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// Position is either "after", "before", or absent (append), matching
// spec.md §4.4's update_order contract.
type Position struct {
	Relation string // "after" or "before"
	OtherID  uint64
}

// UpdateChannelOrder moves channelID to the position described by pos (nil
// means append at the end), rewriting the ordering list atomically.
func (c *ChatTree) UpdateChannelOrder(ctx context.Context, guildID, channelID uint64, pos *Position) error {
	key := keyspace.ChanOrderingKey(guildID)
	ordering, err := c.getIDList(ctx, key)
	if err != nil {
		return err
	}
	ordering = reorder(ordering, channelID, pos)
	if _, err := c.tree.Insert(ctx, key, encodeIDList(ordering)); err != nil {
		return herror.Internal(err)
	}
	return nil
}

func (c *ChatTree) UpdateRoleOrder(ctx context.Context, guildID, roleID uint64, pos *Position) error {
	key := keyspace.RoleOrderingKey(guildID)
	ordering, err := c.getIDList(ctx, key)
	if err != nil {
		return err
	}
	ordering = reorder(ordering, roleID, pos)
	if _, err := c.tree.Insert(ctx, key, encodeIDList(ordering)); err != nil {
		return herror.Internal(err)
	}
	return nil
}

// reorder removes id if present, then reinserts it at the position pos
// resolves to. Applying the same move twice is idempotent: the second
// application finds id already adjacent to pos.OtherID and leaves the
// list unchanged (spec.md §8 "Channel reorder").
func reorder(ordering []uint64, id uint64, pos *Position) []uint64 {
	out := make([]uint64, 0, len(ordering))
	for _, v := range ordering {
		if v != id {
			out = append(out, v)
		}
	}
	if pos == nil {
		return append(out, id)
	}
	idx := indexOf(out, pos.OtherID)
	if idx < 0 {
		return append(out, id)
	}
	if pos.Relation == "before" {
		return insertAt(out, idx, id)
	}
	return insertAt(out, idx+1, id)
}

func indexOf(list []uint64, id uint64) int {
	for i, v := range list {
		if v == id {
			return i
		}
	}
	return -1
}

func insertAt(list []uint64, idx int, id uint64) []uint64 {
	out := make([]uint64, 0, len(list)+1)
	out = append(out, list[:idx]...)
	out = append(out, id)
	out = append(out, list[idx:]...)
	return out
}

// ---- messages ----

// Direction mirrors the source's pagination Direction enum.
type Direction int

const (
	DirectionBefore Direction = iota
	DirectionAfter
	DirectionAround
)

// allowOverrides gates MessageOverrides (webhook-style posting under a
// synthesized identity): it's the system/webhook path's privilege, not an
// ordinary author's, so a normal SendMessage call passes false and any
// overrides attached anyway come back as ErrContentTypeNotAllowed.
func (c *ChatTree) SendMessage(ctx context.Context, guildID, channelID, authorID uint64, content models.MessageContent, overrides *models.MessageOverrides, allowOverrides bool, inReplyTo *uint64) (*models.Message, error) {
	if content.Text == "" && len(content.Attachments) == 0 && len(content.Embeds) == 0 && len(content.Photos) == 0 && len(content.Extras) == 0 {
		return nil, herror.ErrMessageEmpty
	}
	if overrides != nil && !allowOverrides {
		return nil, herror.ErrContentTypeNotAllowed
	}

	counterKey := keyspace.NextMsgIDKey(guildID, channelID)
	raw, err := c.tree.Get(ctx, counterKey)
	if err != nil {
		return nil, herror.Internal(err)
	}
	msgID := uint64(1)
	if raw != nil {
		msgID = keyspace.DecodeU64(raw)
	}

	msg := &models.Message{
		ID:        msgID,
		GuildID:   guildID,
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Overrides: overrides,
		InReplyTo: inReplyTo,
	}

	var batch storage.Batch
	if err := encodeInto(&batch, keyspace.MessageKey(guildID, channelID, msgID), msg); err != nil {
		return nil, herror.Internal(err)
	}
	batch.Insert(counterKey, encodeBigEndianU64(msgID+1))
	if err := c.tree.ApplyBatch(ctx, &batch); err != nil {
		return nil, herror.Internal(err)
	}
	return msg, nil
}

func (c *ChatTree) GetMessage(ctx context.Context, guildID, channelID, msgID uint64) (*models.Message, error) {
	key := keyspace.MessageKey(guildID, channelID, msgID)
	raw, err := c.tree.Get(ctx, key)
	if err != nil {
		return nil, herror.Internal(err)
	}
	if raw == nil {
		return nil, herror.ErrMessageNotFound
	}
	return codec.DecodeCached(c.msgCache, string(key), raw)
}

func (c *ChatTree) EditMessage(ctx context.Context, guildID, channelID, msgID uint64, content models.MessageContent) (*models.Message, error) {
	msg, err := c.GetMessage(ctx, guildID, channelID, msgID)
	if err != nil {
		return nil, err
	}
	updated := *msg
	updated.Content = content
	now := time.Now().UTC()
	updated.EditedAt = &now

	key := keyspace.MessageKey(guildID, channelID, msgID)
	raw, err := codec.Encode(&updated)
	if err != nil {
		return nil, herror.Internal(err)
	}
	if _, err := c.tree.Insert(ctx, key, raw); err != nil {
		return nil, herror.Internal(err)
	}
	c.msgCache.Put(string(key), &updated)
	return &updated, nil
}

func (c *ChatTree) DeleteMessage(ctx context.Context, guildID, channelID, msgID uint64) error {
	key := keyspace.MessageKey(guildID, channelID, msgID)
	if _, err := c.tree.Remove(ctx, key); err != nil {
		return herror.Internal(err)
	}
	c.msgCache.Invalidate(string(key))
	c.tree.Remove(ctx, keyspace.PinnedKey(guildID, channelID, msgID))
	return nil
}

// MessagePage is a pagination window, matching spec.md §8's boundary
// properties: ReachedTop means no messages exist before the window;
// ReachedBottom means no messages exist after it.
type MessagePage struct {
	Messages     []*models.Message
	ReachedTop   bool
	ReachedBottom bool
}

// GetChannelMessages paginates newest-first around an anchor message id,
// per Direction. before=1 (DirectionBefore with anchor 1) always yields an
// empty page with ReachedTop=true, since no message id is less than 1.
func (c *ChatTree) GetChannelMessages(ctx context.Context, guildID, channelID uint64, anchor uint64, direction Direction, count int) (*MessagePage, error) {
	entries, err := c.tree.ScanPrefix(ctx, keyspace.MessagePrefix(guildID, channelID))
	if err != nil {
		return nil, herror.Internal(err)
	}

	all := make([]uint64, 0, len(entries))
	for _, e := range entries {
		all = append(all, keyspace.DecodeU64(e.Key[len(e.Key)-8:]))
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	var window []uint64
	reachedTop, reachedBottom := false, false

	switch direction {
	case DirectionBefore:
		idx := sort.Search(len(all), func(i int) bool { return all[i] >= anchor })
		lo := idx - count
		if lo <= 0 {
			lo = 0
			reachedTop = true
		}
		window = all[lo:idx]
		if idx >= len(all) {
			reachedBottom = true
		}
	case DirectionAfter:
		idx := sort.Search(len(all), func(i int) bool { return all[i] > anchor })
		hi := idx + count
		if hi >= len(all) {
			hi = len(all)
			reachedBottom = true
		}
		window = all[idx:hi]
		if idx == 0 {
			reachedTop = true
		}
	default: // DirectionAround
		idx := sort.Search(len(all), func(i int) bool { return all[i] >= anchor })
		half := count / 2
		lo, hi := idx-half, idx+half
		if lo <= 0 {
			lo = 0
			reachedTop = true
		}
		if hi >= len(all) {
			hi = len(all)
			reachedBottom = true
		}
		window = all[lo:hi]
	}

	msgs := make([]*models.Message, 0, len(window))
	for i := len(window) - 1; i >= 0; i-- {
		msg, err := c.GetMessage(ctx, guildID, channelID, window[i])
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return &MessagePage{Messages: msgs, ReachedTop: reachedTop, ReachedBottom: reachedBottom}, nil
}

// ---- pinned messages (SPEC_FULL.md §D.5) ----

func (c *ChatTree) PinMessage(ctx context.Context, guildID, channelID, msgID uint64) error {
	if _, err := c.GetMessage(ctx, guildID, channelID, msgID); err != nil {
		return err
	}
	if _, err := c.tree.Insert(ctx, keyspace.PinnedKey(guildID, channelID, msgID), []byte{1}); err != nil {
		return herror.Internal(err)
	}
	return nil
}

func (c *ChatTree) UnpinMessage(ctx context.Context, guildID, channelID, msgID uint64) error {
	if _, err := c.tree.Remove(ctx, keyspace.PinnedKey(guildID, channelID, msgID)); err != nil {
		return herror.Internal(err)
	}
	return nil
}

func (c *ChatTree) GetPinnedMessages(ctx context.Context, guildID, channelID uint64) ([]*models.Message, error) {
	entries, err := c.tree.ScanPrefix(ctx, keyspace.PinnedPrefix(guildID, channelID))
	if err != nil {
		return nil, herror.Internal(err)
	}
	msgs := make([]*models.Message, 0, len(entries))
	for _, e := range entries {
		msgID := keyspace.DecodeU64(e.Key[len(e.Key)-8:])
		msg, err := c.GetMessage(ctx, guildID, channelID, msgID)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// GuildPreview is the permission-free summary PreviewGuild returns, letting
// a client show what an invite leads to before the user commits to joining
// (SPEC_FULL.md §D.2, grounded on the original's preview_guild.rs).
type GuildPreview struct {
	Name        string `json:"name"`
	PictureURL  string `json:"picture"`
	MemberCount int    `json:"member_count"`
}

// PreviewGuild resolves an invite straight to its guild's public summary
// without requiring membership or consuming a use — the original does the
// same guild-id lookup preview_guild.rs performs, skipping check_perms
// entirely since there's no guild-scoped actor yet.
func (c *ChatTree) PreviewGuild(ctx context.Context, inviteName string) (*GuildPreview, error) {
	invite, err := c.GetInvite(ctx, inviteName)
	if err != nil {
		return nil, err
	}
	guild, err := c.GetGuild(ctx, invite.GuildID)
	if err != nil {
		return nil, err
	}
	members, err := c.ListMembers(ctx, invite.GuildID)
	if err != nil {
		return nil, err
	}
	return &GuildPreview{Name: guild.Name, PictureURL: guild.PictureURL, MemberCount: len(members)}, nil
}

// ---- reactions ----

// AddReaction toggles userID's react with emote onto a message, matching
// the original's update_reaction(add=true): a repeat react from the same
// user on the same emote is a no-op, otherwise the reaction's count is
// incremented (or the reaction is created at count 1).
func (c *ChatTree) AddReaction(ctx context.Context, guildID, channelID, msgID, userID uint64, emote models.Emote) (*models.Message, error) {
	return c.updateReaction(ctx, guildID, channelID, msgID, userID, emote, true)
}

// RemoveReaction is AddReaction's inverse: decrements the matching
// reaction's count, dropping the entry entirely once it reaches zero.
func (c *ChatTree) RemoveReaction(ctx context.Context, guildID, channelID, msgID, userID uint64, emote models.Emote) (*models.Message, error) {
	return c.updateReaction(ctx, guildID, channelID, msgID, userID, emote, false)
}

func (c *ChatTree) updateReaction(ctx context.Context, guildID, channelID, msgID, userID uint64, emote models.Emote, add bool) (*models.Message, error) {
	reactKey := keyspace.ReactionUserKey(guildID, channelID, msgID, userID, emote.ImageID)
	reacted, err := c.tree.Contains(ctx, reactKey)
	if err != nil {
		return nil, herror.Internal(err)
	}
	if add == reacted {
		return c.GetMessage(ctx, guildID, channelID, msgID)
	}

	msg, err := c.GetMessage(ctx, guildID, channelID, msgID)
	if err != nil {
		return nil, err
	}
	updated := *msg
	updated.Reactions = make([]models.Reaction, len(msg.Reactions))
	copy(updated.Reactions, msg.Reactions)

	idx := -1
	for i, r := range updated.Reactions {
		if r.Emote.ImageID == emote.ImageID {
			idx = i
			break
		}
	}

	var batch storage.Batch
	switch {
	case idx < 0 && add:
		updated.Reactions = append(updated.Reactions, models.Reaction{Emote: emote, Count: 1})
		batch.Insert(reactKey, []byte{1})
	case idx >= 0 && add:
		updated.Reactions[idx].Count++
		batch.Insert(reactKey, []byte{1})
	case idx >= 0 && !add:
		updated.Reactions[idx].Count--
		batch.Remove(reactKey)
		if updated.Reactions[idx].Count == 0 {
			updated.Reactions = append(updated.Reactions[:idx], updated.Reactions[idx+1:]...)
		}
	default: // idx < 0 && !add: nothing to remove
		return msg, nil
	}

	if err := encodeInto(&batch, keyspace.MessageKey(guildID, channelID, msgID), &updated); err != nil {
		return nil, herror.Internal(err)
	}
	if err := c.tree.ApplyBatch(ctx, &batch); err != nil {
		return nil, herror.Internal(err)
	}
	c.msgCache.Put(string(keyspace.MessageKey(guildID, channelID, msgID)), &updated)
	return &updated, nil
}

// ---- pending (targeted) invites ----

// AddPendingInvite records a direct invite from inviterID to userID, the
// targeted counterpart to the named-code CreateInvite/UseInvite pair
// (SPEC_FULL.md §D.4).
func (c *ChatTree) AddPendingInvite(ctx context.Context, userID, guildID, inviterID uint64) error {
	pending := &models.PendingInvite{GuildID: guildID, InviterID: inviterID, SentAt: time.Now().UTC()}
	raw, err := codec.Encode(pending)
	if err != nil {
		return herror.Internal(err)
	}
	if _, err := c.tree.Insert(ctx, keyspace.PendingInviteKey(userID, guildID), raw); err != nil {
		return herror.Internal(err)
	}
	return nil
}

func (c *ChatTree) GetPendingInvites(ctx context.Context, userID uint64) ([]*models.PendingInvite, error) {
	entries, err := c.tree.ScanPrefix(ctx, keyspace.PendingInvitePrefix(userID))
	if err != nil {
		return nil, herror.Internal(err)
	}
	out := make([]*models.PendingInvite, 0, len(entries))
	for _, e := range entries {
		pending, err := codec.Decode[models.PendingInvite](e.Value)
		if err != nil {
			return nil, herror.Internal(err)
		}
		out = append(out, pending)
	}
	return out, nil
}

// RejectPendingInvite removes userID's pending invite to guildID and
// returns the inviter id, so the caller can notify them — the distinction
// from IgnorePendingInvite that SPEC_FULL.md §D.4 calls out (original's
// reject_pending_invite.rs dispatches a rejection event; ignore does not).
func (c *ChatTree) RejectPendingInvite(ctx context.Context, userID, guildID uint64) (inviterID uint64, err error) {
	key := keyspace.PendingInviteKey(userID, guildID)
	raw, err := c.tree.Get(ctx, key)
	if err != nil {
		return 0, herror.Internal(err)
	}
	if raw == nil {
		return 0, herror.ErrInviteNotFound
	}
	pending, err := codec.Decode[models.PendingInvite](raw)
	if err != nil {
		return 0, herror.Internal(err)
	}
	if _, err := c.tree.Remove(ctx, key); err != nil {
		return 0, herror.Internal(err)
	}
	return pending.InviterID, nil
}

// IgnorePendingInvite removes the pending invite silently, with no
// notification back to the inviter.
func (c *ChatTree) IgnorePendingInvite(ctx context.Context, userID, guildID uint64) error {
	if _, err := c.tree.Remove(ctx, keyspace.PendingInviteKey(userID, guildID)); err != nil {
		return herror.Internal(err)
	}
	return nil
}

// ---- invites ----

func (c *ChatTree) CreateInvite(ctx context.Context, guildID, createdBy uint64, name string, usesLeft *uint32, expiresAt *time.Time) (*models.Invite, error) {
	key := keyspace.InviteKey(name)
	exists, err := c.tree.Contains(ctx, key)
	if err != nil {
		return nil, herror.Internal(err)
	}
	if exists {
		return nil, herror.ErrInviteAlreadyExists
	}
	invite := &models.Invite{Name: name, GuildID: guildID, CreatedBy: createdBy, UsesLeft: usesLeft, ExpiresAt: expiresAt}
	raw, err := codec.Encode(invite)
	if err != nil {
		return nil, herror.Internal(err)
	}
	if _, err := c.tree.Insert(ctx, key, raw); err != nil {
		return nil, herror.Internal(err)
	}
	return invite, nil
}

func (c *ChatTree) GetInvite(ctx context.Context, name string) (*models.Invite, error) {
	key := keyspace.InviteKey(name)
	raw, err := c.tree.Get(ctx, key)
	if err != nil {
		return nil, herror.Internal(err)
	}
	if raw == nil {
		return nil, herror.ErrInviteNotFound
	}
	return codec.DecodeCached(c.inviteCache, string(key), raw)
}

func (c *ChatTree) DeleteInvite(ctx context.Context, name string) error {
	key := keyspace.InviteKey(name)
	if _, err := c.tree.Remove(ctx, key); err != nil {
		return herror.Internal(err)
	}
	c.inviteCache.Invalidate(string(key))
	return nil
}

// UseInvite decrements uses_left (if finite) and joins userID to the
// invite's guild; a fully consumed invite is deleted so a later lookup
// reports "not found" rather than "expired" (spec.md §8 scenario 4: a
// second join against a single-use invite fails with h.bad-invite-id).
func (c *ChatTree) UseInvite(ctx context.Context, name string, userID uint64) (*models.Invite, error) {
	invite, err := c.GetInvite(ctx, name)
	if err != nil {
		return nil, err
	}
	if invite.ExpiresAt != nil && time.Now().After(*invite.ExpiresAt) {
		return nil, herror.ErrInviteNotFound
	}

	already, err := c.IsMember(ctx, invite.GuildID, userID)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, herror.ErrUserAlreadyInGuild
	}

	var batch storage.Batch
	batch.Insert(keyspace.MemberKey(invite.GuildID, userID), []byte{1})
	batch.Insert(keyspace.GuildListKey(userID, invite.GuildID, ""), []byte{1})

	key := keyspace.InviteKey(name)
	if invite.UsesLeft != nil {
		remaining := *invite.UsesLeft - 1
		if remaining == 0 {
			batch.Remove(key)
		} else {
			invite.UsesLeft = &remaining
			raw, err := codec.Encode(invite)
			if err != nil {
				return nil, herror.Internal(err)
			}
			batch.Insert(key, raw)
		}
	}

	if err := c.tree.ApplyBatch(ctx, &batch); err != nil {
		return nil, herror.Internal(err)
	}
	c.inviteCache.Invalidate(string(key))
	return invite, nil
}

// ---- membership, bans, kicks ----

func (c *ChatTree) IsMember(ctx context.Context, guildID, userID uint64) (bool, error) {
	ok, err := c.tree.Contains(ctx, keyspace.MemberKey(guildID, userID))
	if err != nil {
		return false, herror.Internal(err)
	}
	return ok, nil
}

func (c *ChatTree) ListMembers(ctx context.Context, guildID uint64) ([]uint64, error) {
	entries, err := c.tree.ScanPrefix(ctx, keyspace.GuildMemberPrefix(guildID))
	if err != nil {
		return nil, herror.Internal(err)
	}
	ids := make([]uint64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, keyspace.DecodeU64(e.Key[len(e.Key)-8:]))
	}
	return ids, nil
}

// removeMembership is the shared primitive behind KickMember and
// LeaveGuild: it drops membership, role assignment, and guild-list entry
// without judging who initiated the removal.
func (c *ChatTree) removeMembership(ctx context.Context, guildID, userID uint64) error {
	var batch storage.Batch
	batch.Remove(keyspace.MemberKey(guildID, userID))
	batch.Remove(keyspace.UserRolesKey(guildID, userID))
	batch.Remove(keyspace.GuildListKey(userID, guildID, ""))
	if err := c.tree.ApplyBatch(ctx, &batch); err != nil {
		return herror.Internal(err)
	}
	return nil
}

// KickMember removes membership and role assignment but leaves any ban
// record untouched — kick and ban are independent operations (spec.md
// §4.4 "ban/kick"). actorID must differ from userID: kicking yourself is
// LeaveGuild's job, not this one's.
func (c *ChatTree) KickMember(ctx context.Context, guildID, actorID, userID uint64) error {
	if actorID == userID {
		return herror.ErrCantKickOrBanSelf
	}
	return c.removeMembership(ctx, guildID, userID)
}

func (c *ChatTree) BanMember(ctx context.Context, guildID, actorID, userID uint64, reason string) error {
	if actorID == userID {
		return herror.ErrCantKickOrBanSelf
	}
	ban := models.BannedMember{GuildID: guildID, UserID: userID, BannedAt: time.Now().UTC(), Reason: reason}
	raw, err := codec.Encode(&ban)
	if err != nil {
		return herror.Internal(err)
	}
	var batch storage.Batch
	batch.Insert(keyspace.BannedMemberKey(guildID, userID), raw)
	batch.Remove(keyspace.MemberKey(guildID, userID))
	batch.Remove(keyspace.UserRolesKey(guildID, userID))
	batch.Remove(keyspace.GuildListKey(userID, guildID, ""))
	if err := c.tree.ApplyBatch(ctx, &batch); err != nil {
		return herror.Internal(err)
	}
	return nil
}

func (c *ChatTree) IsBanned(ctx context.Context, guildID, userID uint64) (bool, error) {
	ok, err := c.tree.Contains(ctx, keyspace.BannedMemberKey(guildID, userID))
	if err != nil {
		return false, herror.Internal(err)
	}
	return ok, nil
}

func (c *ChatTree) Unban(ctx context.Context, guildID, userID uint64) error {
	if _, err := c.tree.Remove(ctx, keyspace.BannedMemberKey(guildID, userID)); err != nil {
		return herror.Internal(err)
	}
	return nil
}

// LeaveGuild enforces spec.md invariant 4: the last owner cannot leave.
func (c *ChatTree) LeaveGuild(ctx context.Context, guildID, userID uint64) error {
	guild, err := c.GetGuild(ctx, guildID)
	if err != nil {
		return err
	}
	if containsU64(guild.OwnerIDs, userID) && len(guild.OwnerIDs) == 1 {
		return herror.ErrOwnerCantLeave
	}
	return c.removeMembership(ctx, guildID, userID)
}

// GiveUpOwnership removes userID from owner_ids; the last owner cannot
// give up ownership either (spec.md §8 "last-owner give-up-ownership").
func (c *ChatTree) GiveUpOwnership(ctx context.Context, guildID, userID uint64) error {
	guild, err := c.GetGuild(ctx, guildID)
	if err != nil {
		return err
	}
	if !containsU64(guild.OwnerIDs, userID) {
		return herror.ErrMustBeOwner
	}
	if len(guild.OwnerIDs) == 1 {
		return herror.ErrLastOwnerInGuild
	}
	remaining := make([]uint64, 0, len(guild.OwnerIDs)-1)
	for _, id := range guild.OwnerIDs {
		if id != userID {
			remaining = append(remaining, id)
		}
	}
	guild.OwnerIDs = remaining
	var batch storage.Batch
	if err := encodeInto(&batch, channelGuildKey(guildID), guild); err != nil {
		return herror.Internal(err)
	}
	return wrapApply(c.tree.ApplyBatch(ctx, &batch))
}

// GrantOwnership adds userID to owner_ids (SPEC_FULL.md §D — the
// complement GiveUpOwnership needs to be reachable from somewhere).
func (c *ChatTree) GrantOwnership(ctx context.Context, guildID, userID uint64) error {
	guild, err := c.GetGuild(ctx, guildID)
	if err != nil {
		return err
	}
	if containsU64(guild.OwnerIDs, userID) {
		return nil
	}
	guild.OwnerIDs = append(guild.OwnerIDs, userID)
	var batch storage.Batch
	if err := encodeInto(&batch, channelGuildKey(guildID), guild); err != nil {
		return herror.Internal(err)
	}
	return wrapApply(c.tree.ApplyBatch(ctx, &batch))
}

func wrapApply(err error) error {
	if err != nil {
		return herror.Internal(err)
	}
	return nil
}

// ---- roles & permissions (also satisfies permission.Source) ----

func (c *ChatTree) GuildOwners(ctx context.Context, guildID uint64) ([]uint64, error) {
	guild, err := c.GetGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return guild.OwnerIDs, nil
}

func (c *ChatTree) UserRoles(ctx context.Context, guildID, userID uint64) ([]uint64, error) {
	return c.getIDList(ctx, keyspace.UserRolesKey(guildID, userID))
}

func (c *ChatTree) GuildRolePerms(ctx context.Context, guildID, roleID uint64) ([]permission.Entry, error) {
	entries, err := c.tree.ScanPrefix(ctx, keyspace.GuildPermPrefix(guildID, roleID))
	if err != nil {
		return nil, herror.Internal(err)
	}
	return decodePermEntries(entries, len(keyspace.GuildPermPrefix(guildID, roleID))), nil
}

func (c *ChatTree) ChannelRolePerms(ctx context.Context, guildID, channelID, roleID uint64) ([]permission.Entry, error) {
	entries, err := c.tree.ScanPrefix(ctx, keyspace.ChannelPermPrefix(guildID, channelID, roleID))
	if err != nil {
		return nil, herror.Internal(err)
	}
	return decodePermEntries(entries, len(keyspace.ChannelPermPrefix(guildID, channelID, roleID))), nil
}

func decodePermEntries(entries []storage.Entry, patternOffset int) []permission.Entry {
	out := make([]permission.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, permission.Entry{
			Pattern: string(e.Key[patternOffset:]),
			Allow:   len(e.Value) > 0 && e.Value[0] == 1,
		})
	}
	return out
}

func (c *ChatTree) SetGuildPermission(ctx context.Context, guildID, roleID uint64, pattern string, allow bool) error {
	value := []byte{0}
	if allow {
		value = []byte{1}
	}
	if _, err := c.tree.Insert(ctx, keyspace.GuildPermKey(guildID, roleID, pattern), value); err != nil {
		return herror.Internal(err)
	}
	return nil
}

func (c *ChatTree) SetChannelPermission(ctx context.Context, guildID, channelID, roleID uint64, pattern string, allow bool) error {
	value := []byte{0}
	if allow {
		value = []byte{1}
	}
	if _, err := c.tree.Insert(ctx, keyspace.ChannelPermKey(guildID, channelID, roleID, pattern), value); err != nil {
		return herror.Internal(err)
	}
	return nil
}

func (c *ChatTree) CreateRole(ctx context.Context, guildID uint64, role *models.Role) (*models.Role, error) {
	roleID, err := c.nextCounterID(ctx, keyspace.NextRoleIDCounterKey(guildID))
	if err != nil {
		return nil, err
	}
	role.ID = roleID
	role.GuildID = guildID

	ordering, err := c.getIDList(ctx, keyspace.RoleOrderingKey(guildID))
	if err != nil {
		return nil, err
	}
	ordering = append(ordering, roleID)

	var batch storage.Batch
	if err := encodeInto(&batch, keyspace.RoleKey(guildID, roleID), role); err != nil {
		return nil, herror.Internal(err)
	}
	batch.Insert(keyspace.RoleOrderingKey(guildID), encodeIDList(ordering))
	if err := c.tree.ApplyBatch(ctx, &batch); err != nil {
		return nil, herror.Internal(err)
	}
	return role, nil
}

// ManageUserRoles adds/removes roleID from userID's role list within guildID.
func (c *ChatTree) ManageUserRoles(ctx context.Context, guildID, userID, roleID uint64, give bool) error {
	key := keyspace.UserRolesKey(guildID, userID)
	roles, err := c.getIDList(ctx, key)
	if err != nil {
		return err
	}
	if give {
		if !containsU64(roles, roleID) {
			roles = append(roles, roleID)
		}
	} else {
		filtered := roles[:0]
		for _, r := range roles {
			if r != roleID {
				filtered = append(filtered, r)
			}
		}
		roles = filtered
	}
	if _, err := c.tree.Insert(ctx, key, encodeIDList(roles)); err != nil {
		return herror.Internal(err)
	}
	return nil
}

// ---- guild list maintenance (local + federated members) ----

func (c *ChatTree) GuildList(ctx context.Context, userID uint64) ([]storage.Entry, error) {
	entries, err := c.tree.ScanPrefix(ctx, keyspace.GuildListPrefix(userID))
	if err != nil {
		return nil, herror.Internal(err)
	}
	return entries, nil
}

func (c *ChatTree) AddToGuildList(ctx context.Context, userID, guildID uint64, host string) error {
	if _, err := c.tree.Insert(ctx, keyspace.GuildListKey(userID, guildID, host), []byte{1}); err != nil {
		return herror.Internal(err)
	}
	return nil
}

func (c *ChatTree) RemoveFromGuildList(ctx context.Context, userID, guildID uint64, host string) error {
	if _, err := c.tree.Remove(ctx, keyspace.GuildListKey(userID, guildID, host)); err != nil {
		return herror.Internal(err)
	}
	return nil
}

// ---- shared helpers ----

func (c *ChatTree) getIDList(ctx context.Context, key []byte) ([]uint64, error) {
	raw, err := c.tree.Get(ctx, key)
	if err != nil {
		return nil, herror.Internal(err)
	}
	return decodeIDList(raw), nil
}

func encodeIDList(ids []uint64) []byte {
	out := make([]byte, 0, len(ids)*8)
	for _, id := range ids {
		out = append(out, encodeBigEndianU64(id)...)
	}
	return out
}

func decodeIDList(raw []byte) []uint64 {
	ids := make([]uint64, 0, len(raw)/8)
	for i := 0; i+8 <= len(raw); i += 8 {
		ids = append(ids, keyspace.DecodeU64(raw[i:i+8]))
	}
	return ids
}

func containsU64(list []uint64, id uint64) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func encodeInto(batch *storage.Batch, key []byte, v any) error {
	raw, err := codec.Encode(v)
	if err != nil {
		return err
	}
	batch.Insert(key, raw)
	return nil
}

package transport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/eventbus"
	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/models"
	"github.com/lalith-99/harmonyhost/internal/permission"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

type ChatHandler struct {
	chat   *trees.ChatTree
	perms  *permission.Resolver
	bus    *eventbus.Bus
	logger *zap.Logger
}

func NewChatHandler(chat *trees.ChatTree, perms *permission.Resolver, bus *eventbus.Bus, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, perms: perms, bus: bus, logger: logger}
}

// publish is a thin wrapper so every handler below reads the same way: an
// empty PermCheck means "deliver to every subscriber of this sub",
// matching spec.md §4.6's EmptyPermissionQuery-is-allow rule.
func (h *ChatHandler) publish(sub eventbus.Sub, payload any, check *eventbus.PermCheck) {
	h.bus.Publish(eventbus.Event{Sub: sub, Payload: payload, PermCheck: check})
}

func guildSub(guildID uint64) eventbus.Sub { return eventbus.Sub{Kind: eventbus.SubGuild, GuildID: guildID} }

func viewCheck(guildID uint64, channelID *uint64) *eventbus.PermCheck {
	return &eventbus.PermCheck{GuildID: guildID, ChannelID: channelID, MatchFor: "messages.view"}
}

type createGuildRequest struct {
	Name string `json:"name" binding:"required"`
	Kind string `json:"kind"`
}

// CreateGuild handles POST /guilds.
func (h *ChatHandler) CreateGuild(c *gin.Context) {
	var req createGuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}

	kind := models.GuildKindNormal
	if req.Kind == "direct-message" {
		kind = models.GuildKindDirectMessage
	}

	guild, channel, err := h.chat.CreateGuild(c.Request.Context(), UserID(c), req.Name, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"guild": guild, "default_channel": channel})
}

// GetGuild handles GET /guilds/:guild_id.
func (h *ChatHandler) GetGuild(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "guilds.get", false); err != nil {
		respondError(c, err)
		return
	}
	guild, err := h.chat.GetGuild(c.Request.Context(), guildID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, guild)
}

// DeleteGuild handles DELETE /guilds/:guild_id. Only an owner may do
// this (spec.md §4.5 owner-bypass notwithstanding — this is the one
// operation that always requires actual ownership).
func (h *ChatHandler) DeleteGuild(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "", true); err != nil {
		respondError(c, err)
		return
	}
	if err := h.chat.DeleteGuild(c.Request.Context(), guildID); err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), GuildDeleted{GuildID: guildID}, nil)
	c.Status(http.StatusNoContent)
}

type createChannelRequest struct {
	Name string `json:"name" binding:"required"`
	Kind string `json:"kind"`
}

// CreateChannel handles POST /guilds/:guild_id/channels.
func (h *ChatHandler) CreateChannel(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "channels.manage", false); err != nil {
		respondError(c, err)
		return
	}
	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}
	kind := models.ChannelKindText
	if req.Kind == "voice" {
		kind = models.ChannelKindVoice
	}
	channel, err := h.chat.CreateChannel(c.Request.Context(), guildID, req.Name, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), ChannelCreated{GuildID: guildID, Channel: channel}, viewCheck(guildID, &channel.ID))
	c.JSON(http.StatusCreated, channel)
}

// GetChannel handles GET /guilds/:guild_id/channels/:channel_id.
func (h *ChatHandler) GetChannel(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	channelID, ok := pathUint64(c, "channel_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, &channelID, UserID(c), "channels.get", false); err != nil {
		respondError(c, err)
		return
	}
	channel, err := h.chat.GetChannel(c.Request.Context(), guildID, channelID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

type reorderRequest struct {
	Relation string `json:"relation"` // "after" or "before"; empty means append
	OtherID  uint64 `json:"other_id"`
}

func (r reorderRequest) position() *trees.Position {
	if r.Relation == "" {
		return nil
	}
	return &trees.Position{Relation: r.Relation, OtherID: r.OtherID}
}

// UpdateChannelOrder handles POST .../channels/:channel_id/order.
func (h *ChatHandler) UpdateChannelOrder(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	channelID, ok := pathUint64(c, "channel_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "channels.manage.move", false); err != nil {
		respondError(c, err)
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}
	if err := h.chat.UpdateChannelOrder(c.Request.Context(), guildID, channelID, req.position()); err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), ChannelsReordered{GuildID: guildID, ChannelID: channelID}, nil)
	c.Status(http.StatusNoContent)
}

type updateChannelInfoRequest struct {
	NewName     *string           `json:"new_name"`
	NewMetadata map[string]string `json:"new_metadata"`
}

// UpdateChannelInfo handles PATCH /guilds/:guild_id/channels/:channel_id.
func (h *ChatHandler) UpdateChannelInfo(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	channelID, ok := pathUint64(c, "channel_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, &channelID, UserID(c), "channels.manage.change-information", false); err != nil {
		respondError(c, err)
		return
	}
	var req updateChannelInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}
	channel, err := h.chat.UpdateChannelInfo(c.Request.Context(), guildID, channelID, req.NewName, req.NewMetadata)
	if err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), ChannelUpdated{GuildID: guildID, ChannelID: channelID, NewName: req.NewName, NewMetadata: req.NewMetadata}, viewCheck(guildID, &channelID))
	c.JSON(http.StatusOK, channel)
}

type updateGuildInfoRequest struct {
	NewName       *string           `json:"new_name"`
	NewPictureURL *string           `json:"new_picture"`
	NewMetadata   map[string]string `json:"new_metadata"`
}

// UpdateGuildInfo handles PATCH /guilds/:guild_id.
func (h *ChatHandler) UpdateGuildInfo(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "guild.manage.change-information", false); err != nil {
		respondError(c, err)
		return
	}
	var req updateGuildInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}
	guild, err := h.chat.UpdateGuildInfo(c.Request.Context(), guildID, req.NewName, req.NewPictureURL, req.NewMetadata)
	if err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), GuildUpdated{GuildID: guildID, NewName: req.NewName, NewPictureURL: req.NewPictureURL, NewMetadata: req.NewMetadata}, nil)
	c.JSON(http.StatusOK, guild)
}

// ListChannels handles GET /guilds/:guild_id/channels.
func (h *ChatHandler) ListChannels(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "channels.get", false); err != nil {
		respondError(c, err)
		return
	}
	channels, err := h.chat.GetGuildChannels(c.Request.Context(), guildID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channels)
}

type sendMessageRequest struct {
	Text      string            `json:"text"`
	Photos    []models.Photo    `json:"photos"`
	Extras    map[string][]byte `json:"extras"`
	InReplyTo *uint64           `json:"in_reply_to"`
}

// SendMessage handles POST /guilds/:guild_id/channels/:channel_id/messages.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	channelID, ok := pathUint64(c, "channel_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, &channelID, UserID(c), "messages.send", false); err != nil {
		respondError(c, err)
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}

	content := models.MessageContent{Text: req.Text, Photos: req.Photos, Extras: req.Extras}
	msg, err := h.chat.SendMessage(c.Request.Context(), guildID, channelID, UserID(c), content, nil, false, req.InReplyTo)
	if err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), MessageSent{GuildID: guildID, ChannelID: channelID, Message: msg}, viewCheck(guildID, &channelID))
	c.JSON(http.StatusCreated, msg)
}

type editMessageRequest struct {
	Text   string            `json:"text"`
	Photos []models.Photo    `json:"photos"`
	Extras map[string][]byte `json:"extras"`
}

// EditMessage handles PATCH .../messages/:message_id.
func (h *ChatHandler) EditMessage(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	channelID, ok := pathUint64(c, "channel_id")
	if !ok {
		return
	}
	msgID, ok := pathUint64(c, "message_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, &channelID, UserID(c), "messages.send", false); err != nil {
		respondError(c, err)
		return
	}
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}
	msg, err := h.chat.EditMessage(c.Request.Context(), guildID, channelID, msgID, models.MessageContent{Text: req.Text, Photos: req.Photos, Extras: req.Extras})
	if err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), MessageUpdated{GuildID: guildID, ChannelID: channelID, Message: msg}, viewCheck(guildID, &channelID))
	c.JSON(http.StatusOK, msg)
}

// PinMessage handles POST .../messages/:message_id/pin.
func (h *ChatHandler) PinMessage(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	channelID, ok := pathUint64(c, "channel_id")
	if !ok {
		return
	}
	msgID, ok := pathUint64(c, "message_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, &channelID, UserID(c), "messages.pins.add", false); err != nil {
		respondError(c, err)
		return
	}
	if err := h.chat.PinMessage(c.Request.Context(), guildID, channelID, msgID); err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), MessagePinned{GuildID: guildID, ChannelID: channelID, MessageID: msgID}, viewCheck(guildID, &channelID))
	c.Status(http.StatusNoContent)
}

// UnpinMessage handles DELETE .../messages/:message_id/pin.
func (h *ChatHandler) UnpinMessage(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	channelID, ok := pathUint64(c, "channel_id")
	if !ok {
		return
	}
	msgID, ok := pathUint64(c, "message_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, &channelID, UserID(c), "messages.pins.remove", false); err != nil {
		respondError(c, err)
		return
	}
	if err := h.chat.UnpinMessage(c.Request.Context(), guildID, channelID, msgID); err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), MessageUnpinned{GuildID: guildID, ChannelID: channelID, MessageID: msgID}, viewCheck(guildID, &channelID))
	c.Status(http.StatusNoContent)
}

// GetPinnedMessages handles GET .../channels/:channel_id/pins.
func (h *ChatHandler) GetPinnedMessages(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	channelID, ok := pathUint64(c, "channel_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, &channelID, UserID(c), "messages.view", false); err != nil {
		respondError(c, err)
		return
	}
	msgs, err := h.chat.GetPinnedMessages(c.Request.Context(), guildID, channelID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// AddReaction handles PUT .../messages/:message_id/reactions/:image_id.
func (h *ChatHandler) AddReaction(c *gin.Context) {
	h.reaction(c, true)
}

// RemoveReaction handles DELETE .../messages/:message_id/reactions/:image_id.
func (h *ChatHandler) RemoveReaction(c *gin.Context) {
	h.reaction(c, false)
}

func (h *ChatHandler) reaction(c *gin.Context, add bool) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	channelID, ok := pathUint64(c, "channel_id")
	if !ok {
		return
	}
	msgID, ok := pathUint64(c, "message_id")
	if !ok {
		return
	}
	imageID := c.Param("image_id")
	matchFor := "messages.reactions.add"
	if !add {
		matchFor = "messages.reactions.remove"
	}
	if err := h.perms.Check(c.Request.Context(), guildID, &channelID, UserID(c), matchFor, false); err != nil {
		respondError(c, err)
		return
	}
	emote := models.Emote{ImageID: imageID}
	var msg *models.Message
	var err error
	if add {
		msg, err = h.chat.AddReaction(c.Request.Context(), guildID, channelID, msgID, UserID(c), emote)
	} else {
		msg, err = h.chat.RemoveReaction(c.Request.Context(), guildID, channelID, msgID, UserID(c), emote)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), ReactionUpdated{GuildID: guildID, ChannelID: channelID, MessageID: msgID, Reactions: msg.Reactions}, viewCheck(guildID, &channelID))
	c.JSON(http.StatusOK, msg)
}

// Typing handles POST .../channels/:channel_id/typing. Nothing is
// persisted — the event is purely ephemeral (SPEC_FULL.md §D.3).
func (h *ChatHandler) Typing(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	channelID, ok := pathUint64(c, "channel_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, &channelID, UserID(c), "messages.send", false); err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), Typing{GuildID: guildID, ChannelID: channelID, UserID: UserID(c)}, viewCheck(guildID, &channelID))
	c.Status(http.StatusNoContent)
}

// GetMessages handles GET /guilds/:guild_id/channels/:channel_id/messages,
// paginating around ?before= / ?after= / ?around= per spec.md §8.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	channelID, ok := pathUint64(c, "channel_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, &channelID, UserID(c), "messages.view", false); err != nil {
		respondError(c, err)
		return
	}

	anchor, direction := parsePaginationQuery(c)
	count := 50

	page, err := h.chat.GetChannelMessages(c.Request.Context(), guildID, channelID, anchor, direction, count)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func parsePaginationQuery(c *gin.Context) (uint64, trees.Direction) {
	if v, ok := parseQueryUint64(c, "before"); ok {
		return v, trees.DirectionBefore
	}
	if v, ok := parseQueryUint64(c, "after"); ok {
		return v, trees.DirectionAfter
	}
	if v, ok := parseQueryUint64(c, "around"); ok {
		return v, trees.DirectionAround
	}
	return 0, trees.DirectionBefore
}

// DeleteMessage handles DELETE .../messages/:message_id.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	channelID, ok := pathUint64(c, "channel_id")
	if !ok {
		return
	}
	msgID, ok := pathUint64(c, "message_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, &channelID, UserID(c), "messages.manage", false); err != nil {
		respondError(c, err)
		return
	}
	if err := h.chat.DeleteMessage(c.Request.Context(), guildID, channelID, msgID); err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), MessageDeleted{GuildID: guildID, ChannelID: channelID, MessageID: msgID}, viewCheck(guildID, &channelID))
	c.Status(http.StatusNoContent)
}

// JoinGuildByInvite handles POST /invites/:invite_id/join.
func (h *ChatHandler) JoinGuildByInvite(c *gin.Context) {
	name := c.Param("invite_id")
	invite, err := h.chat.UseInvite(c.Request.Context(), name, UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(invite.GuildID), MemberJoined{GuildID: invite.GuildID, UserID: UserID(c)}, nil)
	h.bus.Publish(eventbus.Event{Sub: guildSub(invite.GuildID), Payload: eventbus.GuildListChange{UserID: UserID(c), GuildID: invite.GuildID, Added: true}})
	c.JSON(http.StatusOK, invite)
}

// LeaveGuild handles POST /guilds/:guild_id/leave.
func (h *ChatHandler) LeaveGuild(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	if err := h.chat.LeaveGuild(c.Request.Context(), guildID, UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), MemberLeft{GuildID: guildID, UserID: UserID(c), Reason: "left"}, nil)
	h.bus.Publish(eventbus.Event{Sub: guildSub(guildID), Payload: eventbus.GuildListChange{UserID: UserID(c), GuildID: guildID, Added: false}})
	c.Status(http.StatusNoContent)
}

// PreviewGuild handles GET /invites/:invite_id/preview.
func (h *ChatHandler) PreviewGuild(c *gin.Context) {
	name := c.Param("invite_id")
	preview, err := h.chat.PreviewGuild(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

type createInviteRequest struct {
	Name      string     `json:"name" binding:"required"`
	UsesLeft  *uint32    `json:"uses_left"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// CreateInvite handles POST /guilds/:guild_id/invites.
func (h *ChatHandler) CreateInvite(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "invites.manage.create", false); err != nil {
		respondError(c, err)
		return
	}
	var req createInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}
	invite, err := h.chat.CreateInvite(c.Request.Context(), guildID, UserID(c), req.Name, req.UsesLeft, req.ExpiresAt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invite)
}

// DeleteInvite handles DELETE /guilds/:guild_id/invites/:invite_id.
func (h *ChatHandler) DeleteInvite(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "invites.manage.delete", false); err != nil {
		respondError(c, err)
		return
	}
	if err := h.chat.DeleteInvite(c.Request.Context(), c.Param("invite_id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddPendingInvite handles POST /guilds/:guild_id/pending-invites/:user_id,
// a targeted invite addressed to one user (SPEC_FULL.md §D.4).
func (h *ChatHandler) AddPendingInvite(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	userID, ok := pathUint64(c, "user_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "invites.manage.create", false); err != nil {
		respondError(c, err)
		return
	}
	if err := h.chat.AddPendingInvite(c.Request.Context(), userID, guildID, UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPendingInvites handles GET /profile/pending-invites — the caller's own inbox.
func (h *ChatHandler) GetPendingInvites(c *gin.Context) {
	invites, err := h.chat.GetPendingInvites(c.Request.Context(), UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invites)
}

// RejectPendingInvite handles POST /profile/pending-invites/:guild_id/reject:
// unlike IgnorePendingInvite, this notifies the inviter (SPEC_FULL.md §D.4).
func (h *ChatHandler) RejectPendingInvite(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	inviterID, err := h.chat.RejectPendingInvite(c.Request.Context(), UserID(c), guildID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.bus.Publish(eventbus.Event{
		Sub:     eventbus.Sub{Kind: eventbus.SubActions},
		Payload: InviteRejected{GuildID: guildID, RejectedBy: UserID(c)},
		UserIDs: []uint64{inviterID},
	})
	c.Status(http.StatusNoContent)
}

// IgnorePendingInvite handles POST /profile/pending-invites/:guild_id/ignore:
// same removal as reject, no notification.
func (h *ChatHandler) IgnorePendingInvite(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	if err := h.chat.IgnorePendingInvite(c.Request.Context(), UserID(c), guildID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// KickMember handles POST /guilds/:guild_id/members/:user_id/kick.
func (h *ChatHandler) KickMember(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	userID, ok := pathUint64(c, "user_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "user.manage.kick", false); err != nil {
		respondError(c, err)
		return
	}
	if err := h.chat.KickMember(c.Request.Context(), guildID, UserID(c), userID); err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), MemberLeft{GuildID: guildID, UserID: userID, Reason: "kicked"}, nil)
	h.bus.Publish(eventbus.Event{Sub: guildSub(guildID), Payload: eventbus.GuildListChange{UserID: userID, GuildID: guildID, Added: false}})
	c.Status(http.StatusNoContent)
}

type banMemberRequest struct {
	Reason string `json:"reason"`
}

// BanMember handles POST /guilds/:guild_id/members/:user_id/ban.
func (h *ChatHandler) BanMember(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	userID, ok := pathUint64(c, "user_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "user.manage.ban", false); err != nil {
		respondError(c, err)
		return
	}
	var req banMemberRequest
	_ = c.ShouldBindJSON(&req)
	if err := h.chat.BanMember(c.Request.Context(), guildID, UserID(c), userID, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), MemberLeft{GuildID: guildID, UserID: userID, Reason: "banned"}, nil)
	h.bus.Publish(eventbus.Event{Sub: guildSub(guildID), Payload: eventbus.GuildListChange{UserID: userID, GuildID: guildID, Added: false}})
	c.Status(http.StatusNoContent)
}

// IsBanned handles GET /guilds/:guild_id/members/:user_id/ban.
func (h *ChatHandler) IsBanned(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	userID, ok := pathUint64(c, "user_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "user.manage.ban", false); err != nil {
		respondError(c, err)
		return
	}
	banned, err := h.chat.IsBanned(c.Request.Context(), guildID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"banned": banned})
}

// Unban handles DELETE /guilds/:guild_id/members/:user_id/ban.
func (h *ChatHandler) Unban(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	userID, ok := pathUint64(c, "user_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "user.manage.unban", false); err != nil {
		respondError(c, err)
		return
	}
	if err := h.chat.Unban(c.Request.Context(), guildID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GiveUpOwnership handles POST /guilds/:guild_id/ownership/give-up.
func (h *ChatHandler) GiveUpOwnership(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	if err := h.chat.GiveUpOwnership(c.Request.Context(), guildID, UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GrantOwnership handles POST /guilds/:guild_id/ownership/:user_id/grant.
// Only an existing owner may grant ownership to someone else.
func (h *ChatHandler) GrantOwnership(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	userID, ok := pathUint64(c, "user_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "", true); err != nil {
		respondError(c, err)
		return
	}
	if err := h.chat.GrantOwnership(c.Request.Context(), guildID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetGuildRoles handles GET /guilds/:guild_id/roles.
func (h *ChatHandler) GetGuildRoles(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "roles.get", false); err != nil {
		respondError(c, err)
		return
	}
	roles, err := h.chat.GetGuildRoles(c.Request.Context(), guildID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, roles)
}

type createRoleRequest struct {
	Name     string `json:"name" binding:"required"`
	Color    int32  `json:"color"`
	Hoist    bool   `json:"hoist"`
	Pingable bool   `json:"pingable"`
}

// CreateRole handles POST /guilds/:guild_id/roles.
func (h *ChatHandler) CreateRole(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "roles.manage", false); err != nil {
		respondError(c, err)
		return
	}
	var req createRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}
	role := &models.Role{Name: req.Name, Color: req.Color, Hoist: req.Hoist, Pingable: req.Pingable}
	role, err := h.chat.CreateRole(c.Request.Context(), guildID, role)
	if err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), RoleCreated{GuildID: guildID, Role: role}, viewCheck(guildID, nil))
	c.JSON(http.StatusCreated, role)
}

// UpdateRoleOrder handles POST /guilds/:guild_id/roles/:role_id/order.
func (h *ChatHandler) UpdateRoleOrder(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	roleID, ok := pathUint64(c, "role_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "roles.manage", false); err != nil {
		respondError(c, err)
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}
	if err := h.chat.UpdateRoleOrder(c.Request.Context(), guildID, roleID, req.position()); err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), RoleMoved{GuildID: guildID, RoleID: roleID}, nil)
	c.Status(http.StatusNoContent)
}

type setPermissionRequest struct {
	Pattern string `json:"pattern" binding:"required"`
	Allow   bool   `json:"allow"`
}

// SetGuildPermission handles POST /guilds/:guild_id/roles/:role_id/permissions.
func (h *ChatHandler) SetGuildPermission(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	roleID, ok := pathUint64(c, "role_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "roles.manage", false); err != nil {
		respondError(c, err)
		return
	}
	var req setPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}
	if err := h.chat.SetGuildPermission(c.Request.Context(), guildID, roleID, req.Pattern, req.Allow); err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), PermissionUpdated{GuildID: guildID, RoleID: roleID, Pattern: req.Pattern, Allow: req.Allow}, nil)
	c.Status(http.StatusNoContent)
}

// SetChannelPermission handles POST
// /guilds/:guild_id/channels/:channel_id/roles/:role_id/permissions.
func (h *ChatHandler) SetChannelPermission(c *gin.Context) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	channelID, ok := pathUint64(c, "channel_id")
	if !ok {
		return
	}
	roleID, ok := pathUint64(c, "role_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, &channelID, UserID(c), "roles.manage", false); err != nil {
		respondError(c, err)
		return
	}
	var req setPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}
	if err := h.chat.SetChannelPermission(c.Request.Context(), guildID, channelID, roleID, req.Pattern, req.Allow); err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), PermissionUpdated{GuildID: guildID, ChannelID: &channelID, RoleID: roleID, Pattern: req.Pattern, Allow: req.Allow}, nil)
	c.Status(http.StatusNoContent)
}

// ManageUserRoles handles POST and DELETE
// /guilds/:guild_id/members/:user_id/roles/:role_id (give and take,
// respectively).
func (h *ChatHandler) ManageUserRoles(c *gin.Context, give bool) {
	guildID, ok := pathUint64(c, "guild_id")
	if !ok {
		return
	}
	userID, ok := pathUint64(c, "user_id")
	if !ok {
		return
	}
	roleID, ok := pathUint64(c, "role_id")
	if !ok {
		return
	}
	if err := h.perms.Check(c.Request.Context(), guildID, nil, UserID(c), "roles.user.manage", false); err != nil {
		respondError(c, err)
		return
	}
	if err := h.chat.ManageUserRoles(c.Request.Context(), guildID, userID, roleID, give); err != nil {
		respondError(c, err)
		return
	}
	h.publish(guildSub(guildID), UserRolesUpdated{GuildID: guildID, UserID: userID, RoleID: roleID, Given: give}, nil)
	c.Status(http.StatusNoContent)
}

// GiveUserRole handles POST /guilds/:guild_id/members/:user_id/roles/:role_id.
func (h *ChatHandler) GiveUserRole(c *gin.Context) { h.ManageUserRoles(c, true) }

// TakeUserRole handles DELETE /guilds/:guild_id/members/:user_id/roles/:role_id.
func (h *ChatHandler) TakeUserRole(c *gin.Context) { h.ManageUserRoles(c, false) }

package transport

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lalith-99/harmonyhost/internal/authflow"
	"github.com/lalith-99/harmonyhost/internal/eventbus"
	"github.com/lalith-99/harmonyhost/internal/federation"
	"github.com/lalith-99/harmonyhost/internal/permission"
	"github.com/lalith-99/harmonyhost/internal/session"
	"github.com/lalith-99/harmonyhost/internal/trees"

	"go.uber.org/zap"
)

// Dependencies are every collaborator the router hands off to its
// handler groups; cmd/server/main.go builds exactly one of these after
// wiring storage, trees, the permission resolver, and the federation
// subsystem.
type Dependencies struct {
	Chat     *trees.ChatTree
	Profiles *trees.ProfileTree
	Emotes   *trees.EmoteTree
	Perms    *permission.Resolver
	Sessions *session.Map
	AuthFlow *authflow.Flow
	Bus      *eventbus.Bus
	Keys     *federation.KeyManager
	SyncTree *trees.SyncTree
	Applier  federation.Applier
	Logger   *zap.Logger
}

// rateLimitDefault matches spec.md §5's general per-endpoint-family
// default (the batch endpoint and Key RPC get their own, tighter limits).
var rateLimitDefault = struct {
	count  int
	window time.Duration
}{count: 50, window: 10 * time.Second}

// NewRouter builds the full gin engine covering every RPC family of
// spec.md §5: auth, chat, profile, emote, federation, events, and batch.
// Handlers reach each other only through Dependencies — nothing here
// reads global state.
func NewRouter(deps Dependencies) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	authHandler := NewAuthHandler(deps.AuthFlow, deps.Logger)
	chatHandler := NewChatHandler(deps.Chat, deps.Perms, deps.Bus, deps.Logger)
	profileHandler := NewProfileHandler(deps.Profiles, deps.Logger)
	emoteHandler := NewEmoteHandler(deps.Emotes, deps.Profiles, deps.Logger)
	federationHandler := NewFederationHandler(deps.Keys, deps.SyncTree, deps.Applier, deps.Logger)
	eventsHandler := NewEventsHandler(deps.Bus, deps.Chat, NewEventResolver(deps.Perms), deps.Logger)

	limited := RateLimit(rateLimitDefault.count, rateLimitDefault.window)

	auth := engine.Group("/auth")
	auth.Use(limited)
	{
		auth.POST("", authHandler.BeginAuth)
		auth.POST("/:auth_id/step", authHandler.NextStep)
		auth.POST("/:auth_id/step/back", authHandler.StepBack)
		auth.GET("/stream", authHandler.StreamSteps)
	}

	authed := engine.Group("/")
	authed.Use(AuthMiddleware(deps.Sessions), limited)
	{
		authed.GET("/events", eventsHandler.Stream)

		authed.POST("/guilds", chatHandler.CreateGuild)
		authed.GET("/guilds/:guild_id", chatHandler.GetGuild)
		authed.PATCH("/guilds/:guild_id", chatHandler.UpdateGuildInfo)
		authed.DELETE("/guilds/:guild_id", chatHandler.DeleteGuild)
		authed.POST("/guilds/:guild_id/leave", chatHandler.LeaveGuild)
		authed.POST("/guilds/:guild_id/ownership/give-up", chatHandler.GiveUpOwnership)
		authed.POST("/guilds/:guild_id/ownership/:user_id/grant", chatHandler.GrantOwnership)

		authed.POST("/guilds/:guild_id/channels", chatHandler.CreateChannel)
		authed.GET("/guilds/:guild_id/channels", chatHandler.ListChannels)
		authed.GET("/guilds/:guild_id/channels/:channel_id", chatHandler.GetChannel)
		authed.PATCH("/guilds/:guild_id/channels/:channel_id", chatHandler.UpdateChannelInfo)
		authed.POST("/guilds/:guild_id/channels/:channel_id/order", chatHandler.UpdateChannelOrder)
		authed.POST("/guilds/:guild_id/channels/:channel_id/typing", chatHandler.Typing)

		authed.POST("/guilds/:guild_id/channels/:channel_id/messages", chatHandler.SendMessage)
		authed.GET("/guilds/:guild_id/channels/:channel_id/messages", chatHandler.GetMessages)
		authed.PATCH("/guilds/:guild_id/channels/:channel_id/messages/:message_id", chatHandler.EditMessage)
		authed.DELETE("/guilds/:guild_id/channels/:channel_id/messages/:message_id", chatHandler.DeleteMessage)
		authed.POST("/guilds/:guild_id/channels/:channel_id/messages/:message_id/pin", chatHandler.PinMessage)
		authed.DELETE("/guilds/:guild_id/channels/:channel_id/messages/:message_id/pin", chatHandler.UnpinMessage)
		authed.GET("/guilds/:guild_id/channels/:channel_id/pins", chatHandler.GetPinnedMessages)
		authed.PUT("/guilds/:guild_id/channels/:channel_id/messages/:message_id/reactions/:image_id", chatHandler.AddReaction)
		authed.DELETE("/guilds/:guild_id/channels/:channel_id/messages/:message_id/reactions/:image_id", chatHandler.RemoveReaction)

		authed.GET("/guilds/:guild_id/roles", chatHandler.GetGuildRoles)
		authed.POST("/guilds/:guild_id/roles", chatHandler.CreateRole)
		authed.POST("/guilds/:guild_id/roles/:role_id/order", chatHandler.UpdateRoleOrder)
		authed.POST("/guilds/:guild_id/roles/:role_id/permissions", chatHandler.SetGuildPermission)
		authed.POST("/guilds/:guild_id/channels/:channel_id/roles/:role_id/permissions", chatHandler.SetChannelPermission)
		authed.POST("/guilds/:guild_id/members/:user_id/roles/:role_id", chatHandler.GiveUserRole)
		authed.DELETE("/guilds/:guild_id/members/:user_id/roles/:role_id", chatHandler.TakeUserRole)

		authed.POST("/guilds/:guild_id/members/:user_id/kick", chatHandler.KickMember)
		authed.POST("/guilds/:guild_id/members/:user_id/ban", chatHandler.BanMember)
		authed.GET("/guilds/:guild_id/members/:user_id/ban", chatHandler.IsBanned)
		authed.DELETE("/guilds/:guild_id/members/:user_id/ban", chatHandler.Unban)

		authed.POST("/guilds/:guild_id/invites", chatHandler.CreateInvite)
		authed.DELETE("/guilds/:guild_id/invites/:invite_id", chatHandler.DeleteInvite)
		authed.POST("/guilds/:guild_id/pending-invites/:user_id", chatHandler.AddPendingInvite)
		authed.GET("/invites/:invite_id/preview", chatHandler.PreviewGuild)
		authed.POST("/invites/:invite_id/join", chatHandler.JoinGuildByInvite)

		authed.GET("/profile", profileHandler.GetOwnProfile)
		authed.PATCH("/profile", profileHandler.UpdateProfile)
		authed.GET("/profile/pending-invites", chatHandler.GetPendingInvites)
		authed.POST("/profile/pending-invites/:guild_id/reject", chatHandler.RejectPendingInvite)
		authed.POST("/profile/pending-invites/:guild_id/ignore", chatHandler.IgnorePendingInvite)
		authed.GET("/users/:user_id", profileHandler.GetProfile)

		authed.POST("/emote-packs", emoteHandler.CreatePack)
		authed.GET("/emote-packs/:pack_id", emoteHandler.GetPack)
		authed.DELETE("/emote-packs/:pack_id", emoteHandler.DeletePack)
		authed.POST("/emote-packs/:pack_id/emotes", emoteHandler.AddEmote)
		authed.GET("/emote-packs/:pack_id/emotes", emoteHandler.ListEmotes)
		authed.GET("/emote-packs/:pack_id/equippers", emoteHandler.ListEquippers)
		authed.POST("/emote-packs/:pack_id/equip", emoteHandler.Equip)
		authed.POST("/emote-packs/:pack_id/dequip", emoteHandler.Dequip)
		authed.GET("/profile/equipped-packs", emoteHandler.ListEquipped)
	}

	federationGroup := engine.Group("/federation")
	federationGroup.Use(RateLimit(20, 10*time.Second))
	{
		federationGroup.GET("/key", federationHandler.Key)
		federationGroup.POST("/push", federationHandler.Push)
		federationGroup.POST("/pull", federationHandler.Pull)
	}

	batchHandler := NewBatchHandler(engine)
	batch := engine.Group("/")
	batch.Use(AuthMiddleware(deps.Sessions), RateLimit(5, 5*time.Second))
	{
		batch.POST("/Batch", batchHandler.Batch)
		batch.POST("/BatchSame", batchHandler.BatchSame)
	}

	return engine
}

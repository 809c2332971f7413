package transport

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/eventbus"
	"github.com/lalith-99/harmonyhost/internal/keyspace"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

// EventsHandler upgrades an authenticated connection to the long-lived
// broadcast socket of spec.md §4.6: one eventbus.Session per client,
// seeded with its current guild membership so it starts subscribed to
// everything it's already a member of.
type EventsHandler struct {
	bus      *eventbus.Bus
	chat     *trees.ChatTree
	resolver eventbus.Resolver
	logger   *zap.Logger
}

func NewEventsHandler(bus *eventbus.Bus, chat *trees.ChatTree, resolver eventbus.Resolver, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, chat: chat, resolver: resolver, logger: logger}
}

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Stream handles GET /events, the authenticated per-client broadcast
// socket.
func (h *EventsHandler) Stream(c *gin.Context) {
	userID := UserID(c)

	entries, err := h.chat.GuildList(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	guildIDs := make([]uint64, 0, len(entries))
	for _, e := range entries {
		guildID, host := keyspace.DecodeGuildListEntry(userID, e.Key)
		if host == "" {
			guildIDs = append(guildIDs, guildID)
		}
	}

	conn, err := eventsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("events stream: upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	session := eventbus.NewSession(userID, conn, h.bus, membershipChecker{h.chat}, h.resolver, h.logger, guildIDs)
	if err := session.Run(c.Request.Context()); err != nil {
		h.logger.Debug("events stream: session ended", zap.Uint64("user_id", userID), zap.Error(err))
	}
}

type membershipChecker struct {
	chat *trees.ChatTree
}

func (m membershipChecker) IsMember(ctx context.Context, guildID, userID uint64) (bool, error) {
	return m.chat.IsMember(ctx, guildID, userID)
}

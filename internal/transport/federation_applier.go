package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lalith-99/harmonyhost/internal/trees"
)

// federationEventKind tags the payload of one pushed/pulled federation
// event (spec.md §4.8); only the two the source actually implements
// (push_logic's UserAddedToGuild/UserRemovedFromGuild) are handled —
// UserInvited/UserRejectedInvite are a todo!() there too, left
// unimplemented here for the same reason.
type federationEventKind string

const (
	eventUserAddedToGuild     federationEventKind = "user-added-to-guild"
	eventUserRemovedFromGuild federationEventKind = "user-removed-from-guild"
)

type federationEvent struct {
	Kind    federationEventKind `json:"kind"`
	UserID  uint64              `json:"user_id"`
	GuildID uint64              `json:"guild_id"`
}

// ChatApplier applies federation events pulled from a peer against the
// local ChatTree's guild-list index.
type ChatApplier struct {
	chat *trees.ChatTree
}

func NewChatApplier(chat *trees.ChatTree) *ChatApplier {
	return &ChatApplier{chat: chat}
}

func (a *ChatApplier) Apply(ctx context.Context, host string, payload []byte) error {
	var ev federationEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	switch ev.Kind {
	case eventUserAddedToGuild:
		return a.chat.AddToGuildList(ctx, ev.UserID, ev.GuildID, host)
	case eventUserRemovedFromGuild:
		return a.chat.RemoveFromGuildList(ctx, ev.UserID, ev.GuildID, host)
	default:
		return fmt.Errorf("federation: unhandled event kind %q", ev.Kind)
	}
}

package transport

import (
	"context"

	"github.com/lalith-99/harmonyhost/internal/eventbus"
	"github.com/lalith-99/harmonyhost/internal/permission"
)

// permResolver adapts permission.Resolver to eventbus.Resolver, converting
// a failed Check into a bool so the bus's delivery filter never has to
// reason about herror directly.
type permResolver struct {
	resolver *permission.Resolver
}

func NewEventResolver(resolver *permission.Resolver) eventbus.Resolver {
	return permResolver{resolver: resolver}
}

func (p permResolver) Allows(check eventbus.PermCheck, userID uint64) bool {
	if check.Empty {
		return true
	}
	err := p.resolver.Check(context.Background(), check.GuildID, check.ChannelID, userID, check.MatchFor, check.MustOwner)
	return err == nil
}

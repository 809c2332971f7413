// Package permission is the resolver of spec.md §4.5: given a guild, an
// optional channel, a user, and the permission being asked about, decide
// allow or deny by walking the user's roles in priority order and
// matching each role's stored pattern list.
package permission

import (
	"context"
	"strings"

	"github.com/lalith-99/harmonyhost/internal/herror"
)

// Entry is one pattern -> allow/deny rule under a role at some scope.
// Order matters: within one role's entry list, the first match wins.
type Entry struct {
	Pattern string
	Allow   bool
}

// Source is everything the resolver needs to read; internal/trees.ChatTree
// implements it. Kept as an interface here so permission has no import
// dependency on trees (trees depends on permission, not the reverse).
type Source interface {
	GuildOwners(ctx context.Context, guildID uint64) ([]uint64, error)
	UserRoles(ctx context.Context, guildID, userID uint64) ([]uint64, error)
	ChannelRolePerms(ctx context.Context, guildID, channelID, roleID uint64) ([]Entry, error)
	GuildRolePerms(ctx context.Context, guildID, roleID uint64) ([]Entry, error)
}

// EveryoneRoleID is the role every member implicitly has; it's always
// evaluated last regardless of storage order (spec.md §4.5).
const EveryoneRoleID uint64 = 0

type Resolver struct {
	source Source
}

func New(source Source) *Resolver {
	return &Resolver{source: source}
}

// Matches implements the pattern rule: an empty pattern matches nothing,
// "*" matches anything, an exact pattern matches only the identical
// query, and any other pattern matches when it's a dotted prefix of the
// query ("messages" matches "messages.send" but not "messagesx").
func Matches(pattern, query string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" || pattern == query {
		return true
	}
	return strings.HasPrefix(query, pattern+".")
}

func evaluate(entries []Entry, query string) (decided bool, allow bool) {
	for _, e := range entries {
		if Matches(e.Pattern, query) {
			return true, e.Allow
		}
	}
	return false, false
}

func containsU64(list []uint64, id uint64) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// orderRoles puts EveryoneRoleID last, preserving the relative order of
// every other role (which callers already store in priority order). The
// everyone role is appended even when the stored list omits it.
func orderRoles(roles []uint64) []uint64 {
	ordered := make([]uint64, 0, len(roles)+1)
	for _, r := range roles {
		if r == EveryoneRoleID {
			continue
		}
		ordered = append(ordered, r)
	}
	return append(ordered, EveryoneRoleID)
}

// Check implements the contract `check(guild, channel?, user, match_for,
// must_be_owner) -> Ok | NotEnough`. channelID == nil means "guild-scope
// query"; a non-nil channelID evaluates that channel's role overrides
// first and, when no role decides there, falls back to the guild-scope
// role entries (steps 4/5 of spec.md §4.5).
func (r *Resolver) Check(ctx context.Context, guildID uint64, channelID *uint64, userID uint64, matchFor string, mustBeOwner bool) error {
	if userID == 0 {
		return nil // system actor, spec.md §4.5 step 1
	}

	owners, err := r.source.GuildOwners(ctx, guildID)
	if err != nil {
		return err
	}
	isOwner := containsU64(owners, userID)

	if mustBeOwner {
		if isOwner {
			return nil
		}
		return herror.ErrMustBeOwner
	}
	if isOwner {
		return nil
	}

	roles, err := r.source.UserRoles(ctx, guildID, userID)
	if err != nil {
		return err
	}
	ordered := orderRoles(roles)

	// A channel-scoped query checks channel overrides first, but an
	// undecided (or entirely absent) channel-scope pass always falls
	// through to the guild-scope roles rather than denying outright —
	// matching query_has_permission_logic's two sequential role passes.
	if channelID != nil {
		for _, roleID := range ordered {
			entries, err := r.source.ChannelRolePerms(ctx, guildID, *channelID, roleID)
			if err != nil {
				return err
			}
			if decided, allow := evaluate(entries, matchFor); decided {
				if allow {
					return nil
				}
				return herror.NotEnoughPermissions(matchFor)
			}
		}
	}

	for _, roleID := range ordered {
		entries, err := r.source.GuildRolePerms(ctx, guildID, roleID)
		if err != nil {
			return err
		}
		if decided, allow := evaluate(entries, matchFor); decided {
			if allow {
				return nil
			}
			return herror.NotEnoughPermissions(matchFor)
		}
	}

	return herror.NotEnoughPermissions(matchFor)
}

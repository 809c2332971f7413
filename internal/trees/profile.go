package trees

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/codec"
	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/keyspace"
	"github.com/lalith-99/harmonyhost/internal/models"
	"github.com/lalith-99/harmonyhost/internal/storage"
)

// ProfileTree owns account-wide user identity: the profile record itself
// and the federation id bijection (spec.md §4.4). Guild membership lives
// in ChatTree — a profile exists independently of any guild.
type ProfileTree struct {
	tree   storage.Tree
	logger *zap.Logger
	cache  *codec.Cache[models.Profile]
}

func NewProfileTree(tree storage.Tree, logger *zap.Logger) (*ProfileTree, error) {
	cache, err := codec.NewCache[models.Profile](1024)
	if err != nil {
		return nil, err
	}
	return &ProfileTree{tree: tree, logger: logger, cache: cache}, nil
}

func (p *ProfileTree) GetProfile(ctx context.Context, userID uint64) (*models.Profile, error) {
	key := keyspace.UserProfileKey(userID)
	raw, err := p.tree.Get(ctx, key)
	if err != nil {
		return nil, herror.Internal(err)
	}
	if raw == nil {
		return nil, herror.ErrUserNotFound
	}
	profile, err := codec.DecodeCached(p.cache, string(key), raw)
	if err != nil {
		return nil, herror.Internal(err)
	}
	return profile, nil
}

// IsBot satisfies session.IsBotChecker: bot accounts are exempt from the
// inactivity expiry spec.md §3 applies to everyone else.
func (p *ProfileTree) IsBot(ctx context.Context, userID uint64) (bool, error) {
	profile, err := p.GetProfile(ctx, userID)
	if err != nil {
		return false, err
	}
	return profile.IsBot, nil
}

func (p *ProfileTree) CreateProfile(ctx context.Context, profile *models.Profile) error {
	key := keyspace.UserProfileKey(profile.UserID)
	raw, err := codec.Encode(profile)
	if err != nil {
		return herror.Internal(err)
	}
	if _, err := p.tree.Insert(ctx, key, raw); err != nil {
		return herror.Internal(err)
	}
	p.cache.Put(string(key), profile)
	return nil
}

// ProfilePatch carries only the fields update_profile is allowed to
// change; nil means "leave as-is" (spec.md §4.4 "update_profile
// (partial)").
type ProfilePatch struct {
	Username  *string
	AvatarURL *string
	Status    *models.UserStatus
	StatusMsg *string
}

func (p *ProfileTree) UpdateProfile(ctx context.Context, userID uint64, patch ProfilePatch) (*models.Profile, error) {
	profile, err := p.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	updated := *profile
	if patch.Username != nil {
		updated.Username = *patch.Username
	}
	if patch.AvatarURL != nil {
		updated.AvatarURL = *patch.AvatarURL
	}
	if patch.Status != nil {
		updated.Status = *patch.Status
	}
	if patch.StatusMsg != nil {
		updated.StatusMsg = *patch.StatusMsg
	}

	key := keyspace.UserProfileKey(userID)
	raw, err := codec.Encode(&updated)
	if err != nil {
		return nil, herror.Internal(err)
	}
	if _, err := p.tree.Insert(ctx, key, raw); err != nil {
		return nil, herror.Internal(err)
	}
	p.cache.Put(string(key), &updated)
	return &updated, nil
}

// NextUserID allocates a fresh account id, starting at 1. Account
// creation (registration, invite-accepting a never-seen email) goes
// through this before CreateProfile so the profile key can be written in
// the same call the caller builds the record with.
func (p *ProfileTree) NextUserID(ctx context.Context) (uint64, error) {
	key := keyspace.NextUserIDCounterKey()
	raw, err := p.tree.Get(ctx, key)
	if err != nil {
		return 0, herror.Internal(err)
	}
	var next uint64 = 1
	if raw != nil {
		next = keyspace.DecodeU64(raw) + 1
	}
	if _, err := p.tree.Insert(ctx, key, encodeBigEndianU64(next)); err != nil {
		return 0, herror.Internal(err)
	}
	return next, nil
}

// AllUserIDs enumerates every local profile's userID. It backs
// EmoteTree.ListEquippers's reverse-index scan (spec.md's "who has this
// pack equipped"); nothing else needs the whole user set, so this stays
// a plain prefix scan rather than an indexed one.
func (p *ProfileTree) AllUserIDs(ctx context.Context) ([]uint64, error) {
	prefix := keyspace.UserProfilePrefix()
	entries, err := p.tree.ScanPrefix(ctx, prefix)
	if err != nil {
		return nil, herror.Internal(err)
	}
	profileKeyLen := len(keyspace.UserProfileKey(0))
	ids := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Key) != profileKeyLen {
			continue
		}
		ids = append(ids, keyspace.DecodeU64(entry.Key[len(prefix):]))
	}
	return ids, nil
}

// DoesUsernameExist does a linear scan of the profile tree. spec.md §4.4
// explicitly calls this acceptable: the profile tree is small relative to
// chat data, so there's no index worth maintaining for it.
func (p *ProfileTree) DoesUsernameExist(ctx context.Context, username string) (bool, error) {
	entries, err := p.tree.ScanPrefix(ctx, []byte("user_"))
	if err != nil {
		return false, herror.Internal(err)
	}
	for _, e := range entries {
		profile, err := codec.Decode[models.Profile](e.Value)
		if err != nil {
			return false, herror.Internal(err)
		}
		if strings.EqualFold(profile.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

// LocalToForeignID resolves the (foreignID, host) a local alias id stands
// in for, used whenever an outbound federation RPC needs the remote
// identity of a local user's alias.
func (p *ProfileTree) LocalToForeignID(ctx context.Context, localID uint64) (foreignID uint64, host string, ok bool, err error) {
	raw, err := p.tree.Get(ctx, keyspace.LocalToForeignKey(localID))
	if err != nil {
		return 0, "", false, herror.Internal(err)
	}
	if raw == nil {
		return 0, "", false, nil
	}
	foreignID = keyspace.DecodeU64(raw[:8])
	host = string(raw[8:])
	return foreignID, host, true, nil
}

// ForeignToLocalID resolves a (foreignID, host) pair to the local alias
// id minted for it the first time that remote user was seen.
func (p *ProfileTree) ForeignToLocalID(ctx context.Context, foreignID uint64, host string) (localID uint64, ok bool, err error) {
	raw, err := p.tree.Get(ctx, keyspace.ForeignToLocalKey(foreignID, host))
	if err != nil {
		return 0, false, herror.Internal(err)
	}
	if raw == nil {
		return 0, false, nil
	}
	return keyspace.DecodeU64(raw), true, nil
}

// LinkForeignUser records the bijection between a freshly-minted local
// alias id and the remote (foreignID, host) it represents. Both halves
// are written in one batch so the mapping is never observable from only
// one direction.
func (p *ProfileTree) LinkForeignUser(ctx context.Context, localID, foreignID uint64, host string) error {
	var batch storage.Batch
	fwd := make([]byte, 8+len(host))
	copy(fwd, encodeBigEndianU64(foreignID))
	copy(fwd[8:], host)
	batch.Insert(keyspace.LocalToForeignKey(localID), fwd)
	batch.Insert(keyspace.ForeignToLocalKey(foreignID, host), encodeBigEndianU64(localID))
	if err := p.tree.ApplyBatch(ctx, &batch); err != nil {
		return herror.Internal(err)
	}
	return nil
}

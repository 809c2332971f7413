package trees

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/codec"
	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/keyspace"
	"github.com/lalith-99/harmonyhost/internal/models"
	"github.com/lalith-99/harmonyhost/internal/storage"
)

// EmoteTree owns emote packs and per-user equipment (spec.md §4.4).
type EmoteTree struct {
	tree   storage.Tree
	logger *zap.Logger
}

func NewEmoteTree(tree storage.Tree, logger *zap.Logger) *EmoteTree {
	return &EmoteTree{tree: tree, logger: logger}
}

func (e *EmoteTree) CreatePack(ctx context.Context, ownerID uint64, name string) (*models.EmotePack, error) {
	packID, err := e.nextPackID(ctx)
	if err != nil {
		return nil, err
	}
	pack := &models.EmotePack{ID: packID, OwnerID: ownerID, Name: name}
	raw, err := codec.Encode(pack)
	if err != nil {
		return nil, herror.Internal(err)
	}
	if _, err := e.tree.Insert(ctx, keyspace.EmotePackKey(packID), raw); err != nil {
		return nil, herror.Internal(err)
	}
	return pack, nil
}

func (e *EmoteTree) nextPackID(ctx context.Context) (uint64, error) {
	key := keyspace.NextEmotePackIDCounterKey()
	raw, err := e.tree.Get(ctx, key)
	if err != nil {
		return 0, herror.Internal(err)
	}
	next := uint64(1)
	if raw != nil {
		next = keyspace.DecodeU64(raw) + 1
	}
	if _, err := e.tree.Insert(ctx, key, encodeBigEndianU64(next)); err != nil {
		return 0, herror.Internal(err)
	}
	return next, nil
}

func (e *EmoteTree) GetPack(ctx context.Context, packID uint64) (*models.EmotePack, error) {
	raw, err := e.tree.Get(ctx, keyspace.EmotePackKey(packID))
	if err != nil {
		return nil, herror.Internal(err)
	}
	if raw == nil {
		return nil, herror.ErrEmotePackNotFound
	}
	return codec.Decode[models.EmotePack](raw)
}

func (e *EmoteTree) DeletePack(ctx context.Context, packID uint64) error {
	entries, err := e.tree.ScanPrefix(ctx, keyspace.EmotePackKey(packID))
	if err != nil {
		return herror.Internal(err)
	}
	var batch storage.Batch
	for _, entry := range entries {
		batch.Remove(entry.Key)
	}
	if err := e.tree.ApplyBatch(ctx, &batch); err != nil {
		return herror.Internal(err)
	}
	return nil
}

func (e *EmoteTree) AddEmote(ctx context.Context, packID uint64, imageID, name string) error {
	emote := models.Emote{ImageID: imageID, Name: name}
	raw, err := codec.Encode(&emote)
	if err != nil {
		return herror.Internal(err)
	}
	if _, err := e.tree.Insert(ctx, keyspace.EmotePackEmoteKey(packID, imageID), raw); err != nil {
		return herror.Internal(err)
	}
	return nil
}

func (e *EmoteTree) RemoveEmote(ctx context.Context, packID uint64, imageID string) error {
	if _, err := e.tree.Remove(ctx, keyspace.EmotePackEmoteKey(packID, imageID)); err != nil {
		return herror.Internal(err)
	}
	return nil
}

func (e *EmoteTree) ListEmotes(ctx context.Context, packID uint64) ([]*models.Emote, error) {
	prefix := keyspace.EmotePackEmoteKey(packID, "")
	entries, err := e.tree.ScanPrefix(ctx, prefix)
	if err != nil {
		return nil, herror.Internal(err)
	}
	out := make([]*models.Emote, 0, len(entries))
	for _, entry := range entries {
		// The pack record itself also matches this prefix (it's the empty
		// suffix case); skip it since it decodes to a different type.
		if len(entry.Key) == len(keyspace.EmotePackKey(packID)) {
			continue
		}
		emote, err := codec.Decode[models.Emote](entry.Value)
		if err != nil {
			return nil, herror.Internal(err)
		}
		out = append(out, emote)
	}
	return out, nil
}

// Equip/Dequip/ListEquippers implement "which users have pack P equipped"
// fan-out (spec.md §4.4) via the user||9||pack_id presence entries.
func (e *EmoteTree) Equip(ctx context.Context, userID, packID uint64) error {
	if _, err := e.tree.Insert(ctx, keyspace.EquippedKey(userID, packID), []byte{1}); err != nil {
		return herror.Internal(err)
	}
	return nil
}

func (e *EmoteTree) Dequip(ctx context.Context, userID, packID uint64) error {
	if _, err := e.tree.Remove(ctx, keyspace.EquippedKey(userID, packID)); err != nil {
		return herror.Internal(err)
	}
	return nil
}

func (e *EmoteTree) ListEquipped(ctx context.Context, userID uint64) ([]uint64, error) {
	entries, err := e.tree.ScanPrefix(ctx, keyspace.EquippedPrefix(userID))
	if err != nil {
		return nil, herror.Internal(err)
	}
	ids := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, keyspace.DecodeU64(entry.Key[len(entry.Key)-8:]))
	}
	return ids, nil
}

// ListEquippers is the reverse-index scan spec.md names explicitly: which
// users have pack packID equipped. The equip key layout doesn't give a
// direct prefix for this, so it does one EquippedKey lookup per id in
// allUserIDs — a tradeoff documented in DESIGN.md; acceptable because equip fan-out only
// runs on pack-wide update events, not on the hot path.
func (e *EmoteTree) ListEquippers(ctx context.Context, packID uint64, allUserIDs []uint64) ([]uint64, error) {
	var equippers []uint64
	for _, userID := range allUserIDs {
		ok, err := e.tree.Contains(ctx, keyspace.EquippedKey(userID, packID))
		if err != nil {
			return nil, herror.Internal(err)
		}
		if ok {
			equippers = append(equippers, userID)
		}
	}
	return equippers, nil
}

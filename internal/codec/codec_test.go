package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalith-99/harmonyhost/internal/models"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := &models.Message{ID: 1, GuildID: 2, ChannelID: 3, AuthorID: 4}
	raw, err := Encode(msg)
	require.NoError(t, err)

	got, err := Decode[models.Message](raw)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.AuthorID, got.AuthorID)
}

func TestArchivedRoundTrip(t *testing.T) {
	role := &models.Role{ID: 7, GuildID: 1, Name: "admin"}
	archived, err := NewArchived(role)
	require.NoError(t, err)

	reloaded, err := ArchiveBytes[models.Role](archived.Bytes())
	require.NoError(t, err)
	assert.Equal(t, role.Name, reloaded.Value().Name)
}

func TestCacheMemoizesDecode(t *testing.T) {
	cache, err := NewCache[models.Role](8)
	require.NoError(t, err)

	role := &models.Role{ID: 1, Name: "member"}
	raw, err := Encode(role)
	require.NoError(t, err)

	decoded, err := DecodeCached(cache, "key-1", raw)
	require.NoError(t, err)
	assert.Equal(t, "member", decoded.Name)

	cached, ok := cache.Get("key-1")
	require.True(t, ok)
	assert.Same(t, decoded, cached)
}

func TestCacheSizeZeroDisablesMemoization(t *testing.T) {
	cache, err := NewCache[models.Role](0)
	require.NoError(t, err)
	cache.Put("k", &models.Role{Name: "x"})
	_, ok := cache.Get("k")
	assert.False(t, ok)
}

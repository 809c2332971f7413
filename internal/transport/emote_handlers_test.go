package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/models"
	"github.com/lalith-99/harmonyhost/internal/storage/badgerstore"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

func newTestEmoteEngine(t *testing.T, userID uint64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := badgerstore.Open("", true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	emoteKV, err := db.OpenTree(context.Background(), "emote")
	require.NoError(t, err)
	profileKV, err := db.OpenTree(context.Background(), "profile")
	require.NoError(t, err)

	emotes := trees.NewEmoteTree(emoteKV, zap.NewNop())
	profiles, err := trees.NewProfileTree(profileKV, zap.NewNop())
	require.NoError(t, err)

	handler := NewEmoteHandler(emotes, profiles, zap.NewNop())

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(contextKeyUserID, userID)
		c.Next()
	})
	engine.POST("/emote-packs", handler.CreatePack)
	engine.POST("/emote-packs/:pack_id/equip", handler.Equip)
	engine.POST("/emote-packs/:pack_id/dequip", handler.Dequip)
	engine.GET("/emote-packs/:pack_id/equippers", handler.ListEquippers)
	engine.GET("/profile/equipped-packs", handler.ListEquipped)

	// AllUserIDs only sees users with a profile, so give our test user one.
	require.NoError(t, profiles.CreateProfile(context.Background(), &models.Profile{UserID: userID, Username: "tester"}))

	return engine
}

func TestEquipDequipAndListEquippers(t *testing.T) {
	const userID uint64 = 7
	engine := newTestEmoteEngine(t, userID)

	createRec := doJSON(t, engine, http.MethodPost, "/emote-packs", map[string]string{"name": "pack"})
	require.Equal(t, http.StatusCreated, createRec.Code)
	var pack struct {
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &pack))

	path := "/emote-packs/" + strconv.FormatUint(pack.ID, 10)

	equipRec := doJSON(t, engine, http.MethodPost, path+"/equip", nil)
	require.Equal(t, http.StatusNoContent, equipRec.Code)

	equipListRec := doJSON(t, engine, http.MethodGet, "/profile/equipped-packs", nil)
	require.Equal(t, http.StatusOK, equipListRec.Code)
	var equipped struct {
		PackIDs []uint64 `json:"pack_ids"`
	}
	require.NoError(t, json.Unmarshal(equipListRec.Body.Bytes(), &equipped))
	require.Equal(t, []uint64{pack.ID}, equipped.PackIDs)

	equippersRec := doJSON(t, engine, http.MethodGet, path+"/equippers", nil)
	require.Equal(t, http.StatusOK, equippersRec.Code)
	var equippers struct {
		UserIDs []uint64 `json:"user_ids"`
	}
	require.NoError(t, json.Unmarshal(equippersRec.Body.Bytes(), &equippers))
	require.Equal(t, []uint64{userID}, equippers.UserIDs)

	dequipRec := doJSON(t, engine, http.MethodPost, path+"/dequip", nil)
	require.Equal(t, http.StatusNoContent, dequipRec.Code)

	equippersRec2 := doJSON(t, engine, http.MethodGet, path+"/equippers", nil)
	require.Equal(t, http.StatusOK, equippersRec2.Code)
	var equippers2 struct {
		UserIDs []uint64 `json:"user_ids"`
	}
	require.NoError(t, json.Unmarshal(equippersRec2.Body.Bytes(), &equippers2))
	require.Empty(t, equippers2.UserIDs)
}

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/eventbus"
	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/permission"
	"github.com/lalith-99/harmonyhost/internal/storage/badgerstore"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

func newTestChatEngine(t *testing.T) (*gin.Engine, uint64) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := badgerstore.Open("", true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kv, err := db.OpenTree(context.Background(), "chat")
	require.NoError(t, err)
	chat, err := trees.NewChatTree(kv, zap.NewNop())
	require.NoError(t, err)

	perms := permission.New(chat)
	bus := eventbus.New(16, zap.NewNop())
	handler := NewChatHandler(chat, perms, bus, zap.NewNop())

	const ownerID uint64 = 1
	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(contextKeyUserID, ownerID)
		c.Next()
	})
	engine.POST("/guilds", handler.CreateGuild)
	engine.GET("/guilds/:guild_id", handler.GetGuild)
	engine.POST("/guilds/:guild_id/channels", handler.CreateChannel)
	engine.POST("/guilds/:guild_id/channels/:channel_id/messages", handler.SendMessage)
	engine.GET("/guilds/:guild_id/channels/:channel_id/messages", handler.GetMessages)

	return engine, ownerID
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestCreateGuildHandlerReturnsGuildAndDefaultChannel(t *testing.T) {
	engine, _ := newTestChatEngine(t)

	rec := doJSON(t, engine, http.MethodPost, "/guilds", map[string]string{"name": "test guild"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Guild struct {
			ID   uint64 `json:"id"`
			Name string `json:"name"`
		} `json:"guild"`
		DefaultChannel struct {
			Name string `json:"name"`
		} `json:"default_channel"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "test guild", resp.Guild.Name)
	require.Equal(t, "general", resp.DefaultChannel.Name)
}

func TestOwnerCanSendAndListMessages(t *testing.T) {
	engine, _ := newTestChatEngine(t)

	createRec := doJSON(t, engine, http.MethodPost, "/guilds", map[string]string{"name": "test"})
	require.Equal(t, http.StatusCreated, createRec.Code)
	var created struct {
		Guild struct {
			ID uint64 `json:"id"`
		} `json:"guild"`
		DefaultChannel struct {
			ID uint64 `json:"id"`
		} `json:"default_channel"`
	}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	path := httpPath(created.Guild.ID, created.DefaultChannel.ID)
	rec := doJSON(t, engine, http.MethodPost, path, map[string]string{"text": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)

	listRec := doJSON(t, engine, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, listRec.Code)
}

func TestGetGuildNotFoundMapsToWireError(t *testing.T) {
	engine, _ := newTestChatEngine(t)

	rec := doJSON(t, engine, http.MethodGet, "/guilds/999999", nil)
	require.NotEqual(t, http.StatusOK, rec.Code)

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	_, wantID, _ := herror.StatusAndID(herror.ErrGuildNotFound)
	require.Equal(t, wantID, body.Error)
}

func httpPath(guildID, channelID uint64) string {
	return "/guilds/" + strconv.FormatUint(guildID, 10) + "/channels/" + strconv.FormatUint(channelID, 10) + "/messages"
}

package transport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

type EmoteHandler struct {
	emotes   *trees.EmoteTree
	profiles *trees.ProfileTree
	logger   *zap.Logger
}

func NewEmoteHandler(emotes *trees.EmoteTree, profiles *trees.ProfileTree, logger *zap.Logger) *EmoteHandler {
	return &EmoteHandler{emotes: emotes, profiles: profiles, logger: logger}
}

type createPackRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreatePack handles POST /emote-packs.
func (h *EmoteHandler) CreatePack(c *gin.Context) {
	var req createPackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}
	pack, err := h.emotes.CreatePack(c.Request.Context(), UserID(c), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pack)
}

// GetPack handles GET /emote-packs/:pack_id.
func (h *EmoteHandler) GetPack(c *gin.Context) {
	packID, ok := pathUint64(c, "pack_id")
	if !ok {
		return
	}
	pack, err := h.emotes.GetPack(c.Request.Context(), packID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pack)
}

// DeletePack handles DELETE /emote-packs/:pack_id.
func (h *EmoteHandler) DeletePack(c *gin.Context) {
	packID, ok := pathUint64(c, "pack_id")
	if !ok {
		return
	}
	if err := h.emotes.DeletePack(c.Request.Context(), packID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addEmoteRequest struct {
	ImageID string `json:"image_id" binding:"required"`
	Name    string `json:"name" binding:"required"`
}

// AddEmote handles POST /emote-packs/:pack_id/emotes.
func (h *EmoteHandler) AddEmote(c *gin.Context) {
	packID, ok := pathUint64(c, "pack_id")
	if !ok {
		return
	}
	var req addEmoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}
	if err := h.emotes.AddEmote(c.Request.Context(), packID, req.ImageID, req.Name); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// ListEmotes handles GET /emote-packs/:pack_id/emotes.
func (h *EmoteHandler) ListEmotes(c *gin.Context) {
	packID, ok := pathUint64(c, "pack_id")
	if !ok {
		return
	}
	emotes, err := h.emotes.ListEmotes(c.Request.Context(), packID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, emotes)
}

// Equip handles POST /emote-packs/:pack_id/equip.
func (h *EmoteHandler) Equip(c *gin.Context) {
	packID, ok := pathUint64(c, "pack_id")
	if !ok {
		return
	}
	if err := h.emotes.Equip(c.Request.Context(), UserID(c), packID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Dequip handles POST /emote-packs/:pack_id/dequip.
func (h *EmoteHandler) Dequip(c *gin.Context) {
	packID, ok := pathUint64(c, "pack_id")
	if !ok {
		return
	}
	if err := h.emotes.Dequip(c.Request.Context(), UserID(c), packID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListEquipped handles GET /profile/equipped-packs.
func (h *EmoteHandler) ListEquipped(c *gin.Context) {
	packIDs, err := h.emotes.ListEquipped(c.Request.Context(), UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pack_ids": packIDs})
}

// ListEquippers handles GET /emote-packs/:pack_id/equippers — every local
// user with this pack equipped.
func (h *EmoteHandler) ListEquippers(c *gin.Context) {
	packID, ok := pathUint64(c, "pack_id")
	if !ok {
		return
	}
	allUserIDs, err := h.profiles.AllUserIDs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	equippers, err := h.emotes.ListEquippers(c.Request.Context(), packID, allUserIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_ids": equippers})
}

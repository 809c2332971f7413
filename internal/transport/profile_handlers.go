package transport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/models"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

type ProfileHandler struct {
	profiles *trees.ProfileTree
	logger   *zap.Logger
}

func NewProfileHandler(profiles *trees.ProfileTree, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, logger: logger}
}

// GetProfile handles GET /users/:user_id.
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	userID, ok := pathUint64(c, "user_id")
	if !ok {
		return
	}
	profile, err := h.profiles.GetProfile(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// GetOwnProfile handles GET /profile, the authenticated caller's own.
func (h *ProfileHandler) GetOwnProfile(c *gin.Context) {
	profile, err := h.profiles.GetProfile(c.Request.Context(), UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

type updateProfileRequest struct {
	Username  *string `json:"username"`
	AvatarURL *string `json:"avatar_url"`
	Status    *string `json:"status"`
	StatusMsg *string `json:"status_msg"`
}

var statusByName = map[string]models.UserStatus{
	"online":         models.UserStatusOnline,
	"idle":           models.UserStatusIdle,
	"do-not-disturb": models.UserStatusDoNotDisturb,
	"offline":        models.UserStatusOffline,
}

// UpdateProfile handles PATCH /profile.
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}

	patch := trees.ProfilePatch{
		Username:  req.Username,
		AvatarURL: req.AvatarURL,
		StatusMsg: req.StatusMsg,
	}
	if req.Status != nil {
		if status, ok := statusByName[*req.Status]; ok {
			patch.Status = &status
		} else {
			respondError(c, herror.ErrWrongFieldType)
			return
		}
	}

	profile, err := h.profiles.UpdateProfile(c.Request.Context(), UserID(c), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

package transport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/authflow"
	"github.com/lalith-99/harmonyhost/internal/herror"
)

// handshakeTimeout is spec.md §4.7's allowance for the first frame on a
// freshly-opened auth stream socket to name which auth id it resumes.
const handshakeTimeout = 5 * time.Second

type AuthHandler struct {
	flow   *authflow.Flow
	logger *zap.Logger
}

func NewAuthHandler(flow *authflow.Flow, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{flow: flow, logger: logger}
}

type beginAuthResponse struct {
	AuthID string   `json:"auth_id"`
	Step   wireStep `json:"step"`
}

// wireStep is the JSON projection of authflow.Step — kept separate so
// the internal stack representation can evolve without breaking the
// wire contract.
type wireStep struct {
	Kind      string             `json:"kind"`
	Choices   []string           `json:"choices,omitempty"`
	FormTitle string             `json:"form_title,omitempty"`
	Fields    []wireField        `json:"fields,omitempty"`
	Session   *wireSessionResult `json:"session,omitempty"`
	CanGoBack bool               `json:"can_go_back"`
}

type wireField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type wireSessionResult struct {
	UserID uint64 `json:"user_id"`
	Token  string `json:"session_token"`
}

var fieldTypeNames = map[authflow.FieldType]string{
	authflow.FieldEmail:       "email",
	authflow.FieldText:        "text",
	authflow.FieldPassword:    "password",
	authflow.FieldNewPassword: "new-password",
	authflow.FieldNumber:      "number",
}

func toWireStep(step authflow.Step) wireStep {
	w := wireStep{CanGoBack: step.CanGoBack}
	switch step.Kind {
	case authflow.StepChoice:
		w.Kind = "choice"
		w.Choices = step.Choice
	case authflow.StepForm:
		w.Kind = "form"
		w.FormTitle = step.FormTitle
		for _, f := range step.Fields {
			w.Fields = append(w.Fields, wireField{Name: f.Name, Type: fieldTypeNames[f.Type]})
		}
	case authflow.StepSessionResult:
		w.Kind = "session"
		w.Session = &wireSessionResult{UserID: step.Session.UserID, Token: step.Session.Token}
	}
	return w
}

// BeginAuth handles POST /auth, starting a fresh wizard.
func (h *AuthHandler) BeginAuth(c *gin.Context) {
	id, step, err := h.flow.BeginAuth()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, beginAuthResponse{AuthID: id, Step: toWireStep(step)})
}

type nextStepRequest struct {
	Choice string            `json:"choice"`
	Fields map[string]string `json:"fields"`
}

// NextStep handles POST /auth/:auth_id/step.
func (h *AuthHandler) NextStep(c *gin.Context) {
	authID := c.Param("auth_id")
	var req nextStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return
	}

	step, err := h.flow.NextStep(c.Request.Context(), authID, authflow.Reply{Choice: req.Choice, Fields: req.Fields})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWireStep(step))
}

// StepBack handles POST /auth/:auth_id/step/back.
func (h *AuthHandler) StepBack(c *gin.Context) {
	authID := c.Param("auth_id")
	step, err := h.flow.StepBack(authID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWireStep(step))
}

var authStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamSteps handles GET /auth/stream, a websocket a client opens
// before it knows its auth id: the first text frame it sends must name
// the auth id within handshakeTimeout, after which every subsequent step
// transition for that id is pushed down the same socket (spec.md §4.7).
func (h *AuthHandler) StreamSteps(c *gin.Context) {
	conn, err := authStreamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("authflow stream: upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}
	authID := string(raw)

	ch, err := h.flow.AttachStream(authID)
	if err != nil {
		conn.WriteJSON(gin.H{"error": herror.ErrBadSession.ID})
		return
	}
	conn.SetReadDeadline(time.Time{})

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case step, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(toWireStep(step)); err != nil {
				return
			}
		}
	}
}
